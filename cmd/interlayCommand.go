/*
Copyright (c) Eden Dev, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/eden-dev-inc/interlay/src/interlay"
	"github.com/eden-dev-inc/interlay/src/utils"
)

var (
	interlayPort        int
	interlayControlPort int
	interlayTLS         bool
	backend1Addr        string
	backend2Addr        string
)

var registerCmd = &cobra.Command{
	Use:   "register <interlay-name>",
	Short: "Register a traffic interlay with the engine",
	Long: `Register a named TCP proxy in front of a backend pair. The interlay starts
routing to backend 1; binding it to a migration lets the engine move its
traffic to backend 2 as the migration progresses.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if backend1Addr == "" || backend2Addr == "" {
			utils.ErrExit("both --backend1 and --backend2 are required")
		}
		body := map[string]any{
			"name":         name,
			"port":         interlayPort,
			"control_port": interlayControlPort,
			"tls":          interlayTLS,
			"migration_relay": &interlay.RelayPair{
				Backend1: backend1Addr,
				Backend2: backend2Addr,
			},
		}
		var created interlay.Interlay
		if err := newAPIClient().post("/interlays", body, &created); err != nil {
			utils.ErrExit("register interlay %q: %v", name, err)
		}
		utils.PrintAndLog("Interlay %q registered (%s -> %s).", created.Name, backend1Addr, backend2Addr)
	},
}

var listInterlaysCmd = &cobra.Command{
	Use:   "interlays",
	Short: "List registered interlays",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var interlays []*interlay.Interlay
		if err := newAPIClient().get("/interlays", &interlays); err != nil {
			utils.ErrExit("fetch interlays: %v", err)
		}
		if len(interlays) == 0 {
			fmt.Println("No interlays registered.")
			return
		}
		uiTable := uitable.New()
		headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
		uiTable.AddRow(headerfmt("INTERLAY"), headerfmt("PORT"), headerfmt("BACKEND 1"), headerfmt("BACKEND 2"), headerfmt("ENDPOINT"))
		for _, i := range interlays {
			b1, b2 := "-", "-"
			if i.Relay != nil {
				b1, b2 = i.Relay.Backend1, i.Relay.Backend2
			}
			endpoint := i.Endpoint
			if endpoint == "" {
				endpoint = "-"
			}
			uiTable.AddRow(i.Name, i.Port, b1, b2, endpoint)
		}
		fmt.Print("\n")
		fmt.Println(uiTable)
		fmt.Print("\n")
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(listInterlaysCmd)
	registerCommonGlobalFlags(registerCmd)
	registerCommonGlobalFlags(listInterlaysCmd)
	registerCmd.Flags().IntVar(&interlayPort, "port", 0,
		"port the interlay listens on (0 picks an ephemeral port)")
	registerCmd.Flags().IntVar(&interlayControlPort, "control-port", 0,
		"port of the interlay's own control surface (0 picks an ephemeral port)")
	registerCmd.Flags().BoolVar(&interlayTLS, "tls", false,
		"terminate TLS on the client leg")
	registerCmd.Flags().StringVar(&backend1Addr, "backend1", "",
		"host:port of backend 1 (the current system)")
	registerCmd.Flags().StringVar(&backend2Addr, "backend2", "",
		"host:port of backend 2 (the system being migrated to)")
}
