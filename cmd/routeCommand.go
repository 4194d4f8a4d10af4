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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eden-dev-inc/interlay/src/utils"
)

var interactiveRoute bool

var routeCmd = &cobra.Command{
	Use:   "route <interlay-name> [1|2]",
	Short: "Inspect or set which backend an interlay routes to",
	Long: `Without a backend argument, print the interlay's current route. With one,
switch every live connection of that interlay to the given backend. With
--interactive, read route commands from stdin ("route", "route 1", "route 2",
"quit") until EOF.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		client := newAPIClient()
		if interactiveRoute {
			runRouteLoop(client, name)
			return
		}
		var err error
		if len(args) == 2 {
			err = setRoute(client, name, args[1])
		} else {
			err = printRoute(client, name)
		}
		if err != nil {
			utils.ErrExit("error: %s\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
	registerCommonGlobalFlags(routeCmd)
	routeCmd.Flags().BoolVar(&interactiveRoute, "interactive", false,
		"read route commands from stdin")
}

type routeState struct {
	Interlay  string `json:"interlay"`
	Selection int    `json:"selection"`
	Previous  int    `json:"previous,omitempty"`
}

func printRoute(client *apiClient, name string) error {
	var state routeState
	if err := client.get(fmt.Sprintf("/interlays/%s/route", name), &state); err != nil {
		return fmt.Errorf("get route of %q: %w", name, err)
	}
	fmt.Printf("%s -> backend %d\n", state.Interlay, state.Selection)
	return nil
}

func setRoute(client *apiClient, name, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || (n != 1 && n != 2) {
		return fmt.Errorf("backend must be 1 or 2, got %q", arg)
	}
	var state routeState
	if err := client.post(fmt.Sprintf("/interlays/%s/route/%d", name, n), nil, &state); err != nil {
		return fmt.Errorf("switch %q to backend %d: %w", name, n, err)
	}
	if state.Previous == state.Selection {
		utils.PrintAndLog("%s already routed to backend %d", name, state.Selection)
	} else {
		utils.PrintAndLog("%s switched: backend %d -> backend %d", name, state.Previous, state.Selection)
	}
	return nil
}

func runRouteLoop(client *apiClient, name string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s> ", name)
		line, err := utils.Readline(reader)
		if err != nil { // EOF included
			return
		}
		fields := strings.Fields(line)
		switch {
		case len(fields) == 0:
			continue
		case fields[0] == "quit" || fields[0] == "exit":
			return
		case fields[0] == "route" && len(fields) == 1:
			err = printRoute(client, name)
		case fields[0] == "route" && len(fields) == 2:
			err = setRoute(client, name, fields[1])
		default:
			fmt.Println(`commands: "route", "route 1", "route 2", "quit"`)
		}
		if err != nil {
			fmt.Println(err)
		}
	}
}
