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

	"github.com/spf13/cobra"

	"github.com/eden-dev-inc/interlay/src/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <migration-name>",
	Short: "Start a Ready migration",
	Long: `Transition a migration from Ready to Running: activate strategy-driven routing
for its bound interlays and start the data movement job if one is configured.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if err := newAPIClient().post(fmt.Sprintf("/migrations/%s/migrate", name), nil, nil); err != nil {
			utils.ErrExit("migrate %q: %v", name, err)
		}
		utils.PrintAndLog("Migration %q is running.", name)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	registerCommonGlobalFlags(migrateCmd)
}
