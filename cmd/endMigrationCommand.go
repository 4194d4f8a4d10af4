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
	"net/http"

	"github.com/spf13/cobra"

	"github.com/eden-dev-inc/interlay/src/utils"
)

var endMigrationCmd = &cobra.Command{
	Use:   "end <migration-name>",
	Short: "End a terminal migration and release its bindings",
	Long: `Remove a Completed, Failed or RolledBack migration from the engine: its record
and movement checkpoint are deleted and its bound resources become free for the
next migration. Non-terminal migrations must be rolled back or completed first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if !utils.AskPrompt("End migration", name, "and release its bindings") {
			utils.ErrExit("Aborting.")
		}
		if err := newAPIClient().do(http.MethodDelete, fmt.Sprintf("/migrations/%s", name), nil, nil); err != nil {
			utils.ErrExit("end migration %q: %v", name, err)
		}
		utils.PrintAndLog("Migration %q ended.", name)
	},
}

func init() {
	rootCmd.AddCommand(endMigrationCmd)
	registerCommonGlobalFlags(endMigrationCmd)
}
