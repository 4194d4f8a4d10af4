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

var rollbackCmd = &cobra.Command{
	Use:   "rollback <migration-name>",
	Short: "Roll a Running or Failed migration back to the original backend",
	Long: `Cancel any in-flight data movement, point every bound interlay back at the
original backend and end the migration RolledBack. Legal only while the
migration is Running or Failed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if !utils.AskPrompt("Roll back migration", name) {
			utils.ErrExit("Aborting.")
		}
		if err := newAPIClient().post(fmt.Sprintf("/migrations/%s/rollback", name), nil, nil); err != nil {
			utils.ErrExit("rollback %q: %v", name, err)
		}
		utils.PrintAndLog("Migration %q rolled back.", name)
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	registerCommonGlobalFlags(rollbackCmd)
}
