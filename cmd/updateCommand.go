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

	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/utils"
)

var updateCmd = &cobra.Command{
	Use:   "update <migration-name>",
	Short: "Apply live strategy parameter changes",
	Long: `Update a migration's strategy parameters. The strategy type can never change.
While Running only live-updatable strategies (canary percentage, rollout
percentage, feature/region flags) accept changes; one-shot strategies reject them.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		updateStrategy(args[0])
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	registerCommonGlobalFlags(updateCmd)
	updateCmd.Flags().StringVar(&strategyJSON, "strategy", "", "new strategy parameters as JSON")
	updateCmd.Flags().StringVar(&strategyFilePath, "strategy-file", "", "path of a file holding the strategy JSON")
}

func updateStrategy(name string) {
	spec := loadStrategySpec()
	var rec migration.Record
	err := newAPIClient().do(http.MethodPatch, fmt.Sprintf("/migrations/%s", name),
		map[string]any{"strategy": spec}, &rec)
	if err != nil {
		utils.ErrExit("update strategy of %q: %v", name, err)
	}
	utils.PrintAndLog("Updated strategy of migration %q.", name)
}
