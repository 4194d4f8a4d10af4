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
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/strategy"
	"github.com/eden-dev-inc/interlay/src/utils"
)

var (
	strategyJSON     string
	strategyFilePath string
	movementType     string
	replacePolicy    string
	movementSource   string
	movementTarget   string
	failureType      string
	retryCount       int
)

var createCmd = &cobra.Command{
	Use:   "create <migration-name>",
	Short: "Create a new migration",
	Long: `Create a migration with a routing strategy, a data movement mode and a failure
handling policy. The strategy is given as the JSON form of one of the nine variants, e.g.

  interlay create orders --strategy '{"type":"canary","read_percentage":0.25,"write_mode":{"type":"dual_write","policy":"old_authoritative"}}'`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		createMigration(args[0])
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	registerCommonGlobalFlags(createCmd)
	createCmd.Flags().StringVar(&strategyJSON, "strategy", "", "strategy as JSON")
	createCmd.Flags().StringVar(&strategyFilePath, "strategy-file", "", "path of a file holding the strategy JSON")
	createCmd.Flags().StringVar(&movementType, "movement", "none", "data movement mode (none, snapshot, scan)")
	createCmd.Flags().StringVar(&replacePolicy, "replace", "none", "replace policy for moved records (none, replace, merge)")
	createCmd.Flags().StringVar(&movementSource, "source", "", "source store name (engine default when unset)")
	createCmd.Flags().StringVar(&movementTarget, "target", "", "target store name (engine default when unset)")
	createCmd.Flags().StringVar(&failureType, "on-failure", "rollback_all", "failure handling (rollback_all, allow_partial, retry_then_all)")
	createCmd.Flags().IntVar(&retryCount, "retry-count", 0, "retries before rollback under retry_then_all")
}

func loadStrategySpec() strategy.Spec {
	raw := strategyJSON
	if raw == "" && strategyFilePath != "" {
		data, err := os.ReadFile(strategyFilePath)
		if err != nil {
			utils.ErrExit("read strategy file: %v", err)
		}
		raw = string(data)
	}
	if raw == "" {
		utils.ErrExit(`ERROR: one of "strategy" or "strategy-file" must be set`)
	}
	var spec strategy.Spec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		utils.ErrExit("parse strategy: %v", err)
	}
	return spec
}

func createMigration(name string) {
	spec := loadStrategySpec()
	req := map[string]any{
		"name":     name,
		"strategy": spec,
		"data_movement": migration.DataMovement{
			Type:    migration.DataMovementType(movementType),
			Replace: migration.ReplacePolicy(replacePolicy),
			Source:  movementSource,
			Target:  movementTarget,
		},
		"failure_handling": migration.FailureHandling{
			Type:       migration.FailureHandlingType(failureType),
			RetryCount: retryCount,
		},
	}
	var rec migration.Record
	if err := newAPIClient().post("/migrations", req, &rec); err != nil {
		utils.ErrExit("create migration %q: %v", name, err)
	}
	utils.PrintAndLog("Created migration %q (%s) with strategy %s.", rec.Name, rec.UUID, rec.Strategy.Type())
}
