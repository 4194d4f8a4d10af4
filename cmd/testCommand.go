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
	"github.com/spf13/cobra"

	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/utils"
)

var testCmd = &cobra.Command{
	Use:   "test <migration-name>",
	Short: "Dry-run a migration's configuration",
	Long: `Validate a migration's strategy parameters, data movement and bindings without
mutating any state. Reports every problem found; a migration with problems will
refuse to run.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		testMigration(args[0])
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
	registerCommonGlobalFlags(testCmd)
}

func testMigration(name string) {
	var report migration.ValidationReport
	if err := newAPIClient().post(fmt.Sprintf("/migrations/%s/test", name), nil, &report); err != nil {
		utils.ErrExit("test migration %q: %v", name, err)
	}
	if report.OK() {
		color.Green("Migration %q is valid and ready to run.", name)
		return
	}
	color.Red("Migration %q has %d problem(s):", name, len(report.Problems))
	for _, p := range report.Problems {
		fmt.Printf("  - %s\n", p)
	}
}
