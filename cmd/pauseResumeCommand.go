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

var pauseCmd = &cobra.Command{
	Use:   "pause <migration-name>",
	Short: "Pause a Running migration",
	Long: `Pause a Running migration at the next safe boundary. Only strategies that
support pausing (time_window, rolling_update) accept this; the movement job
stops at its next checkpoint.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if err := newAPIClient().post(fmt.Sprintf("/migrations/%s/pause", name), nil, nil); err != nil {
			utils.ErrExit("pause %q: %v", name, err)
		}
		utils.PrintAndLog("Migration %q paused.", name)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <migration-name>",
	Short: "Resume a Paused migration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if err := newAPIClient().post(fmt.Sprintf("/migrations/%s/resume", name), nil, nil); err != nil {
			utils.ErrExit("resume %q: %v", name, err)
		}
		utils.PrintAndLog("Migration %q resumed.", name)
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	registerCommonGlobalFlags(pauseCmd)
	registerCommonGlobalFlags(resumeCmd)
}
