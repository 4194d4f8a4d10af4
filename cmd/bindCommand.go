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

var (
	bindInterlayID string
	bindAPIID      string
)

var bindCmd = &cobra.Command{
	Use:   "bind <migration-name>",
	Short: "Bind an API or interlay resource to a migration",
	Long: `Attach a resource to a migration. A resource can be bound to at most one
non-terminal migration at a time; binding the first resource moves the migration
from Pending to Ready.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bindResource(args[0])
	},
}

func init() {
	rootCmd.AddCommand(bindCmd)
	registerCommonGlobalFlags(bindCmd)
	bindCmd.Flags().StringVar(&bindInterlayID, "interlay", "", "name of the interlay to bind")
	bindCmd.Flags().StringVar(&bindAPIID, "api", "", "id of the API to bind")
}

func bindResource(name string) {
	if (bindInterlayID == "") == (bindAPIID == "") {
		utils.ErrExit(`ERROR: exactly one of "interlay" or "api" must be set`)
	}
	var path, resource string
	if bindInterlayID != "" {
		path = fmt.Sprintf("/migrations/%s/interlay/%s", name, bindInterlayID)
		resource = fmt.Sprintf("interlay %q", bindInterlayID)
	} else {
		path = fmt.Sprintf("/migrations/%s/api/%s", name, bindAPIID)
		resource = fmt.Sprintf("api %q", bindAPIID)
	}
	if err := newAPIClient().post(path, nil, nil); err != nil {
		utils.ErrExit("bind %s to migration %q: %v", resource, name, err)
	}
	utils.PrintAndLog("Bound %s to migration %q.", resource, name)
}
