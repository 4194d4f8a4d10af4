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
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/eden-dev-inc/interlay/src/lockfile"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status [migration-name]",
	Short: "Print status of the engine and its migrations",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reportEngineStatus()
		var err error
		if len(args) == 1 {
			err = runMigrationStatus(args[0])
		} else {
			err = runStatusTable()
		}
		if err != nil {
			utils.ErrExit("error: %s\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	registerCommonGlobalFlags(statusCmd)
}

// reportEngineStatus checks the serve lockfile for a live PID. The status
// command runs in a separate process from `interlay serve`, so the lockfile
// is the only local signal that the engine is up.
func reportEngineStatus() {
	if dataDir == "" {
		return
	}
	serveLock := lockfile.NewLockfile(filepath.Join(dataDir, ".serveLockfile.lck"))
	if serveLock.IsPIDActive() {
		pid, _ := serveLock.GetCmdPID()
		fmt.Printf("Engine: %s (pid %d)\n", color.GreenString("RUNNING"), pid)
	} else {
		fmt.Printf("Engine: %s\n", color.RedString("STOPPED"))
	}
}

func runStatusTable() error {
	var records []*migration.Record
	if err := newAPIClient().get("/migrations", &records); err != nil {
		return fmt.Errorf("fetch migrations: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No migrations registered.")
		return nil
	}

	uiTable := uitable.New()
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	uiTable.AddRow(headerfmt("MIGRATION"), headerfmt("STATUS"), headerfmt("STRATEGY"), headerfmt("MOVEMENT"), headerfmt("BINDINGS"), headerfmt("UPDATED"))
	for _, rec := range records {
		uiTable.AddRow(rec.Name, string(rec.Status), string(rec.Strategy.Type()),
			string(rec.DataMovement.Type), bindingSummary(rec), humanize.Time(rec.UpdatedAt))
	}
	fmt.Print("\n")
	fmt.Println(uiTable)
	fmt.Print("\n")
	return nil
}

func runMigrationStatus(name string) error {
	client := newAPIClient()
	var rec migration.Record
	if err := client.get(fmt.Sprintf("/migrations/%s", name), &rec); err != nil {
		return fmt.Errorf("fetch migration %q: %w", name, err)
	}

	uiTable := uitable.New()
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	uiTable.AddRow(headerfmt("FIELD"), headerfmt("VALUE"))
	uiTable.AddRow("Name", rec.Name)
	uiTable.AddRow("UUID", rec.UUID)
	uiTable.AddRow("Status", string(rec.Status))
	uiTable.AddRow("Strategy", string(rec.Strategy.Type()))
	uiTable.AddRow("Movement", string(rec.DataMovement.Type))
	uiTable.AddRow("On failure", string(rec.FailureHandling.Type))
	uiTable.AddRow("Bindings", bindingSummary(&rec))
	if rec.LastError != "" {
		uiTable.AddRow("Last error", color.RedString(rec.LastError))
	}
	uiTable.AddRow("Created", humanize.Time(rec.CreatedAt))
	uiTable.AddRow("Updated", humanize.Time(rec.UpdatedAt))

	var progress struct {
		Status       string `json:"status"`
		Cursor       string `json:"cursor"`
		RecordsMoved int64  `json:"records_moved"`
	}
	if err := client.get(fmt.Sprintf("/migrations/%s/progress", name), &progress); err == nil {
		uiTable.AddRow("Records moved", humanize.Comma(progress.RecordsMoved))
		if progress.Status != "" {
			uiTable.AddRow("Movement state", progress.Status)
		}
	}

	fmt.Print("\n")
	fmt.Println(uiTable)
	fmt.Print("\n")
	return nil
}

func bindingSummary(rec *migration.Record) string {
	if len(rec.Bindings) == 0 {
		return "-"
	}
	parts := lo.Map(rec.Bindings, func(b migration.Binding, _ int) string {
		s := fmt.Sprintf("%s:%s", b.Kind, b.ID)
		if b.Failed {
			s += " (failed)"
		}
		return s
	})
	return strings.Join(parts, ", ")
}
