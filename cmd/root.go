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
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eden-dev-inc/interlay/src/config"
	"github.com/eden-dev-inc/interlay/src/lockfile"
	"github.com/eden-dev-inc/interlay/src/utils"
)

var (
	cfgFile  string
	dataDir  string
	apiURL   string
	lockFile *lockfile.Lockfile
)

const DEFAULT_API_URL = "http://127.0.0.1:8650"

var rootCmd = &cobra.Command{
	Use:   "interlay",
	Short: "Zero-downtime migration orchestration and traffic routing engine",
	Long: `interlay moves production traffic from one backing data store to another with no downtime:
it proxies client connections to a selectable backend, replicates historical data in the
background, and shifts read/write traffic per a configurable strategy, with rollback on failure.

Run 'interlay serve' to host the engine; the other commands drive it over its control API.`,

	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if apiURL == "" {
			apiURL = viper.GetString("api-url")
		}
		if apiURL == "" {
			apiURL = DEFAULT_API_URL
		}
		if dataDir != "" && utils.FileOrFolderExists(dataDir) {
			if cmd.Name() == "serve" {
				lockDataDir(cmd)
			}
			InitLogging(dataDir, cmd.Name() == "status", cmd.Name())
		}
	},

	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			os.Exit(0)
		}
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if lockFile != nil {
			lockFile.Unlock()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.interlay.yaml)")
}

func registerCommonGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "",
		"data directory is the workspace used to keep the migration state, meta db and logs")

	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "",
		fmt.Sprintf("base URL of the control API of a running engine (default %q)", DEFAULT_API_URL))

	cmd.PersistentFlags().BoolVarP(&utils.DoNotPrompt, "yes", "y", false,
		"assume answer as yes for all questions (default false)")

	cmd.PersistentFlags().StringVar(&config.LogLevel, "log-level", "info",
		"log level for the log file (trace, debug, info, warn, error, fatal, panic)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".interlay")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func validateDataDirFlag() {
	if dataDir == "" {
		utils.ErrExit(`ERROR: required flag "data-dir" not set`)
	}
	if !utils.FileOrFolderExists(dataDir) {
		utils.ErrExit("data-dir %q doesn't exist.\n", dataDir)
	} else if dataDir == "." {
		fmt.Println("Note: Using current working directory as data directory")
	} else {
		dataDir = strings.TrimRight(dataDir, "/")
	}
}

func lockDataDir(cmd *cobra.Command) {
	lockFileName := fmt.Sprintf(".%sLockfile.lck", cmd.Name())
	lockFilePath, err := filepath.Abs(filepath.Join(dataDir, lockFileName))
	if err != nil {
		utils.ErrExit("Failed to get absolute path for lockfile %q: %v\n", lockFileName, err)
	}
	lockFile = lockfile.NewLockfile(lockFilePath)
	lockFile.Lock()
}
