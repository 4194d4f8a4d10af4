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
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tebeka/atexit"

	"github.com/eden-dev-inc/interlay/src/api"
	"github.com/eden-dev-inc/interlay/src/backend"
	"github.com/eden-dev-inc/interlay/src/config"
	"github.com/eden-dev-inc/interlay/src/interlay"
	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/movement"
	"github.com/eden-dev-inc/interlay/src/recovery"
	"github.com/eden-dev-inc/interlay/src/utils"
)

const (
	DEFAULT_LISTEN_ADDR       = ":8650"
	DEFAULT_MOVEMENT_WORKERS  = 4
	DEFAULT_TIME_WINDOW_CHECK = 30 * time.Second
)

var (
	listenAddr      string
	movementWorkers int
	handoffGrace    time.Duration
	sourceStoreName string
	targetStoreName string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the migration engine and its control API",
	Long: `Start the engine: load migrations and interlays from the meta DB under the
data directory, resume any in-flight data movement, and serve the control API
that the other commands talk to. Only one serve process may hold a data
directory at a time.`,
	Run: func(cmd *cobra.Command, args []string) {
		validateDataDirFlag()
		err := runServe()
		if err != nil {
			utils.ErrExit("error: %s\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	registerCommonGlobalFlags(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", DEFAULT_LISTEN_ADDR,
		"address for the control API to listen on")
	serveCmd.Flags().IntVar(&movementWorkers, "movement-workers", DEFAULT_MOVEMENT_WORKERS,
		"number of concurrent data movement jobs")
	serveCmd.Flags().DurationVar(&handoffGrace, "handoff-grace", 0,
		"how long a live connection may wait for its new backend during a switch (0 = engine default)")
	serveCmd.Flags().StringVar(&sourceStoreName, "source-store", "old",
		"name of the default source data store")
	serveCmd.Flags().StringVar(&targetStoreName, "target-store", "new",
		"name of the default target data store")
}

func runServe() error {
	err := metadb.CreateAndInitMetaDBIfRequired(dataDir)
	if err != nil {
		utils.ErrExit("could not create meta db: %v", err)
	}
	metaDB, err := metadb.NewMetaDB(dataDir)
	if err != nil {
		utils.ErrExit("could not open meta db: %v", err)
	}
	atexit.Register(func() { metaDB.Close() })

	svc, err := migration.NewService(metaDB)
	if err != nil {
		utils.ErrExit("load migrations: %v", err)
	}

	registry := backend.NewRegistry()
	for _, name := range backendStoreNames() {
		if err := registry.Add(backend.NewMemStore(name)); err != nil {
			utils.ErrExit("register backend store %q: %v", name, err)
		}
	}
	resolver := movement.NewStoreResolver(registry, sourceStoreName, targetStoreName)
	log.Infof("backend stores: %v (default source %q, target %q)", registry.Names(), sourceStoreName, targetStoreName)

	coordinator := movement.NewCoordinator(metaDB, resolver, movementWorkers)

	interlays, err := interlay.NewManager(metaDB)
	if err != nil {
		utils.ErrExit("load interlays: %v", err)
	}
	if handoffGrace > 0 {
		interlays.SetHandoffGrace(handoffGrace)
	}
	atexit.Register(interlays.Close)

	if !config.IsLogLevelDebugOrBelow() {
		gin.SetMode(gin.ReleaseMode)
	}

	svc.Wire(coordinator, interlays)
	handler := recovery.NewHandler(svc, coordinator)
	coordinator.SetReporter(handler)
	coordinator.ResumeOutstanding(svc.List())

	stopWindows := startTimeWindowChecker(svc)
	atexit.Register(stopWindows)

	server := api.NewServer(svc, interlays, coordinator, resolver)
	atexit.Register(func() { server.Shutdown() })

	utils.PrintAndLog("Engine listening on %s (data dir %q)", listenAddr, dataDir)
	return server.Serve(listenAddr)
}

// backendStoreNames collects the store names the engine should offer:
// the defaults plus any extra names from the config file.
func backendStoreNames() []string {
	names := []string{sourceStoreName}
	if targetStoreName != sourceStoreName {
		names = append(names, targetStoreName)
	}
	for _, extra := range viper.GetStringSlice("backend-stores") {
		if extra != sourceStoreName && extra != targetStoreName {
			names = append(names, extra)
		}
	}
	return names
}

// startTimeWindowChecker periodically fires time_window strategies whose
// window has opened. Returns a func that stops the ticker.
func startTimeWindowChecker(svc *migration.Service) func() {
	ticker := time.NewTicker(DEFAULT_TIME_WINDOW_CHECK)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case now := <-ticker.C:
				svc.CheckTimeWindows(now)
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		log.Info("time window checker stopped")
	}
}
