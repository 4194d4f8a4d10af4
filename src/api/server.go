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
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/eden-dev-inc/interlay/src/errs"
	"github.com/eden-dev-inc/interlay/src/interlay"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/movement"
)

// Server is the orchestrator's control API. Migrations are addressed
// by name; interlay-level route overrides are also reachable here so
// one port covers the whole control surface.
type Server struct {
	engine    *gin.Engine
	svc       *migration.Service
	interlays *interlay.Manager
	mover     *movement.Coordinator
	resolver  movement.BackendResolver

	srv *http.Server
}

func NewServer(svc *migration.Service, interlays *interlay.Manager, mover *movement.Coordinator, resolver movement.BackendResolver) *Server {
	s := &Server{
		engine:    gin.New(),
		svc:       svc,
		interlays: interlays,
		mover:     mover,
		resolver:  resolver,
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.POST("/migrations", s.createMigration)
	r.GET("/migrations", s.listMigrations)
	r.GET("/migrations/:id", s.getMigration)
	r.POST("/migrations/:id/api/:api_id", s.bindAPI)
	r.POST("/migrations/:id/interlay/:interlay_id", s.bindInterlay)
	r.POST("/migrations/:id/test", s.testMigration)
	r.POST("/migrations/:id/migrate", s.migrate)
	r.PATCH("/migrations/:id", s.updateStrategy)
	r.POST("/migrations/:id/pause", s.pauseMigration)
	r.POST("/migrations/:id/resume", s.resumeMigration)
	r.POST("/migrations/:id/rollback", s.rollback)
	r.DELETE("/migrations/:id", s.endMigration)
	r.GET("/migrations/:id/progress", s.movementProgress)
	r.GET("/migrations/:id/read", s.readThrough)
	r.POST("/migrations/:id/write", s.writeThrough)

	r.POST("/interlays", s.registerInterlay)
	r.GET("/interlays", s.listInterlays)
	r.GET("/interlays/:id/route", s.getRoute)
	r.POST("/interlays/:id/route/:n", s.setRoute)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Serve blocks serving the control API on addr.
func (s *Server) Serve(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	log.Infof("control api listening on %s", addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// statusOf maps structured error kinds onto HTTP statuses.
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindAlreadyExists, errs.KindDuplicateBinding, errs.KindInvalidState, errs.KindConflict:
		return http.StatusConflict
	case errs.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(ctx *gin.Context, err error) {
	ctx.JSON(statusOf(err), gin.H{"error": err.Error(), "kind": string(errs.KindOf(err))})
}
