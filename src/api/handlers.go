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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eden-dev-inc/interlay/src/interlay"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/recovery"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

type createMigrationRequest struct {
	Name            string                    `json:"name" binding:"required"`
	Strategy        strategy.Spec             `json:"strategy"`
	DataMovement    migration.DataMovement    `json:"data_movement"`
	FailureHandling migration.FailureHandling `json:"failure_handling"`
}

func (s *Server) createMigration(ctx *gin.Context) {
	var req createMigrationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.svc.Create(req.Name, req.Strategy, req.DataMovement, req.FailureHandling)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, rec)
}

func (s *Server) listMigrations(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.svc.List())
}

func (s *Server) getMigration(ctx *gin.Context) {
	rec, err := s.svc.Get(ctx.Param("id"))
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, rec)
}

func (s *Server) bindAPI(ctx *gin.Context) {
	s.bind(ctx, migration.BindingAPI, ctx.Param("api_id"))
}

func (s *Server) bindInterlay(ctx *gin.Context) {
	id := ctx.Param("interlay_id")
	if s.interlays != nil {
		if _, err := s.interlays.Get(id); err != nil {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}
	s.bind(ctx, migration.BindingInterlay, id)
}

func (s *Server) bind(ctx *gin.Context, kind migration.BindingKind, resourceID string) {
	if err := s.svc.Bind(ctx.Param("id"), kind, resourceID); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (s *Server) testMigration(ctx *gin.Context) {
	report, err := s.svc.Test(ctx.Param("id"))
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, report)
}

func (s *Server) migrate(ctx *gin.Context) {
	if err := s.svc.Migrate(ctx.Param("id")); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

type updateStrategyRequest struct {
	Strategy strategy.Spec `json:"strategy"`
}

func (s *Server) updateStrategy(ctx *gin.Context) {
	var req updateStrategyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.UpdateStrategy(ctx.Param("id"), req.Strategy); err != nil {
		abortWith(ctx, err)
		return
	}
	rec, err := s.svc.Get(ctx.Param("id"))
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, rec)
}

func (s *Server) pauseMigration(ctx *gin.Context) {
	if err := s.svc.Pause(ctx.Param("id")); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (s *Server) resumeMigration(ctx *gin.Context) {
	if err := s.svc.Resume(ctx.Param("id")); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (s *Server) rollback(ctx *gin.Context) {
	if err := s.svc.Rollback(ctx.Param("id")); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (s *Server) endMigration(ctx *gin.Context) {
	if err := s.svc.End(ctx.Param("id")); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (s *Server) movementProgress(ctx *gin.Context) {
	rec, err := s.svc.Get(ctx.Param("id"))
	if err != nil {
		abortWith(ctx, err)
		return
	}
	cp, err := s.mover.Progress(rec.UUID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cp == nil {
		ctx.JSON(http.StatusOK, gin.H{"migration": rec.Name, "records_moved": 0})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"migration":     rec.Name,
		"status":        cp.Status,
		"cursor":        cp.Cursor,
		"records_moved": cp.RecordsMoved,
	})
}

// dualWriterFor builds the request-path executor over the migration's
// backend pair.
func (s *Server) dualWriterFor(rec *migration.Record) (*recovery.DualWriter, error) {
	source, target, _, err := s.resolver.Resolve(rec)
	if err != nil {
		return nil, err
	}
	return recovery.NewDualWriter(source, target), nil
}

func writePolicyOf(spec strategy.Spec) strategy.DualWritePolicy {
	if c, ok := spec.Strategy.(*strategy.Canary); ok && c.WriteMode != nil && c.WriteMode.Policy != "" {
		return c.WriteMode.Policy
	}
	return strategy.OldAuthoritative
}

func (s *Server) readThrough(ctx *gin.Context) {
	rec, err := s.svc.Get(ctx.Param("id"))
	if err != nil {
		abortWith(ctx, err)
		return
	}
	w, err := s.dualWriterFor(rec)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	key := ctx.Query("key")
	dec := rec.Strategy.Strategy.DecideRead(strategy.Request{Key: key, Region: ctx.Query("region")})
	value, found, err := w.Read(ctx.Request.Context(), dec, key)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, gin.H{"key": key, "backend": dec.Backend.String()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"key":     key,
		"value":   string(value),
		"backend": dec.Backend.String(),
		"reason":  dec.Reason,
	})
}

type writeRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

func (s *Server) writeThrough(ctx *gin.Context) {
	var req writeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.svc.Get(ctx.Param("id"))
	if err != nil {
		abortWith(ctx, err)
		return
	}
	w, err := s.dualWriterFor(rec)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	dec := rec.Strategy.Strategy.DecideWrite(strategy.Request{Key: req.Key})
	if err := w.Write(ctx.Request.Context(), dec, writePolicyOf(rec.Strategy), req.Key, []byte(req.Value)); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"key":     req.Key,
		"backend": dec.Backend.String(),
		"reason":  dec.Reason,
	})
}

type registerInterlayRequest struct {
	Name        string              `json:"name" binding:"required"`
	Port        int                 `json:"port"`
	ControlPort int                 `json:"control_port"`
	TLS         bool                `json:"tls"`
	Endpoint    string              `json:"endpoint"`
	Relay       *interlay.RelayPair `json:"migration_relay"`
}

func (s *Server) registerInterlay(ctx *gin.Context) {
	var req registerInterlayRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	i := &interlay.Interlay{
		Name:        req.Name,
		Port:        req.Port,
		ControlPort: req.ControlPort,
		TLS:         req.TLS,
		Endpoint:    req.Endpoint,
		Relay:       req.Relay,
	}
	if err := s.interlays.Register(i); err != nil {
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, i)
}

func (s *Server) listInterlays(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.interlays.List())
}

func (s *Server) getRoute(ctx *gin.Context) {
	r, err := s.interlays.Relay(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, interlay.RouteState{Interlay: r.Name(), Selection: r.Selection()})
}

func (s *Server) setRoute(ctx *gin.Context) {
	r, err := s.interlays.Relay(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	n, err := strconv.Atoi(ctx.Param("n"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "backend selection must be 1 or 2"})
		return
	}
	prev, err := r.Switch(n)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, interlay.RouteState{Interlay: r.Name(), Selection: n, Previous: prev})
}
