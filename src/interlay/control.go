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
package interlay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RouteState is the control surface's view of a relay.
type RouteState struct {
	Interlay  string `json:"interlay"`
	Selection int    `json:"selection"`
	Previous  int    `json:"previous,omitempty"`
}

// ControlServer is the per-interlay diagnostic surface. It talks to the
// relay directly so an operator can read or force the route even when
// the orchestrator is down.
type ControlServer struct {
	relay    *Relay
	listener net.Listener
	srv      *http.Server
}

func NewControlServer(relay *Relay) *ControlServer {
	return &ControlServer{relay: relay}
}

// RegisterRoutes mounts the control endpoints on router.
func (c *ControlServer) RegisterRoutes(router gin.IRoutes) {
	router.GET("/route", c.getRoute)
	router.POST("/route/:n", c.setRoute)
}

func (c *ControlServer) getRoute(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, RouteState{
		Interlay:  c.relay.Name(),
		Selection: c.relay.Selection(),
	})
}

func (c *ControlServer) setRoute(ctx *gin.Context) {
	n, err := strconv.Atoi(ctx.Param("n"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("backend selection %q must be 1 or 2", ctx.Param("n"))})
		return
	}
	prev, err := c.relay.Switch(n)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, RouteState{
		Interlay:  c.relay.Name(),
		Selection: n,
		Previous:  prev,
	})
}

// Start serves the control endpoints on port. Port 0 binds an
// ephemeral port, readable through Addr.
func (c *ControlServer) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen for interlay %q control surface on port %d: %w", c.relay.Name(), port, err)
	}
	c.listener = ln

	engine := gin.New()
	engine.Use(gin.Recovery())
	c.RegisterRoutes(engine)
	c.srv = &http.Server{Handler: engine}

	log.Infof("interlay %q control surface on %s", c.relay.Name(), ln.Addr())
	go func() {
		if err := c.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("interlay %q control surface: %v", c.relay.Name(), err)
		}
	}()
	return nil
}

func (c *ControlServer) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *ControlServer) Close() error {
	if c.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.srv.Shutdown(ctx)
}
