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
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	uatomic "go.uber.org/atomic"
)

const DEFAULT_HANDOFF_GRACE = 5 * time.Second

// Relay is the live traffic proxy for one interlay. Every client
// connection gets its own handler relaying bytes to the selected
// backend. The selection is a single atomic cell read on the hot path;
// a switch swaps the cell and closes the broadcast channel so each
// handler re-dials the new backend on its own, keeping the client side
// of the connection open throughout.
type Relay struct {
	interlay     *Interlay
	selection    *uatomic.Int32
	shadow       *uatomic.Bool
	handoffGrace time.Duration
	tlsConfig    *tls.Config

	mu       sync.Mutex
	switchCh chan struct{}

	listener net.Listener
	closed   *uatomic.Bool
	wg       sync.WaitGroup
}

func NewRelay(i *Interlay) *Relay {
	return &Relay{
		interlay:     i,
		selection:    uatomic.NewInt32(i.initialSelection()),
		shadow:       uatomic.NewBool(false),
		handoffGrace: DEFAULT_HANDOFF_GRACE,
		switchCh:     make(chan struct{}),
		closed:       uatomic.NewBool(false),
	}
}

// SetTLSConfig arms TLS termination on the listen side. Must be called
// before Start.
func (r *Relay) SetTLSConfig(cfg *tls.Config) {
	r.tlsConfig = cfg
}

// Start binds the listen port and begins accepting clients. Port 0
// binds an ephemeral port, readable afterwards through Addr.
func (r *Relay) Start() error {
	if err := r.interlay.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", r.interlay.Port))
	if err != nil {
		return fmt.Errorf("listen for interlay %q on port %d: %w", r.interlay.Name, r.interlay.Port, err)
	}
	if r.interlay.TLS {
		if r.tlsConfig == nil {
			ln.Close()
			return fmt.Errorf("interlay %q requires tls but no certificate is configured", r.interlay.Name)
		}
		ln = tls.NewListener(ln, r.tlsConfig)
	}
	r.listener = ln
	log.Infof("interlay %q listening on %s (backend %d)", r.interlay.Name, ln.Addr(), r.selection.Load())

	r.wg.Add(1)
	go r.acceptLoop()
	return nil
}

func (r *Relay) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if !r.closed.Load() {
				log.Errorf("interlay %q accept: %v", r.interlay.Name, err)
			}
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			h := &connHandler{relay: r, client: conn}
			h.run()
		}()
	}
}

func (r *Relay) Name() string {
	return r.interlay.Name
}

// Addr reports the bound listen address, empty before Start.
func (r *Relay) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Selection reports the currently routed backend, 1 or 2.
func (r *Relay) Selection() int {
	return int(r.selection.Load())
}

// Switch atomically repoints the relay at backend n and notifies every
// live handler to re-dial. Returns the previous selection. Idempotent
// when n is already selected.
func (r *Relay) Switch(n int) (int, error) {
	if _, err := r.interlay.backendAddr(n); err != nil {
		return 0, err
	}
	r.mu.Lock()
	prev := int(r.selection.Swap(int32(n)))
	if prev != n {
		close(r.switchCh)
		r.switchCh = make(chan struct{})
	}
	r.mu.Unlock()
	if prev != n {
		log.Infof("interlay %q switched backend %d -> %d", r.interlay.Name, prev, n)
	}
	return prev, nil
}

// SetShadow toggles shadow traffic: while on, every handler copies
// client bytes to backend 2 best effort, responses discarded.
func (r *Relay) SetShadow(on bool) {
	r.shadow.Store(on)
}

// switchSignal returns the channel closed by the next Switch.
func (r *Relay) switchSignal() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.switchCh
}

func (r *Relay) currentBackendAddr() (string, error) {
	return r.interlay.backendAddr(int(r.selection.Load()))
}

// Close stops accepting and waits for in-flight handlers to drain.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if r.listener != nil {
		err = r.listener.Close()
	}
	// wake handlers so they notice the relay is gone
	r.mu.Lock()
	close(r.switchCh)
	r.switchCh = make(chan struct{})
	r.mu.Unlock()
	r.wg.Wait()
	return err
}

// connHandler relays one client connection. Client reads run in the
// handler goroutine for the lifetime of the connection; each backend
// connection gets its own pump goroutine for the return direction. A
// handoff dials the new backend first, installs it, then closes the
// old one, so client bytes are never written into a void.
type connHandler struct {
	relay  *Relay
	client net.Conn

	mu      sync.Mutex
	backend net.Conn
	gen     int

	shadowConn net.Conn
}

func (h *connHandler) run() {
	defer h.client.Close()
	setNoDelay(h.client)

	if err := h.reconnect(); err != nil {
		log.Errorf("interlay %q: %v", h.relay.Name(), err)
		return
	}
	defer h.closeBackend()

	stop := make(chan struct{})
	defer close(stop)
	go h.watchSwitches(stop)

	buf := make([]byte, 32*1024)
	for {
		n, err := h.client.Read(buf)
		if n > 0 {
			if werr := h.write(buf[:n]); werr != nil {
				log.Errorf("interlay %q forward to backend: %v", h.relay.Name(), werr)
				return
			}
			if h.relay.shadow.Load() {
				h.shadowWrite(buf[:n])
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debugf("interlay %q client read: %v", h.relay.Name(), err)
			}
			return
		}
	}
}

// write sends client bytes to the current backend. A write can race a
// handoff and land on the just-closed connection; when the generation
// moved underneath us the write is retried once against the new one.
func (h *connHandler) write(p []byte) error {
	for attempt := 0; ; attempt++ {
		h.mu.Lock()
		conn, gen := h.backend, h.gen
		h.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("no backend connection")
		}
		_, err := conn.Write(p)
		if err == nil {
			return nil
		}
		h.mu.Lock()
		moved := h.gen != gen
		h.mu.Unlock()
		if !moved || attempt > 0 {
			return err
		}
	}
}

// shadowWrite mirrors client bytes to backend 2. Strictly best effort:
// the connection is dialed lazily, responses are discarded and any
// error is logged, dropped and never surfaced to the client.
func (h *connHandler) shadowWrite(p []byte) {
	if h.shadowConn == nil {
		addr, err := h.relay.interlay.backendAddr(2)
		if err != nil {
			log.Debugf("interlay %q shadow: %v", h.relay.Name(), err)
			return
		}
		conn, err := net.DialTimeout("tcp", addr, h.relay.handoffGrace)
		if err != nil {
			log.Warnf("interlay %q shadow connect to %s: %v", h.relay.Name(), addr, err)
			return
		}
		setNoDelay(conn)
		go func() { io.Copy(io.Discard, conn) }()
		h.shadowConn = conn
	}
	if _, err := h.shadowConn.Write(p); err != nil {
		log.Warnf("interlay %q shadow write: %v", h.relay.Name(), err)
		h.shadowConn.Close()
		h.shadowConn = nil
	}
}

func (h *connHandler) watchSwitches(stop <-chan struct{}) {
	for {
		signal := h.relay.switchSignal()
		select {
		case <-stop:
			return
		case <-signal:
			if h.relay.closed.Load() {
				h.client.Close()
				return
			}
			if err := h.reconnect(); err != nil {
				// handoff failed within the grace period; tearing the
				// client down beats relaying stale data
				log.Errorf("interlay %q handoff: %v", h.relay.Name(), err)
				h.client.Close()
				return
			}
		}
	}
}

// reconnect dials the currently selected backend and swaps it in. The
// dial is bounded by the handoff grace period.
func (h *connHandler) reconnect() error {
	addr, err := h.relay.currentBackendAddr()
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout("tcp", addr, h.relay.handoffGrace)
	if err != nil {
		return fmt.Errorf("connect to backend %d at %s: %w", h.relay.Selection(), addr, err)
	}
	setNoDelay(conn)

	h.mu.Lock()
	old := h.backend
	h.backend = conn
	h.gen++
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go h.pump(conn)
	return nil
}

// pump copies backend bytes to the client until the backend connection
// dies. A handoff closes the old backend, ending its pump; the new
// connection brings its own. Only when the dying connection is still
// the current one does the handler treat it as a backend failure and
// drop the client.
func (h *connHandler) pump(backend net.Conn) {
	_, err := io.Copy(h.client, backend)

	h.mu.Lock()
	current := h.backend == backend
	h.mu.Unlock()
	if current {
		if err != nil {
			log.Debugf("interlay %q backend read: %v", h.relay.Name(), err)
		}
		h.client.Close()
	}
}

func (h *connHandler) closeBackend() {
	h.mu.Lock()
	conn := h.backend
	h.backend = nil
	h.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if h.shadowConn != nil {
		h.shadowConn.Close()
		h.shadowConn = nil
	}
}

// setNoDelay disables send coalescing on the TCP leg; relays sit on the
// request path and must not add Nagle latency.
func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
}
