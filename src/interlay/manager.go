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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

const INTERLAY_KEY_PREFIX = "interlay_"

// Manager owns every interlay's relay and is the traffic proxy side of
// the state machine: activating strategy-driven routing for a
// migration's bound interlays and performing the interlay-level
// switches. Interlay definitions are persisted in the meta DB and
// reloaded on restart.
type Manager struct {
	metaDB       *metadb.MetaDB
	handoffGrace time.Duration
	tlsConfig    *tls.Config

	mu        sync.RWMutex
	interlays map[string]*Interlay
	relays    map[string]*Relay
	controls  map[string]*ControlServer
	active    map[string]string // interlay name -> migration uuid
}

func NewManager(metaDB *metadb.MetaDB) (*Manager, error) {
	m := &Manager{
		metaDB:       metaDB,
		handoffGrace: DEFAULT_HANDOFF_GRACE,
		interlays:    map[string]*Interlay{},
		relays:       map[string]*Relay{},
		controls:     map[string]*ControlServer{},
		active:       map[string]string{},
	}
	if metaDB == nil {
		return m, nil
	}
	keys, err := metaDB.ListJsonObjectKeys(INTERLAY_KEY_PREFIX)
	if err != nil {
		return nil, fmt.Errorf("load interlays: %w", err)
	}
	for _, key := range keys {
		var i Interlay
		if _, err := metaDB.GetJsonObject(nil, key, &i); err != nil {
			return nil, fmt.Errorf("load interlay %q: %w", key, err)
		}
		m.interlays[i.Name] = &i
	}
	return m, nil
}

// SetTLSConfig supplies the certificate used by interlays with the tls
// flag set. Applies to relays started afterwards.
func (m *Manager) SetTLSConfig(cfg *tls.Config) {
	m.tlsConfig = cfg
}

// SetHandoffGrace bounds backend dials during connection handoff.
func (m *Manager) SetHandoffGrace(d time.Duration) {
	m.handoffGrace = d
}

// Register persists a new interlay definition. The relay is not
// started until a migration activates it or Serve is called.
func (m *Manager) Register(i *Interlay) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if i.UUID == "" {
		i.UUID = uuid.New().String()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interlays[i.Name]; ok {
		return goerrors.Errorf("interlay %q already registered", i.Name)
	}
	if m.metaDB != nil {
		if err := m.metaDB.InsertJsonObject(nil, INTERLAY_KEY_PREFIX+i.Name, i); err != nil {
			return fmt.Errorf("persist interlay %q: %w", i.Name, err)
		}
	}
	m.interlays[i.Name] = i
	log.Infof("registered interlay %q on port %d", i.Name, i.Port)
	return nil
}

func (m *Manager) Get(name string) (*Interlay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.interlays[name]
	if !ok {
		return nil, goerrors.Errorf("interlay %q not found", name)
	}
	return i, nil
}

func (m *Manager) List() []*Interlay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*Interlay, 0, len(m.interlays))
	for _, i := range m.interlays {
		res = append(res, i)
	}
	sort.Slice(res, func(a, b int) bool { return res[a].Name < res[b].Name })
	return res
}

// Relay returns the running relay for an interlay, starting it if
// needed.
func (m *Manager) Relay(name string) (*Relay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relayLocked(name)
}

func (m *Manager) relayLocked(name string) (*Relay, error) {
	if r, ok := m.relays[name]; ok {
		return r, nil
	}
	i, ok := m.interlays[name]
	if !ok {
		return nil, goerrors.Errorf("interlay %q not found", name)
	}
	r := NewRelay(i)
	r.handoffGrace = m.handoffGrace
	if i.TLS {
		r.SetTLSConfig(m.tlsConfig)
	}
	if err := r.Start(); err != nil {
		return nil, err
	}
	m.relays[name] = r
	if i.ControlPort != 0 {
		ctl := NewControlServer(r)
		if err := ctl.Start(i.ControlPort); err != nil {
			r.Close()
			delete(m.relays, name)
			return nil, err
		}
		m.controls[name] = ctl
	}
	return r, nil
}

// Activate starts relays for every interlay the migration binds and
// arms strategy-driven behavior (shadow copies for shadow_traffic).
func (m *Manager) Activate(rec *migration.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, shadowing := rec.Strategy.Strategy.(*strategy.ShadowTraffic)
	for _, name := range rec.InterlayIDs() {
		r, err := m.relayLocked(name)
		if err != nil {
			return fmt.Errorf("activate routing for migration %q: %w", rec.Name, err)
		}
		m.active[name] = rec.UUID
		r.SetShadow(shadowing)
	}
	return nil
}

// Deactivate disarms strategy-driven behavior once a migration reaches
// a terminal state. The relay keeps serving whichever backend it last
// selected; live client connections are untouched.
func (m *Manager) Deactivate(rec *migration.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range rec.InterlayIDs() {
		if m.active[name] == rec.UUID {
			delete(m.active, name)
		}
		if r, ok := m.relays[name]; ok {
			r.SetShadow(false)
		}
	}
}

// SwitchAll repoints every interlay bound to the migration at the
// given backend. All interlays are attempted even when one fails; the
// errors are joined so a retrying caller converges on the stragglers.
func (m *Manager) SwitchAll(rec *migration.Record, backend int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errfs []error
	for _, name := range rec.InterlayIDs() {
		r, err := m.relayLocked(name)
		if err != nil {
			errfs = append(errfs, err)
			continue
		}
		if _, err := r.Switch(backend); err != nil {
			errfs = append(errfs, err)
			continue
		}
		m.persistEndpointLocked(name, backend)
	}
	return errors.Join(errfs...)
}

// persistEndpointLocked records the active backend address on the
// interlay definition so a restart comes back pointing the right way.
func (m *Manager) persistEndpointLocked(name string, backend int) {
	i, ok := m.interlays[name]
	if !ok {
		return
	}
	addr, err := i.backendAddr(backend)
	if err != nil {
		return
	}
	i.Endpoint = addr
	if m.metaDB == nil {
		return
	}
	err = metadb.UpdateJsonObjectInMetaDB(m.metaDB, INTERLAY_KEY_PREFIX+name, func(stored *Interlay) {
		stored.Endpoint = addr
	})
	if err != nil {
		log.Errorf("persist endpoint of interlay %q: %v", name, err)
	}
}

// Unregister removes an interlay that no migration is using.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.active[name]; ok {
		return goerrors.Errorf("interlay %q is bound to active migration %s", name, holder)
	}
	if r, ok := m.relays[name]; ok {
		r.Close()
		delete(m.relays, name)
	}
	if ctl, ok := m.controls[name]; ok {
		ctl.Close()
		delete(m.controls, name)
	}
	if m.metaDB != nil {
		if err := m.metaDB.DeleteJsonObject(INTERLAY_KEY_PREFIX + name); err != nil {
			return err
		}
	}
	delete(m.interlays, name)
	return nil
}

// Close stops every relay and control server.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ctl := range m.controls {
		ctl.Close()
		delete(m.controls, name)
	}
	for name, r := range m.relays {
		r.Close()
		delete(m.relays, name)
	}
}
