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
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

type noopMover struct{}

func (noopMover) Start(rec *migration.Record) error  { return nil }
func (noopMover) Pause(migrationUUID string)         {}
func (noopMover) Resume(rec *migration.Record) error { return nil }
func (noopMover) Cancel(migrationUUID string)        {}

func newTestMetaDB(t *testing.T) *metadb.MetaDB {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, metadb.CreateAndInitMetaDBIfRequired(dataDir))
	m, err := metadb.NewMetaDB(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func registerTestInterlay(t *testing.T, mgr *Manager, name string, b1, b2 *echoBackend) {
	t.Helper()
	require.NoError(t, mgr.Register(&Interlay{
		Name:  name,
		Port:  0,
		Relay: &RelayPair{Backend1: b1.addr(), Backend2: b2.addr()},
	}))
}

func TestManagerPersistsAndReloadsInterlays(t *testing.T) {
	m := newTestMetaDB(t)
	b1 := newEchoBackend(t, "b1")
	b2 := newEchoBackend(t, "b2")

	mgr, err := NewManager(m)
	require.NoError(t, err)
	registerTestInterlay(t, mgr, "orders-proxy", b1, b2)
	registerTestInterlay(t, mgr, "billing-proxy", b1, b2)

	err = mgr.Register(&Interlay{Name: "orders-proxy", Endpoint: b1.addr()})
	assert.ErrorContains(t, err, "already registered")

	// a fresh manager over the same meta db sees both definitions
	reloaded, err := NewManager(m)
	require.NoError(t, err)
	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, "billing-proxy", list[0].Name)
	assert.Equal(t, "orders-proxy", list[1].Name)
	assert.NotEmpty(t, list[0].UUID)
}

func TestManagerUnregisterRefusesActiveBinding(t *testing.T) {
	mgr, err := NewManager(nil)
	require.NoError(t, err)
	b1 := newEchoBackend(t, "b1")
	b2 := newEchoBackend(t, "b2")
	registerTestInterlay(t, mgr, "busy", b1, b2)
	t.Cleanup(mgr.Close)

	rec := &migration.Record{
		Name:     "holder",
		UUID:     "holder-uuid",
		Strategy: strategy.NewSpec(&strategy.BigBang{}),
		Bindings: []migration.Binding{{Kind: migration.BindingInterlay, ID: "busy"}},
	}
	require.NoError(t, mgr.Activate(rec))

	err = mgr.Unregister("busy")
	assert.ErrorContains(t, err, "bound to active migration")

	mgr.Deactivate(rec)
	assert.NoError(t, mgr.Unregister("busy"))
}

func TestRollbackRevertsAllInterlays(t *testing.T) {
	m := newTestMetaDB(t)
	b1 := newEchoBackend(t, "b1")
	b2 := newEchoBackend(t, "b2")

	mgr, err := NewManager(m)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	registerTestInterlay(t, mgr, "ix-a", b1, b2)
	registerTestInterlay(t, mgr, "ix-b", b1, b2)

	svc, err := migration.NewService(m)
	require.NoError(t, err)
	svc.Wire(noopMover{}, mgr)

	spec := strategy.NewSpec(&strategy.Canary{
		ReadPercentage: 0.5,
		WriteMode:      &strategy.WriteMode{Type: strategy.WriteModeDualWrite, Policy: strategy.OldAuthoritative},
	})
	_, err = svc.Create("shift-orders", spec,
		migration.DataMovement{Type: migration.MovementNone},
		migration.FailureHandling{Type: migration.FailureRollbackAll})
	require.NoError(t, err)
	require.NoError(t, svc.Bind("shift-orders", migration.BindingInterlay, "ix-a"))
	require.NoError(t, svc.Bind("shift-orders", migration.BindingInterlay, "ix-b"))
	require.NoError(t, svc.Migrate("shift-orders"))

	// force both interlays onto the new backend, then roll back
	rec, err := svc.Get("shift-orders")
	require.NoError(t, err)
	require.NoError(t, mgr.SwitchAll(rec, 2))
	ra, err := mgr.Relay("ix-a")
	require.NoError(t, err)
	rb, err := mgr.Relay("ix-b")
	require.NoError(t, err)
	require.Equal(t, 2, ra.Selection())
	require.Equal(t, 2, rb.Selection())

	require.NoError(t, svc.Rollback("shift-orders"))

	assert.Equal(t, 1, ra.Selection())
	assert.Equal(t, 1, rb.Selection())
	rec, err = svc.Get("shift-orders")
	require.NoError(t, err)
	assert.Equal(t, migration.StatusRolledBack, rec.Status)
}

func TestSwitchAllPersistsActiveEndpoint(t *testing.T) {
	m := newTestMetaDB(t)
	b1 := newEchoBackend(t, "b1")
	b2 := newEchoBackend(t, "b2")

	mgr, err := NewManager(m)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	registerTestInterlay(t, mgr, "persisted", b1, b2)

	rec := &migration.Record{
		Name:     "mover",
		UUID:     "mover-uuid",
		Strategy: strategy.NewSpec(&strategy.BigBang{}),
		Bindings: []migration.Binding{{Kind: migration.BindingInterlay, ID: "persisted"}},
	}
	require.NoError(t, mgr.SwitchAll(rec, 2))

	reloaded, err := NewManager(m)
	require.NoError(t, err)
	t.Cleanup(reloaded.Close)
	i, err := reloaded.Get("persisted")
	require.NoError(t, err)
	assert.Equal(t, b2.addr(), i.Endpoint)

	// a relay started after the restart must come back on the switched
	// backend, not revert to backend 1
	r, err := reloaded.Relay("persisted")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Selection())

	conn, err := net.Dial("tcp", r.Addr())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "b2:ping", roundTrip(t, conn, bufio.NewReader(conn), "ping"))
}

func TestActivateArmsShadowTraffic(t *testing.T) {
	mgr, err := NewManager(nil)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	b1 := newEchoBackend(t, "b1")
	b2 := newEchoBackend(t, "b2")
	registerTestInterlay(t, mgr, "shadowed", b1, b2)

	rec := &migration.Record{
		Name:     "shadow-run",
		UUID:     "shadow-uuid",
		Strategy: strategy.NewSpec(&strategy.ShadowTraffic{}),
		Bindings: []migration.Binding{{Kind: migration.BindingInterlay, ID: "shadowed"}},
	}
	require.NoError(t, mgr.Activate(rec))
	r, err := mgr.Relay("shadowed")
	require.NoError(t, err)
	assert.True(t, r.shadow.Load())

	mgr.Deactivate(rec)
	assert.False(t, r.shadow.Load())
}
