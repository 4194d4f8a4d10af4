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
package recovery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

type recordingMover struct {
	mu        sync.Mutex
	resumed   []string
	cancelled []string
	resumeErr error
}

func (f *recordingMover) Start(rec *migration.Record) error { return nil }

func (f *recordingMover) Pause(migrationUUID string) {}

func (f *recordingMover) Resume(rec *migration.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, rec.UUID)
	return f.resumeErr
}

func (f *recordingMover) Cancel(migrationUUID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, migrationUUID)
}

func (f *recordingMover) resumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resumed)
}

type recordingRouter struct {
	mu        sync.Mutex
	selection map[string]int
}

func (f *recordingRouter) Activate(rec *migration.Record) error { return nil }

func (f *recordingRouter) Deactivate(rec *migration.Record) {}

func (f *recordingRouter) SwitchAll(rec *migration.Record, b int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selection == nil {
		f.selection = map[string]int{}
	}
	for _, id := range rec.InterlayIDs() {
		f.selection[id] = b
	}
	return nil
}

func (f *recordingRouter) selectionOf(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selection[id]
}

func runningMigration(t *testing.T, handling migration.FailureHandling) (*migration.Service, *recordingMover, *recordingRouter, *migration.Record) {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, metadb.CreateAndInitMetaDBIfRequired(dataDir))
	m, err := metadb.NewMetaDB(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	svc, err := migration.NewService(m)
	require.NoError(t, err)
	mover := &recordingMover{}
	router := &recordingRouter{}
	svc.Wire(mover, router)

	spec := strategy.NewSpec(&strategy.Canary{
		ReadPercentage: 0.5,
		WriteMode:      &strategy.WriteMode{Type: strategy.WriteModeDualWrite, Policy: strategy.OldAuthoritative},
	})
	_, err = svc.Create("checkout", spec, migration.DataMovement{Type: migration.MovementScan, Replace: migration.ReplaceAll}, handling)
	require.NoError(t, err)
	require.NoError(t, svc.Bind("checkout", migration.BindingInterlay, "ix-1"))
	require.NoError(t, svc.Migrate("checkout"))

	rec, err := svc.Get("checkout")
	require.NoError(t, err)
	require.Equal(t, migration.StatusRunning, rec.Status)
	return svc, mover, router, rec
}

func TestRollbackAllRevertsRoutingAndEndsRolledBack(t *testing.T) {
	svc, mover, router, rec := runningMigration(t, migration.FailureHandling{Type: migration.FailureRollbackAll})
	h := NewHandler(svc, mover)

	h.MovementFailed(rec, errors.New("target write refused"))

	got, err := svc.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, migration.StatusRolledBack, got.Status)
	assert.Equal(t, 1, router.selectionOf("ix-1"))
	assert.Contains(t, got.LastError, "target write refused")
}

func TestAllowPartialFailsWithoutRollback(t *testing.T) {
	svc, mover, router, rec := runningMigration(t, migration.FailureHandling{Type: migration.FailureAllowPartial})
	h := NewHandler(svc, mover)

	h.MovementFailed(rec, errors.New("target gone"))

	got, err := svc.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, migration.StatusFailed, got.Status)
	assert.Zero(t, router.selectionOf("ix-1"), "allow_partial must not revert routing")
}

func TestRetryThenAllResumesFromCheckpointThenRollsBack(t *testing.T) {
	svc, mover, _, rec := runningMigration(t, migration.FailureHandling{Type: migration.FailureRetryThenAll, RetryCount: 2})
	h := NewHandler(svc, mover)
	h.retryInitialInterval = time.Millisecond

	cause := errors.New("flaky target")
	h.MovementFailed(rec, cause)
	h.Wait()
	assert.Equal(t, 1, mover.resumeCount())

	h.MovementFailed(rec, cause)
	h.Wait()
	assert.Equal(t, 2, mover.resumeCount())

	// status is untouched while retries remain
	got, err := svc.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, migration.StatusRunning, got.Status)

	// third failure exhausts retry_count and degrades to rollback_all
	h.MovementFailed(rec, cause)
	h.Wait()
	got, err = svc.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, migration.StatusRolledBack, got.Status)
	assert.Equal(t, 2, mover.resumeCount())
}

func TestMovementDoneResetsRetryBudget(t *testing.T) {
	svc, mover, _, rec := runningMigration(t, migration.FailureHandling{Type: migration.FailureRetryThenAll, RetryCount: 1})
	h := NewHandler(svc, mover)
	h.retryInitialInterval = time.Millisecond

	h.MovementFailed(rec, errors.New("hiccup"))
	h.Wait()
	require.Equal(t, 1, mover.resumeCount())

	h.MovementDone(rec.UUID)

	// a later failure gets a fresh budget
	h.MovementFailed(rec, errors.New("hiccup again"))
	h.Wait()
	assert.Equal(t, 2, mover.resumeCount())
}

func TestBindingFailedIsIsolatedUnderAllowPartial(t *testing.T) {
	svc, mover, _, rec := runningMigration(t, migration.FailureHandling{Type: migration.FailureAllowPartial})
	h := NewHandler(svc, mover)

	h.BindingFailed(rec, migration.BindingInterlay, "ix-1", errors.New("port in use"))

	got, err := svc.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, migration.StatusRunning, got.Status, "sibling bindings keep serving")
	require.Len(t, got.Bindings, 1)
	assert.True(t, got.Bindings[0].Failed)
	assert.Contains(t, got.Bindings[0].Error, "port in use")
}
