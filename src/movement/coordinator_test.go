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
package movement

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-dev-inc/interlay/src/backend"
	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/migration"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

type staticResolver struct {
	source backend.Store
	target backend.Store
	merger backend.Merger
}

func (r *staticResolver) Resolve(rec *migration.Record) (backend.Store, backend.Store, backend.Merger, error) {
	return r.source, r.target, r.merger, nil
}

type chanReporter struct {
	done   chan string
	failed chan error
}

func newChanReporter() *chanReporter {
	return &chanReporter{done: make(chan string, 4), failed: make(chan error, 4)}
}

func (r *chanReporter) MovementDone(migrationUUID string) {
	r.done <- migrationUUID
}

func (r *chanReporter) MovementFailed(rec *migration.Record, err error) {
	r.failed <- err
}

func waitDone(t *testing.T, r *chanReporter) string {
	t.Helper()
	select {
	case id := <-r.done:
		return id
	case err := <-r.failed:
		t.Fatalf("movement failed unexpectedly: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for movement to finish")
	}
	return ""
}

func newTestCoordinator(t *testing.T, resolver BackendResolver) (*Coordinator, *chanReporter) {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, metadb.CreateAndInitMetaDBIfRequired(dataDir))
	m, err := metadb.NewMetaDB(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	c := NewCoordinator(m, resolver, 2)
	c.batchSize = 100
	reporter := newChanReporter()
	c.SetReporter(reporter)
	return c, reporter
}

func movementRecord(mode migration.DataMovementType, replace migration.ReplacePolicy) *migration.Record {
	return &migration.Record{
		Name:         fmt.Sprintf("mv-%s-%s", mode, replace),
		UUID:         uuid.New().String(),
		Status:       migration.StatusRunning,
		Strategy:     strategy.NewSpec(&strategy.BigBang{Durability: true}),
		DataMovement: migration.DataMovement{Type: mode, Replace: replace},
	}
}

func fillSource(t *testing.T, s *backend.MemStore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)
		require.NoError(t, s.Put(ctx, key, []byte(fmt.Sprintf("value-%d", i))))
	}
}

func TestSnapshotMovementCopiesEverything(t *testing.T) {
	source := backend.NewMemStore("source")
	target := backend.NewMemStore("target")
	fillSource(t, source, 350)

	c, reporter := newTestCoordinator(t, &staticResolver{source: source, target: target})
	rec := movementRecord(migration.MovementSnapshot, migration.ReplaceAll)

	require.NoError(t, c.Start(rec))
	waitDone(t, reporter)
	c.Wait()

	assert.Equal(t, 350, target.Len())
	cp, err := c.Progress(rec.UUID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, string(JobDone), cp.Status)
	assert.Equal(t, int64(350), cp.RecordsMoved)
}

func TestNoneMovementIsImmediatelyDone(t *testing.T) {
	c, reporter := newTestCoordinator(t, &staticResolver{})
	rec := movementRecord(migration.MovementNone, "")
	require.NoError(t, c.Start(rec))
	assert.Equal(t, rec.UUID, waitDone(t, reporter))
}

func TestScanReplaceIsIdempotent(t *testing.T) {
	source := backend.NewMemStore("source")
	target := backend.NewMemStore("target")
	fillSource(t, source, 250)
	ctx := context.Background()

	c, reporter := newTestCoordinator(t, &staticResolver{source: source, target: target})
	rec := movementRecord(migration.MovementScan, migration.ReplaceAll)

	require.NoError(t, c.Start(rec))
	waitDone(t, reporter)
	c.Wait()

	// conflicting write to the target between passes
	require.NoError(t, target.Put(ctx, "key-00042", []byte("intruder")))

	// second pass must restore target = source under replace
	rec2 := movementRecord(migration.MovementScan, migration.ReplaceAll)
	require.NoError(t, c.Start(rec2))
	waitDone(t, reporter)
	c.Wait()

	v, found, err := target.Get(ctx, "key-00042")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("value-42"), v)
	assert.Equal(t, source.Len(), target.Len())
}

func TestReplaceNoneSkipsExistingKeys(t *testing.T) {
	source := backend.NewMemStore("source")
	target := backend.NewMemStore("target")
	fillSource(t, source, 50)
	ctx := context.Background()
	require.NoError(t, target.Put(ctx, "key-00007", []byte("already-here")))

	c, reporter := newTestCoordinator(t, &staticResolver{source: source, target: target})
	rec := movementRecord(migration.MovementSnapshot, migration.ReplaceNone)
	require.NoError(t, c.Start(rec))
	waitDone(t, reporter)
	c.Wait()

	v, _, err := target.Get(ctx, "key-00007")
	require.NoError(t, err)
	assert.Equal(t, []byte("already-here"), v, "replace policy none must not overwrite")
	assert.Equal(t, 50, target.Len())
}

type appendMerger struct{}

func (appendMerger) Merge(_ context.Context, _ string, source, target []byte) ([]byte, error) {
	return bytes.Join([][]byte{target, source}, []byte("|")), nil
}

func TestReplaceMergeUsesDriverMerger(t *testing.T) {
	source := backend.NewMemStore("source")
	target := backend.NewMemStore("target")
	ctx := context.Background()
	require.NoError(t, source.Put(ctx, "k", []byte("new")))
	require.NoError(t, target.Put(ctx, "k", []byte("old")))

	c, reporter := newTestCoordinator(t, &staticResolver{source: source, target: target, merger: appendMerger{}})
	rec := movementRecord(migration.MovementScan, migration.ReplaceMerge)
	require.NoError(t, c.Start(rec))
	waitDone(t, reporter)
	c.Wait()

	v, _, err := target.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("old|new"), v)
}

func TestMergeWithoutMergerFails(t *testing.T) {
	source := backend.NewMemStore("source")
	target := backend.NewMemStore("target")
	ctx := context.Background()
	require.NoError(t, source.Put(ctx, "k", []byte("new")))
	require.NoError(t, target.Put(ctx, "k", []byte("old")))

	c, reporter := newTestCoordinator(t, &staticResolver{source: source, target: target})
	rec := movementRecord(migration.MovementScan, migration.ReplaceMerge)
	require.NoError(t, c.Start(rec))

	select {
	case err := <-reporter.failed:
		assert.ErrorContains(t, err, "no merger")
	case <-reporter.done:
		t.Fatal("movement must fail when merge has no merger")
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for movement failure")
	}
	c.Wait()
}

// gatedStore blocks scans after the first page until released, making
// the pause boundary deterministic.
type gatedStore struct {
	*backend.MemStore
	firstPageRead chan struct{}
	release       chan struct{}
	pages         int
}

func (g *gatedStore) Scan(ctx context.Context, from backend.Cursor, limit int) (backend.Page, error) {
	if g.pages == 1 {
		close(g.firstPageRead)
		<-g.release
	}
	g.pages++
	return g.MemStore.Scan(ctx, from, limit)
}

func TestPauseStopsAtCheckpointAndResumeContinues(t *testing.T) {
	source := &gatedStore{
		MemStore:      backend.NewMemStore("source"),
		firstPageRead: make(chan struct{}),
		release:       make(chan struct{}),
	}
	target := backend.NewMemStore("target")
	fillSource(t, source.MemStore, 300)

	c, reporter := newTestCoordinator(t, &staticResolver{source: source, target: target})
	rec := movementRecord(migration.MovementScan, migration.ReplaceAll)
	require.NoError(t, c.Start(rec))

	<-source.firstPageRead
	c.Pause(rec.UUID)
	close(source.release)
	c.Wait()

	cp, err := c.Progress(rec.UUID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, string(JobPaused), cp.Status)
	assert.NotZero(t, cp.RecordsMoved)
	assert.Less(t, cp.RecordsMoved, int64(300), "pause must stop before the scan completes")

	// resume picks up from the checkpoint instead of restarting
	require.NoError(t, c.Resume(rec))
	waitDone(t, reporter)
	c.Wait()

	assert.Equal(t, 300, target.Len())
	cp, err = c.Progress(rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, string(JobDone), cp.Status)
	assert.Equal(t, int64(300), cp.RecordsMoved)
}

// failureRecorder keeps the record handed back on failure so tests can
// inspect which view of the migration the job was working from.
type failureRecorder struct {
	done   chan string
	failed chan *migration.Record
}

func (r *failureRecorder) MovementDone(migrationUUID string) { r.done <- migrationUUID }

func (r *failureRecorder) MovementFailed(rec *migration.Record, err error) { r.failed <- rec }

func TestJobIsIsolatedFromLaterRecordUpdates(t *testing.T) {
	source := &gatedStore{
		MemStore:      backend.NewMemStore("source"),
		firstPageRead: make(chan struct{}),
		release:       make(chan struct{}),
	}
	target := backend.NewMemStore("target")
	fillSource(t, source.MemStore, 300)
	// a second-batch conflict under merge with no merger fails the job
	require.NoError(t, target.Put(context.Background(), "key-00150", []byte("already here")))

	c, _ := newTestCoordinator(t, &staticResolver{source: source, target: target})
	reporter := &failureRecorder{done: make(chan string, 1), failed: make(chan *migration.Record, 1)}
	c.SetReporter(reporter)

	rec := movementRecord(migration.MovementScan, migration.ReplaceMerge)
	originalName := rec.Name
	require.NoError(t, c.Start(rec))

	// the job must hold its own copy as of Start; later writers are
	// free to touch the live record
	<-source.firstPageRead
	rec.Name = "renamed-mid-flight"
	rec.Strategy = strategy.NewSpec(&strategy.Canary{ReadPercentage: 0.5})
	close(source.release)
	c.Wait()

	select {
	case failedRec := <-reporter.failed:
		assert.Equal(t, originalName, failedRec.Name)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the movement failure")
	}
}

func TestResumeOutstandingContinuesInterruptedJobs(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, metadb.CreateAndInitMetaDBIfRequired(dataDir))
	m, err := metadb.NewMetaDB(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	source := &gatedStore{
		MemStore:      backend.NewMemStore("source"),
		firstPageRead: make(chan struct{}),
		release:       make(chan struct{}),
	}
	target := backend.NewMemStore("target")
	fillSource(t, source.MemStore, 300)
	resolver := &staticResolver{source: source, target: target}

	// first process: copy one batch, stop at the checkpoint
	first := NewCoordinator(m, resolver, 2)
	first.batchSize = 100
	first.SetReporter(newChanReporter())
	rec := movementRecord(migration.MovementScan, migration.ReplaceAll)
	require.NoError(t, first.Start(rec))
	<-source.firstPageRead
	first.Pause(rec.UUID)
	close(source.release)
	first.Wait()

	cp, err := first.Progress(rec.UUID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Less(t, cp.RecordsMoved, int64(300))

	// second process over the same meta db picks the job back up
	second := NewCoordinator(m, resolver, 2)
	second.batchSize = 100
	reporter := newChanReporter()
	second.SetReporter(reporter)
	second.ResumeOutstanding([]*migration.Record{rec.Clone()})
	assert.Equal(t, rec.UUID, waitDone(t, reporter))
	second.Wait()

	assert.Equal(t, 300, target.Len())

	// a finished job must not be restarted
	second.ResumeOutstanding([]*migration.Record{rec.Clone()})
	second.Wait()
	select {
	case <-reporter.done:
		t.Fatal("finished movement must not run again")
	default:
	}
}
