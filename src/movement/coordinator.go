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

// Package movement copies historical records from the source backend
// to the target in the background of a running migration. At most one
// job runs per migration; jobs checkpoint their cursor so they resume
// after interruption instead of restarting.
package movement

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
	uatomic "go.uber.org/atomic"

	"github.com/eden-dev-inc/interlay/src/backend"
	"github.com/eden-dev-inc/interlay/src/errs"
	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/migration"
)

const DEFAULT_BATCH_SIZE = 500

// BackendResolver supplies the driver collaborators for a migration:
// where to copy from, where to copy to, and the backend-specific merge
// rule for the merge replace policy.
type BackendResolver interface {
	Resolve(rec *migration.Record) (source, target backend.Store, merger backend.Merger, err error)
}

// Reporter receives job outcomes. The failure and rollback handler
// implements it and applies the migration's failure handling policy.
type Reporter interface {
	MovementDone(migrationUUID string)
	MovementFailed(rec *migration.Record, err error)
}

type Coordinator struct {
	metaDB    *metadb.MetaDB
	resolver  BackendResolver
	reporter  Reporter
	batchSize int

	// workers is a fixed-size pool gate for background copy tasks.
	workers chan struct{}

	mu   sync.Mutex
	jobs map[string]*Job // keyed by migration uuid
	wg   sync.WaitGroup
}

func NewCoordinator(metaDB *metadb.MetaDB, resolver BackendResolver, poolSize int) *Coordinator {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Coordinator{
		metaDB:    metaDB,
		resolver:  resolver,
		batchSize: DEFAULT_BATCH_SIZE,
		workers:   make(chan struct{}, poolSize),
		jobs:      make(map[string]*Job),
	}
}

func (c *Coordinator) SetReporter(r Reporter) {
	c.reporter = r
}

// Start spawns the movement job for a migration. A None movement mode
// is a no-op reported Done immediately.
func (c *Coordinator) Start(rec *migration.Record) error {
	if rec.DataMovement.Type == migration.MovementNone {
		log.Infof("migration %q has no data movement; reporting done", rec.Name)
		if c.reporter != nil {
			c.reporter.MovementDone(rec.UUID)
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.jobs[rec.UUID]; ok && existing.Status() == JobRunning {
		return goerrors.Errorf("movement job for migration %q is already running", rec.Name)
	}

	source, target, merger, err := c.resolver.Resolve(rec)
	if err != nil {
		return fmt.Errorf("resolve backends for migration %q: %w", rec.Name, err)
	}

	job := &Job{
		migrationUUID: rec.UUID,
		migrationName: rec.Name,
		mode:          rec.DataMovement.Type,
		replace:       rec.DataMovement.Replace,
		source:        source,
		target:        target,
		merger:        merger,
		status:        uatomic.NewString(string(JobRunning)),
		paused:        uatomic.NewBool(false),
	}

	// resume from a persisted checkpoint if one exists
	cp, err := c.metaDB.GetMovementCheckpoint(rec.UUID)
	if err != nil {
		return err
	}
	if cp != nil {
		job.cursor = backend.Cursor(cp.Cursor)
		job.recordsMoved = cp.RecordsMoved
		log.Infof("resuming movement for migration %q from cursor %q (%d records moved)", rec.Name, cp.Cursor, cp.RecordsMoved)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	c.jobs[rec.UUID] = job

	// clone before spawning: the caller still holds the record's lock
	// here, so the copy cannot race with later strategy updates
	snapshot := rec.Clone()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.workers <- struct{}{}
		defer func() { <-c.workers }()
		c.run(ctx, job, snapshot)
	}()
	return nil
}

func (c *Coordinator) run(ctx context.Context, job *Job, rec *migration.Record) {
	var snap backend.Snapshot
	if job.mode == migration.MovementSnapshot {
		var err error
		snap, err = job.source.Snapshot(ctx)
		if err != nil {
			c.fail(job, rec, fmt.Errorf("open snapshot of %s: %w", job.source.Name(), err))
			return
		}
		defer func() {
			if err := snap.Close(); err != nil {
				log.Errorf("close snapshot of %s: %v", job.source.Name(), err)
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			log.Infof("movement for migration %q cancelled at cursor %q", job.migrationName, job.cursor)
			c.checkpoint(job, JobPaused)
			return
		}
		if job.paused.Load() {
			log.Infof("movement for migration %q paused at cursor %q", job.migrationName, job.cursor)
			job.status.Store(string(JobPaused))
			c.checkpoint(job, JobPaused)
			return
		}

		page, err := job.readPage(ctx, snap, c.batchSize)
		if err != nil {
			c.fail(job, rec, err)
			return
		}
		for _, record := range page.Records {
			if _, err := job.copyRecord(ctx, record); err != nil {
				c.fail(job, rec, err)
				return
			}
			job.recordsMoved++
		}
		if len(page.Records) > 0 {
			job.cursor = page.Next
		}
		// batch boundary: durable progress and the only legal
		// pause/cancel point
		if err := c.checkpoint(job, JobRunning); err != nil {
			c.fail(job, rec, errs.NewMovementError(job.migrationName, errs.MOVEMENT_STEP_CHECKPOINT, string(job.cursor), err))
			return
		}
		if page.Done {
			break
		}
	}

	job.status.Store(string(JobDone))
	if err := c.checkpoint(job, JobDone); err != nil {
		c.fail(job, rec, errs.NewMovementError(job.migrationName, errs.MOVEMENT_STEP_CHECKPOINT, string(job.cursor), err))
		return
	}
	log.Infof("movement for migration %q done: %d records moved", job.migrationName, job.recordsMoved)
	if c.reporter != nil {
		c.reporter.MovementDone(job.migrationUUID)
	}
}

func (c *Coordinator) checkpoint(job *Job, status JobStatus) error {
	return c.metaDB.PutMovementCheckpoint(&metadb.MovementCheckpoint{
		MigrationUUID: job.migrationUUID,
		Cursor:        string(job.cursor),
		RecordsMoved:  job.recordsMoved,
		Status:        string(status),
		UpdatedAt:     time.Now(),
	})
}

func (c *Coordinator) fail(job *Job, rec *migration.Record, err error) {
	job.status.Store(string(JobFailed))
	if cperr := c.checkpoint(job, JobFailed); cperr != nil {
		log.Errorf("persist failed checkpoint for migration %q: %v", job.migrationName, cperr)
	}
	log.Errorf("movement for migration %q failed: %v", job.migrationName, err)
	if c.reporter != nil {
		c.reporter.MovementFailed(rec, err)
	}
}

// Pause requests a cooperative stop at the next checkpoint boundary.
func (c *Coordinator) Pause(migrationUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[migrationUUID]; ok {
		job.paused.Store(true)
	}
}

// Resume restarts a paused job from its checkpoint.
func (c *Coordinator) Resume(rec *migration.Record) error {
	c.mu.Lock()
	job, ok := c.jobs[rec.UUID]
	c.mu.Unlock()
	if ok && job.Status() == JobRunning {
		return nil
	}
	return c.Start(rec)
}

// ResumeOutstanding restarts the movement of every Running migration
// whose job had not finished when the previous process stopped. Called
// once at startup with the loaded records; jobs pick up from their
// persisted checkpoints.
func (c *Coordinator) ResumeOutstanding(recs []*migration.Record) {
	for _, rec := range recs {
		if rec.Status != migration.StatusRunning || rec.DataMovement.Type == migration.MovementNone {
			continue
		}
		cp, err := c.metaDB.GetMovementCheckpoint(rec.UUID)
		if err != nil {
			log.Errorf("load movement checkpoint of migration %q: %v", rec.Name, err)
			continue
		}
		if cp != nil && cp.Status == string(JobDone) {
			continue
		}
		log.Infof("resuming interrupted movement of migration %q", rec.Name)
		if err := c.Resume(rec); err != nil {
			log.Errorf("resume movement of migration %q: %v", rec.Name, err)
		}
	}
}

// Cancel aborts the in-flight job. The checkpoint survives so a later
// restart resumes rather than recopies.
func (c *Coordinator) Cancel(migrationUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[migrationUUID]; ok && job.cancel != nil {
		job.cancel()
	}
}

// Progress returns the durable view of a migration's movement.
func (c *Coordinator) Progress(migrationUUID string) (*metadb.MovementCheckpoint, error) {
	return c.metaDB.GetMovementCheckpoint(migrationUUID)
}

// Wait blocks until all background jobs have drained; used at shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
