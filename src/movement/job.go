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
	"context"
	"fmt"

	uatomic "go.uber.org/atomic"

	"github.com/eden-dev-inc/interlay/src/backend"
	"github.com/eden-dev-inc/interlay/src/errs"
	"github.com/eden-dev-inc/interlay/src/migration"
)

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobPaused  JobStatus = "paused"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is one unit of data movement: a single copy pass from source to
// target under a replace policy, checkpointed so a restart resumes at
// the last batch boundary instead of starting over.
type Job struct {
	migrationUUID string
	migrationName string
	mode          migration.DataMovementType
	replace       migration.ReplacePolicy

	source backend.Store
	target backend.Store
	merger backend.Merger

	cursor       backend.Cursor
	recordsMoved int64

	status *uatomic.String
	paused *uatomic.Bool
	cancel context.CancelFunc
}

func (j *Job) Status() JobStatus {
	return JobStatus(j.status.Load())
}

// copyRecord applies the replace policy for one record and reports
// whether the record was written to the target.
func (j *Job) copyRecord(ctx context.Context, rec backend.Record) (bool, error) {
	switch j.replace {
	case migration.ReplaceNone:
		_, exists, err := j.target.Get(ctx, rec.Key)
		if err != nil {
			return false, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_WRITE_TARGET, string(j.cursor), err)
		}
		if exists {
			return false, nil
		}
	case migration.ReplaceAll:
		// overwrite unconditionally
	case migration.ReplaceMerge:
		existing, exists, err := j.target.Get(ctx, rec.Key)
		if err != nil {
			return false, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_WRITE_TARGET, string(j.cursor), err)
		}
		if exists {
			if j.merger == nil {
				return false, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_MERGE, string(j.cursor),
					fmt.Errorf("replace policy is merge but the target driver supplies no merger"))
			}
			merged, err := j.merger.Merge(ctx, rec.Key, rec.Value, existing)
			if err != nil {
				return false, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_MERGE, string(j.cursor), err)
			}
			rec.Value = merged
		}
	}
	if err := j.target.Put(ctx, rec.Key, rec.Value); err != nil {
		return false, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_WRITE_TARGET, string(j.cursor), err)
	}
	return true, nil
}

// readPage reads the next batch from the job's source in its mode.
func (j *Job) readPage(ctx context.Context, snap backend.Snapshot, batchSize int) (backend.Page, error) {
	switch j.mode {
	case migration.MovementSnapshot:
		page, err := snap.Read(ctx, j.cursor, batchSize)
		if err != nil {
			return backend.Page{}, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_SNAPSHOT_READ, string(j.cursor), err)
		}
		return page, nil
	case migration.MovementScan:
		page, err := j.source.Scan(ctx, j.cursor, batchSize)
		if err != nil {
			return backend.Page{}, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_SCAN_BATCH, string(j.cursor), err)
		}
		return page, nil
	default:
		return backend.Page{}, errs.NewMovementError(j.migrationName, errs.MOVEMENT_STEP_SCAN_BATCH, string(j.cursor),
			fmt.Errorf("unsupported movement mode %q", j.mode))
	}
}
