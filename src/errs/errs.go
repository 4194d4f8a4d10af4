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

package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for API callers. Configuration and conflict
// errors never mutate migration state; execution errors are handled per
// the migration's failure handling policy.
type Kind string

const (
	KindAlreadyExists    Kind = "already_exists"
	KindNotFound         Kind = "not_found"
	KindDuplicateBinding Kind = "duplicate_binding"
	KindInvalidState     Kind = "invalid_state"
	KindConflict         Kind = "conflict"
	KindValidation       Kind = "validation"
	KindExecution        Kind = "execution"
	KindRollbackFailed   Kind = "rollback_failed"
)

type MigrationError struct {
	kind      Kind
	migration string
	op        string
	err       error
}

func NewMigrationError(kind Kind, migration string, op string, err error) *MigrationError {
	return &MigrationError{kind: kind, migration: migration, op: op, err: err}
}

func (e *MigrationError) Kind() Kind {
	return e.kind
}

func (e *MigrationError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("migration %q: op=%s: %s", e.migration, e.op, e.kind)
	}
	return fmt.Sprintf("migration %q: op=%s: %s: %s", e.migration, e.op, e.kind, e.err.Error())
}

func (e *MigrationError) Unwrap() error {
	return e.err
}

// KindOf reports the Kind of err if it (or anything it wraps) is a
// MigrationError or ValidationError; "" otherwise.
func KindOf(err error) Kind {
	var me *MigrationError
	if errors.As(err, &me) {
		return me.kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	return ""
}

// ValidationError collects the problems found while dry-running a
// migration's configuration. It is reported whole, never partially.
type ValidationError struct {
	migration string
	problems  []string
}

func NewValidationError(migration string, problems []string) *ValidationError {
	return &ValidationError{migration: migration, problems: problems}
}

func (e *ValidationError) Problems() []string {
	return e.problems
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("migration %q: invalid configuration: %s", e.migration, strings.Join(e.problems, "; "))
}

// MovementError carries the failing step of a data movement job so the
// failure handler can report where the copy stopped.
type MovementError struct {
	migration string
	step      string
	cursor    string
	err       error
}

const (
	MOVEMENT_STEP_SNAPSHOT_READ = "snapshot_read"
	MOVEMENT_STEP_SCAN_BATCH    = "scan_batch"
	MOVEMENT_STEP_WRITE_TARGET  = "write_target"
	MOVEMENT_STEP_MERGE         = "merge"
	MOVEMENT_STEP_CHECKPOINT    = "checkpoint"
)

func NewMovementError(migration string, step string, cursor string, err error) *MovementError {
	return &MovementError{migration: migration, step: step, cursor: cursor, err: err}
}

func (e *MovementError) Step() string {
	return e.step
}

func (e *MovementError) Error() string {
	return fmt.Sprintf("movement for migration %q: step=%s cursor=%q: %s", e.migration, e.step, e.cursor, e.err.Error())
}

func (e *MovementError) Unwrap() error {
	return e.err
}
