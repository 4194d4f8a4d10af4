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
package migration

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eden-dev-inc/interlay/src/errs"
	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

// Mover is the data movement coordinator as the state machine sees it.
type Mover interface {
	Start(rec *Record) error
	Pause(migrationUUID string)
	Resume(rec *Record) error
	Cancel(migrationUUID string)
}

// Router is the traffic proxy side: it activates strategy-driven
// routing for a migration's interlays and performs interlay-level
// switches (1 = original backend, 2 = new backend).
type Router interface {
	Activate(rec *Record) error
	Deactivate(rec *Record)
	SwitchAll(rec *Record, backend int) error
}

// Service is the migration state machine: the single writer of
// migration state. Transitions are serialized per migration; a
// concurrent conflicting call is rejected with a Conflict error
// instead of being silently merged.
type Service struct {
	metaDB *metadb.MetaDB
	mover  Mover
	router Router

	mu     sync.RWMutex
	byName map[string]*managed
	byUUID map[string]*managed

	// bindMu serializes the exclusivity scan and the binding append
	// across migrations; without it two concurrent binds of the same
	// resource to different migrations could both pass the scan.
	bindMu sync.Mutex
}

type managed struct {
	mu  sync.Mutex
	rec *Record
}

func NewService(metaDB *metadb.MetaDB) (*Service, error) {
	s := &Service{
		metaDB: metaDB,
		byName: make(map[string]*managed),
		byUUID: make(map[string]*managed),
	}
	rows, err := metaDB.ListMigrations()
	if err != nil {
		return nil, fmt.Errorf("load migrations from meta db: %w", err)
	}
	for _, row := range rows {
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		m := &managed{rec: rec}
		s.byName[rec.Name] = m
		s.byUUID[rec.UUID] = m
	}
	log.Infof("migration service loaded %d migration(s)", len(rows))
	return s, nil
}

// Wire injects the collaborators. Separate from construction because
// the coordinator and the proxy manager both need a handle on the
// service first.
func (s *Service) Wire(mover Mover, router Router) {
	s.mover = mover
	s.router = router
}

func (s *Service) Create(name string, spec strategy.Spec, movement DataMovement, handling FailureHandling) (*Record, error) {
	if name == "" {
		return nil, errs.NewMigrationError(errs.KindValidation, name, "create", goerrors.Errorf("migration name must not be empty"))
	}
	if spec.Strategy == nil {
		return nil, errs.NewMigrationError(errs.KindValidation, name, "create", goerrors.Errorf("strategy must be set"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return nil, errs.NewMigrationError(errs.KindAlreadyExists, name, "create", nil)
	}

	now := time.Now()
	rec := &Record{
		Name:            name,
		UUID:            uuid.New().String(),
		Status:          StatusPending,
		Strategy:        spec,
		DataMovement:    movement,
		FailureHandling: handling,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	row, err := rec.toRow()
	if err != nil {
		return nil, err
	}
	if err := s.metaDB.InsertMigration(row); err != nil {
		return nil, fmt.Errorf("persist migration %q: %w", name, err)
	}
	m := &managed{rec: rec}
	s.byName[name] = m
	s.byUUID[rec.UUID] = m
	log.Infof("created migration %q (%s) with strategy %s", name, rec.UUID, spec.Type())
	return rec.Clone(), nil
}

// Bind attaches a resource. A resource may be bound to at most one
// non-terminal migration at a time across the whole registry.
func (s *Service) Bind(name string, kind BindingKind, resourceID string) error {
	if kind != BindingAPI && kind != BindingInterlay {
		return errs.NewMigrationError(errs.KindValidation, name, "bind", goerrors.Errorf("unknown binding kind %q", kind))
	}
	if resourceID == "" {
		return errs.NewMigrationError(errs.KindValidation, name, "bind", goerrors.Errorf("resource id must not be empty"))
	}

	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if holder := s.activeHolderOf(kind, resourceID); holder != "" {
		return errs.NewMigrationError(errs.KindDuplicateBinding, name, "bind",
			goerrors.Errorf("%s %q is already bound to active migration %q", kind, resourceID, holder))
	}

	m, err := s.lockFor(name, "bind")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	if m.rec.Status.IsTerminal() {
		return errs.NewMigrationError(errs.KindInvalidState, name, "bind",
			goerrors.Errorf("cannot bind to migration in terminal status %s", m.rec.Status))
	}
	m.rec.Bindings = append(m.rec.Bindings, Binding{Kind: kind, ID: resourceID})
	if m.rec.Status == StatusPending {
		m.rec.Status = StatusReady
	}
	return s.persist(m.rec)
}

// activeHolderOf returns the name of the non-terminal migration holding
// the resource, or "". Callers must not hold any per-record lock.
func (s *Service) activeHolderOf(kind BindingKind, resourceID string) string {
	for _, m := range s.all() {
		m.mu.Lock()
		held := !m.rec.Status.IsTerminal() && m.rec.HasBinding(kind, resourceID)
		name := m.rec.Name
		m.mu.Unlock()
		if held {
			return name
		}
	}
	return ""
}

func (s *Service) all() []*managed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*managed, 0, len(s.byName))
	for _, m := range s.byName {
		records = append(records, m)
	}
	return records
}

// Test dry-runs the migration's configuration. It never mutates state
// and reports all problems at once as a structured report.
func (s *Service) Test(name string) (*ValidationReport, error) {
	rec, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{Migration: name}
	report.Problems = append(report.Problems, rec.Strategy.Validate()...)
	report.Problems = append(report.Problems, rec.DataMovement.Validate()...)
	report.Problems = append(report.Problems, rec.FailureHandling.Validate()...)

	if len(rec.Bindings) == 0 {
		report.Problems = append(report.Problems, "no API or interlay resources bound")
	}
	if bang, ok := rec.Strategy.Strategy.(*strategy.BigBang); ok && bang.Durability && rec.DataMovement.Type == MovementNone {
		report.Problems = append(report.Problems, "big_bang durability requires a data movement mode")
	}
	if _, ok := rec.Strategy.Strategy.(*strategy.ShadowTraffic); ok && rec.DataMovement.Type == MovementScan && rec.DataMovement.Replace == ReplaceNone {
		report.Problems = append(report.Problems, "shadow_traffic with scan movement should replace or merge, or shadow writes will always win")
	}
	return report, nil
}

// Migrate transitions Ready→Running, starts the movement job and
// activates strategy routing for the bound interlays.
func (s *Service) Migrate(name string) error {
	m, err := s.lockFor(name, "migrate")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	if m.rec.Status != StatusReady {
		return errs.NewMigrationError(errs.KindInvalidState, name, "migrate",
			goerrors.Errorf("migrate is legal only from %s, current status is %s", StatusReady, m.rec.Status))
	}

	m.rec.Status = StatusRunning
	m.rec.LastError = ""
	if err := s.persist(m.rec); err != nil {
		return err
	}

	if s.router != nil {
		if err := s.router.Activate(m.rec); err != nil {
			return s.failLocked(m, fmt.Errorf("activate routing: %w", err))
		}
	}

	if m.rec.DataMovement.Type != MovementNone && s.mover != nil {
		if err := s.mover.Start(m.rec); err != nil {
			return s.failLocked(m, fmt.Errorf("start data movement: %w", err))
		}
	}

	// A non-durable big_bang flips right away; a durable one waits for
	// the movement job, and with no movement there is nothing to wait for.
	if bang, ok := m.rec.Strategy.Strategy.(*strategy.BigBang); ok && !bang.Switched {
		if !bang.Durability || m.rec.DataMovement.Type == MovementNone {
			if err := s.flipLocked(m, bang); err != nil {
				return err
			}
		}
	}
	log.Infof("migration %q is running", name)
	return nil
}

// UpdateStrategy applies live parameter changes. The strategy type can
// never change; one-shot strategies reject updates once Running.
func (s *Service) UpdateStrategy(name string, spec strategy.Spec) error {
	if spec.Strategy == nil {
		return errs.NewMigrationError(errs.KindValidation, name, "update_strategy", goerrors.Errorf("strategy must be set"))
	}
	m, err := s.lockFor(name, "update_strategy")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	if m.rec.Status != StatusReady && m.rec.Status != StatusRunning {
		return errs.NewMigrationError(errs.KindInvalidState, name, "update_strategy",
			goerrors.Errorf("strategy update is legal only while %s or %s, current status is %s", StatusReady, StatusRunning, m.rec.Status))
	}
	if spec.Type() != m.rec.Strategy.Type() {
		return errs.NewMigrationError(errs.KindValidation, name, "update_strategy",
			goerrors.Errorf("strategy type cannot change from %s to %s", m.rec.Strategy.Type(), spec.Type()))
	}
	if m.rec.Status == StatusRunning && !m.rec.Strategy.SupportsLiveUpdate() {
		return errs.NewMigrationError(errs.KindInvalidState, name, "update_strategy",
			goerrors.Errorf("strategy %s does not support live parameter changes", m.rec.Strategy.Type()))
	}
	if problems := spec.Validate(); len(problems) > 0 {
		return errs.NewValidationError(name, problems)
	}

	m.rec.Strategy = spec
	return s.persist(m.rec)
}

// Pause suspends a Running migration for strategies that support it.
// The movement job pauses cooperatively at its next checkpoint.
func (s *Service) Pause(name string) error {
	m, err := s.lockFor(name, "pause")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	if m.rec.Status != StatusRunning {
		return errs.NewMigrationError(errs.KindInvalidState, name, "pause",
			goerrors.Errorf("pause is legal only from %s, current status is %s", StatusRunning, m.rec.Status))
	}
	if !m.rec.Strategy.SupportsPause() {
		return errs.NewMigrationError(errs.KindInvalidState, name, "pause",
			goerrors.Errorf("strategy %s does not support manual pause", m.rec.Strategy.Type()))
	}
	m.rec.Status = StatusPaused
	if err := s.persist(m.rec); err != nil {
		return err
	}
	if s.mover != nil {
		s.mover.Pause(m.rec.UUID)
	}
	return nil
}

func (s *Service) Resume(name string) error {
	m, err := s.lockFor(name, "resume")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	if m.rec.Status != StatusPaused {
		return errs.NewMigrationError(errs.KindInvalidState, name, "resume",
			goerrors.Errorf("resume is legal only from %s, current status is %s", StatusPaused, m.rec.Status))
	}
	m.rec.Status = StatusRunning
	if err := s.persist(m.rec); err != nil {
		return err
	}
	if s.mover != nil && m.rec.DataMovement.Type != MovementNone {
		if err := s.mover.Resume(m.rec); err != nil {
			return s.failLocked(m, fmt.Errorf("resume data movement: %w", err))
		}
	}
	return nil
}

// Rollback cancels any in-flight movement job, reverts every bound
// interlay to the original backend and drives
// RollingBack→RolledBack, or Failed if the revert itself cannot
// complete within the configured retries.
func (s *Service) Rollback(name string) error {
	m, err := s.lockFor(name, "rollback")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	if m.rec.Status != StatusRunning && m.rec.Status != StatusFailed {
		return errs.NewMigrationError(errs.KindInvalidState, name, "rollback",
			goerrors.Errorf("rollback is legal only from %s or %s, current status is %s", StatusRunning, StatusFailed, m.rec.Status))
	}

	if s.mover != nil {
		s.mover.Cancel(m.rec.UUID)
	}

	m.rec.Status = StatusRollingBack
	if err := s.persist(m.rec); err != nil {
		return err
	}

	if err := s.revertRouting(m.rec); err != nil {
		m.rec.Status = StatusFailed
		m.rec.LastError = err.Error()
		if perr := s.persist(m.rec); perr != nil {
			log.Errorf("persist failed rollback of %q: %v", name, perr)
		}
		return errs.NewMigrationError(errs.KindRollbackFailed, name, "rollback", err)
	}

	m.rec.Status = StatusRolledBack
	if err := s.persist(m.rec); err != nil {
		return err
	}
	if s.router != nil {
		s.router.Deactivate(m.rec)
	}
	log.Infof("migration %q rolled back", name)
	return nil
}

// revertRouting points all interlays back at backend 1, retrying per
// the failure handling policy and never beyond it.
func (s *Service) revertRouting(rec *Record) error {
	if s.router == nil {
		return nil
	}
	attempts := uint64(1)
	if rec.FailureHandling.Type == FailureRetryThenAll {
		attempts += uint64(rec.FailureHandling.RetryCount)
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), attempts-1)
	return backoff.Retry(func() error {
		return s.router.SwitchAll(rec, 1)
	}, policy)
}

// Complete marks a Running migration Completed. Under big_bang with
// durability the flip must have executed first.
func (s *Service) Complete(name string) error {
	m, err := s.lockFor(name, "complete")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()
	return s.completeLocked(m)
}

func (s *Service) completeLocked(m *managed) error {
	name := m.rec.Name
	if m.rec.Status != StatusRunning {
		return errs.NewMigrationError(errs.KindInvalidState, name, "complete",
			goerrors.Errorf("complete is legal only from %s, current status is %s", StatusRunning, m.rec.Status))
	}
	if bang, ok := m.rec.Strategy.Strategy.(*strategy.BigBang); ok && !bang.Switched {
		return errs.NewMigrationError(errs.KindInvalidState, name, "complete",
			goerrors.Errorf("big_bang switch has not executed yet"))
	}
	m.rec.Status = StatusCompleted
	if err := s.persist(m.rec); err != nil {
		return err
	}
	if s.router != nil {
		s.router.Deactivate(m.rec)
	}
	log.Infof("migration %q completed", name)
	return nil
}

// MovementDone is reported by the coordinator when a job finishes.
// Under big_bang it is what unblocks the durable flip.
func (s *Service) MovementDone(migrationUUID string) {
	m := s.managedByUUID(migrationUUID)
	if m == nil {
		log.Errorf("movement done for unknown migration %s", migrationUUID)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.Status != StatusRunning {
		log.Infof("movement for %q finished while migration is %s; ignoring", m.rec.Name, m.rec.Status)
		return
	}
	if bang, ok := m.rec.Strategy.Strategy.(*strategy.BigBang); ok {
		if !bang.Switched {
			if err := s.flipLocked(m, bang); err != nil {
				log.Errorf("big_bang flip of %q after movement: %v", m.rec.Name, err)
				return
			}
		}
		if err := s.completeLocked(m); err != nil {
			log.Errorf("complete %q after movement: %v", m.rec.Name, err)
		}
	}
}

// flipLocked executes the one-shot big_bang switch: all interlays to
// backend 2, atomically from the caller's point of view.
func (s *Service) flipLocked(m *managed, bang *strategy.BigBang) error {
	if s.router != nil {
		if err := s.router.SwitchAll(m.rec, 2); err != nil {
			return s.failLocked(m, fmt.Errorf("big_bang switch: %w", err))
		}
	}
	bang.Switched = true
	log.Infof("big_bang switch executed for migration %q", m.rec.Name)
	return s.persist(m.rec)
}

// MarkFailed is the terminal execution-failure path (rollback_all and
// exhausted retry_then_all land here through the recovery handler).
func (s *Service) MarkFailed(name string, cause error) error {
	m, err := s.lockFor(name, "mark_failed")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()
	return s.failLocked(m, cause)
}

func (s *Service) failLocked(m *managed, cause error) error {
	if !m.rec.Status.CanTransitionTo(StatusFailed) {
		return errs.NewMigrationError(errs.KindInvalidState, m.rec.Name, "mark_failed",
			goerrors.Errorf("cannot fail from status %s", m.rec.Status))
	}
	m.rec.Status = StatusFailed
	if cause != nil {
		m.rec.LastError = cause.Error()
	}
	if err := s.persist(m.rec); err != nil {
		return err
	}
	log.Errorf("migration %q failed: %v", m.rec.Name, cause)
	return errs.NewMigrationError(errs.KindExecution, m.rec.Name, "migrate", cause)
}

// MarkBindingFailed records a single binding's failure under
// allow_partial: siblings keep running and the migration stays Running.
func (s *Service) MarkBindingFailed(name string, kind BindingKind, resourceID string, cause error) error {
	m, err := s.lockFor(name, "mark_binding_failed")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	for i := range m.rec.Bindings {
		b := &m.rec.Bindings[i]
		if b.Kind == kind && b.ID == resourceID {
			b.Failed = true
			b.Error = cause.Error()
			log.Errorf("binding %s/%s of migration %q failed: %v", kind, resourceID, name, cause)
			return s.persist(m.rec)
		}
	}
	return errs.NewMigrationError(errs.KindNotFound, name, "mark_binding_failed",
		goerrors.Errorf("binding %s/%s not found", kind, resourceID))
}

// CheckTimeWindows executes due time-window flips. Called periodically
// by the serve loop; idempotent against clock skew since the flip
// records executed=true.
func (s *Service) CheckTimeWindows(now time.Time) {
	for _, m := range s.all() {
		m.mu.Lock()
		if m.rec.Status == StatusRunning {
			if tw, ok := m.rec.Strategy.Strategy.(*strategy.TimeWindow); ok && tw.ShouldFlip(now) {
				tw.Executed = true
				if s.router != nil {
					if err := s.router.SwitchAll(m.rec, 2); err != nil {
						log.Errorf("time_window switch of %q: %v", m.rec.Name, err)
						tw.Executed = false
						m.mu.Unlock()
						continue
					}
				}
				if err := s.persist(m.rec); err != nil {
					log.Errorf("persist time_window flip of %q: %v", m.rec.Name, err)
				}
				log.Infof("time_window flip executed for migration %q", m.rec.Name)
			}
		}
		m.mu.Unlock()
	}
}

func (s *Service) Get(name string) (*Record, error) {
	s.mu.RLock()
	m, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NewMigrationError(errs.KindNotFound, name, "get", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Clone(), nil
}

func (s *Service) GetByUUID(migrationUUID string) (*Record, error) {
	m := s.managedByUUID(migrationUUID)
	if m == nil {
		return nil, errs.NewMigrationError(errs.KindNotFound, migrationUUID, "get", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Clone(), nil
}

func (s *Service) List() []*Record {
	managed := s.all()
	records := make([]*Record, 0, len(managed))
	for _, m := range managed {
		m.mu.Lock()
		records = append(records, m.rec.Clone())
		m.mu.Unlock()
	}
	return records
}

// End archives a terminal migration: the record is removed from the
// registry and the durable store, releasing its bindings.
func (s *Service) End(name string) error {
	m, err := s.lockFor(name, "end")
	if err != nil {
		return err
	}
	defer m.mu.Unlock()

	if !m.rec.Status.IsTerminal() {
		return errs.NewMigrationError(errs.KindInvalidState, name, "end",
			goerrors.Errorf("end is legal only for terminal migrations, current status is %s", m.rec.Status))
	}
	if err := s.metaDB.DeleteMigration(name); err != nil {
		return err
	}
	if err := s.metaDB.DeleteMovementCheckpoint(m.rec.UUID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.byName, name)
	delete(s.byUUID, m.rec.UUID)
	s.mu.Unlock()
	log.Infof("migration %q ended and archived", name)
	return nil
}

func (s *Service) managedByUUID(migrationUUID string) *managed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byUUID[migrationUUID]
}

// lockFor serializes transitions per migration. A transition already
// in flight yields Conflict, never an interleaved write.
func (s *Service) lockFor(name string, op string) (*managed, error) {
	s.mu.RLock()
	m, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NewMigrationError(errs.KindNotFound, name, op, nil)
	}
	if !m.mu.TryLock() {
		return nil, errs.NewMigrationError(errs.KindConflict, name, op,
			goerrors.Errorf("another transition is in progress"))
	}
	return m, nil
}

func (s *Service) persist(rec *Record) error {
	rec.UpdatedAt = time.Now()
	row, err := rec.toRow()
	if err != nil {
		return err
	}
	if err := s.metaDB.UpdateMigration(row); err != nil {
		return fmt.Errorf("persist migration %q: %w", rec.Name, err)
	}
	return nil
}
