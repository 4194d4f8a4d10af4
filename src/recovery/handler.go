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
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/eden-dev-inc/interlay/src/errs"
	"github.com/eden-dev-inc/interlay/src/migration"
)

// Handler is the failure side of the orchestrator: it receives
// movement outcomes from the coordinator and applies each migration's
// failure handling policy against the state machine.
type Handler struct {
	svc   *migration.Service
	mover migration.Mover

	retryInitialInterval time.Duration

	mu       sync.Mutex
	attempts map[string]int // migration uuid -> failed attempts
	wg       sync.WaitGroup
}

func NewHandler(svc *migration.Service, mover migration.Mover) *Handler {
	return &Handler{
		svc:                  svc,
		mover:                mover,
		retryInitialInterval: backoff.DefaultInitialInterval,
		attempts:             map[string]int{},
	}
}

// MovementDone feeds a finished job back into the state machine; under
// big_bang with durability this is what triggers the flip.
func (h *Handler) MovementDone(migrationUUID string) {
	h.mu.Lock()
	delete(h.attempts, migrationUUID)
	h.mu.Unlock()
	h.svc.MovementDone(migrationUUID)
}

// MovementFailed applies the migration's failure handling policy.
// retry_then_all resumes the job from its checkpoint with exponential
// backoff, at most retry_count times across the life of the job,
// before degrading to rollback_all behavior.
func (h *Handler) MovementFailed(rec *migration.Record, cause error) {
	var me *errs.MovementError
	if errors.As(cause, &me) {
		log.Errorf("data movement of migration %q failed at step %s: %v", rec.Name, me.Step(), cause)
	} else {
		log.Errorf("data movement of migration %q failed: %v", rec.Name, cause)
	}

	switch rec.FailureHandling.Type {
	case migration.FailureAllowPartial:
		// surfaced, not rolled back; untouched bindings keep serving
		h.markFailed(rec, cause)

	case migration.FailureRetryThenAll:
		h.mu.Lock()
		h.attempts[rec.UUID]++
		attempt := h.attempts[rec.UUID]
		h.mu.Unlock()
		if attempt <= rec.FailureHandling.RetryCount {
			h.scheduleResume(rec, attempt)
			return
		}
		log.Errorf("movement of migration %q exhausted %d retries, rolling back", rec.Name, rec.FailureHandling.RetryCount)
		h.failAndRollback(rec, cause)

	default: // rollback_all
		h.failAndRollback(rec, cause)
	}
}

// scheduleResume resumes the job from its checkpoint after an
// exponential delay. Runs detached: the reporter callback sits on the
// coordinator's job goroutine and must not block.
func (h *Handler) scheduleResume(rec *migration.Record, attempt int) {
	delay := h.retryInitialInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * backoff.DefaultMultiplier)
	}
	log.Infof("retrying movement of migration %q from checkpoint in %s (attempt %d of %d)",
		rec.Name, delay, attempt, rec.FailureHandling.RetryCount)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		time.Sleep(delay)
		// The migration may have been rolled back or paused while the
		// delay ran; resume only a still-running one.
		fresh, err := h.svc.GetByUUID(rec.UUID)
		if err != nil || fresh.Status != migration.StatusRunning {
			log.Infof("skipping movement retry of migration %q, no longer running", rec.Name)
			return
		}
		if err := h.mover.Resume(fresh); err != nil {
			log.Errorf("resume movement of migration %q: %v", rec.Name, err)
			h.failAndRollback(fresh, err)
		}
	}()
}

// markFailed drives the record to Failed. MarkFailed surfaces the
// execution failure as its return value, which is expected here; only
// a different kind means the transition itself went wrong.
func (h *Handler) markFailed(rec *migration.Record, cause error) {
	if err := h.svc.MarkFailed(rec.Name, cause); err != nil && errs.KindOf(err) != errs.KindExecution {
		log.Errorf("mark migration %q failed: %v", rec.Name, err)
	}
}

func (h *Handler) failAndRollback(rec *migration.Record, cause error) {
	h.markFailed(rec, cause)
	if err := h.svc.Rollback(rec.Name); err != nil {
		log.Errorf("rollback of migration %q: %v", rec.Name, err)
	}
}

// BindingFailed isolates a single failed binding under allow_partial;
// any other policy escalates to a full failure.
func (h *Handler) BindingFailed(rec *migration.Record, kind migration.BindingKind, resourceID string, cause error) {
	if rec.FailureHandling.Type == migration.FailureAllowPartial {
		if err := h.svc.MarkBindingFailed(rec.Name, kind, resourceID, cause); err != nil {
			log.Errorf("mark binding %s/%s of migration %q failed: %v", kind, resourceID, rec.Name, err)
		}
		return
	}
	h.failAndRollback(rec, cause)
}

// Wait blocks until pending retry resumes have fired. Test hook.
func (h *Handler) Wait() {
	h.wg.Wait()
}
