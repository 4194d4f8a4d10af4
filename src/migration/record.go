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
	"encoding/json"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"

	"github.com/eden-dev-inc/interlay/src/metadb"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

type DataMovementType string

const (
	MovementNone     DataMovementType = "none"
	MovementSnapshot DataMovementType = "snapshot"
	MovementScan     DataMovementType = "scan"
)

type ReplacePolicy string

const (
	ReplaceNone  ReplacePolicy = "none"
	ReplaceAll   ReplacePolicy = "replace"
	ReplaceMerge ReplacePolicy = "merge"
)

// DataMovement configures the historical copy. Source and Target name
// registered backend stores; when empty the engine's defaults apply.
type DataMovement struct {
	Type    DataMovementType `json:"type"`
	Replace ReplacePolicy    `json:"replace,omitempty"`
	Source  string           `json:"source,omitempty"`
	Target  string           `json:"target,omitempty"`
}

func (d DataMovement) Validate() []string {
	var problems []string
	if !lo.Contains([]DataMovementType{MovementNone, MovementSnapshot, MovementScan}, d.Type) {
		problems = append(problems, fmt.Sprintf("data movement type %q unknown", d.Type))
	}
	if d.Type != MovementNone && !lo.Contains([]ReplacePolicy{ReplaceNone, ReplaceAll, ReplaceMerge}, d.Replace) {
		problems = append(problems, fmt.Sprintf("replace policy %q unknown", d.Replace))
	}
	return problems
}

type FailureHandlingType string

const (
	FailureRollbackAll  FailureHandlingType = "rollback_all"
	FailureAllowPartial FailureHandlingType = "allow_partial"
	FailureRetryThenAll FailureHandlingType = "retry_then_all"
)

type FailureHandling struct {
	Type       FailureHandlingType `json:"type"`
	RetryCount int                 `json:"retry_count,omitempty"`
}

func (f FailureHandling) Validate() []string {
	var problems []string
	if !lo.Contains([]FailureHandlingType{FailureRollbackAll, FailureAllowPartial, FailureRetryThenAll}, f.Type) {
		problems = append(problems, fmt.Sprintf("failure handling type %q unknown", f.Type))
	}
	if f.Type == FailureRetryThenAll && f.RetryCount <= 0 {
		problems = append(problems, fmt.Sprintf("retry_then_all retry_count %d must be positive", f.RetryCount))
	}
	return problems
}

type BindingKind string

const (
	BindingAPI      BindingKind = "api"
	BindingInterlay BindingKind = "interlay"
)

// Binding references an API or Interlay resource by stable id only.
// The resource side keeps no back-pointer; both resolve through their
// stores at lookup time.
type Binding struct {
	Kind   BindingKind `json:"kind"`
	ID     string      `json:"id"`
	Failed bool        `json:"failed,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Record is one migration unit: the durable state the state machine
// owns and everything else reads.
type Record struct {
	Name            string          `json:"name"`
	UUID            string          `json:"uuid"`
	Status          Status          `json:"status"`
	Strategy        strategy.Spec   `json:"strategy"`
	DataMovement    DataMovement    `json:"data_movement"`
	FailureHandling FailureHandling `json:"failure_handling"`
	Bindings        []Binding       `json:"bindings"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r *Record) HasBinding(kind BindingKind, id string) bool {
	return lo.ContainsBy(r.Bindings, func(b Binding) bool {
		return b.Kind == kind && b.ID == id
	})
}

func (r *Record) InterlayIDs() []string {
	interlays := lo.Filter(r.Bindings, func(b Binding, _ int) bool {
		return b.Kind == BindingInterlay
	})
	return lo.Map(interlays, func(b Binding, _ int) string { return b.ID })
}

// Clone returns a copy safe to hand outside the single-writer lock.
// The strategy is deep-copied through its JSON form since variants are
// held behind an interface.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Bindings = append([]Binding(nil), r.Bindings...)
	if r.Strategy.Strategy != nil {
		data, err := json.Marshal(r.Strategy)
		if err == nil {
			var spec strategy.Spec
			if json.Unmarshal(data, &spec) == nil {
				cp.Strategy = spec
			}
		}
	}
	return &cp
}

func (r *Record) toRow() (*metadb.MigrationRow, error) {
	strategyJSON, err := json.Marshal(r.Strategy)
	if err != nil {
		return nil, fmt.Errorf("marshal strategy of migration %q: %w", r.Name, err)
	}
	movementJSON, err := json.Marshal(r.DataMovement)
	if err != nil {
		return nil, fmt.Errorf("marshal data movement of migration %q: %w", r.Name, err)
	}
	failureJSON, err := json.Marshal(r.FailureHandling)
	if err != nil {
		return nil, fmt.Errorf("marshal failure handling of migration %q: %w", r.Name, err)
	}
	bindingsJSON, err := json.Marshal(r.Bindings)
	if err != nil {
		return nil, fmt.Errorf("marshal bindings of migration %q: %w", r.Name, err)
	}
	return &metadb.MigrationRow{
		Name:                r.Name,
		UUID:                r.UUID,
		Status:              string(r.Status),
		StrategyJSON:        string(strategyJSON),
		DataMovementJSON:    string(movementJSON),
		FailureHandlingJSON: string(failureJSON),
		BindingsJSON:        string(bindingsJSON),
		LastError:           r.LastError,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

func recordFromRow(row *metadb.MigrationRow) (*Record, error) {
	status, err := ParseStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("load migration %q: %w", row.Name, err)
	}
	rec := &Record{
		Name:      row.Name,
		UUID:      row.UUID,
		Status:    status,
		LastError: row.LastError,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.StrategyJSON), &rec.Strategy); err != nil {
		return nil, fmt.Errorf("load strategy of migration %q: %w", row.Name, err)
	}
	if err := json.Unmarshal([]byte(row.DataMovementJSON), &rec.DataMovement); err != nil {
		return nil, fmt.Errorf("load data movement of migration %q: %w", row.Name, err)
	}
	if err := json.Unmarshal([]byte(row.FailureHandlingJSON), &rec.FailureHandling); err != nil {
		return nil, fmt.Errorf("load failure handling of migration %q: %w", row.Name, err)
	}
	if row.BindingsJSON != "" {
		if err := json.Unmarshal([]byte(row.BindingsJSON), &rec.Bindings); err != nil {
			return nil, fmt.Errorf("load bindings of migration %q: %w", row.Name, err)
		}
	}
	return rec, nil
}

// ValidationReport is the outcome of a dry run. It never reflects
// partial side effects: test() mutates nothing.
type ValidationReport struct {
	Migration string   `json:"migration"`
	Problems  []string `json:"problems,omitempty"`
}

func (r *ValidationReport) OK() bool {
	return len(r.Problems) == 0
}

func (r *ValidationReport) Err() error {
	if r.OK() {
		return nil
	}
	return goerrors.Errorf("migration %q failed validation with %d problem(s)", r.Migration, len(r.Problems))
}
