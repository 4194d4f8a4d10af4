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
	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusReady       Status = "ready"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRollingBack Status = "rolling_back"
	StatusRolledBack  Status = "rolled_back"
)

// validTransitions is the full lifecycle graph. Forward transitions
// only, plus the Running→RollingBack→RolledBack path and the
// Paused detour for strategies that support manual pause.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusReady},
	StatusReady:       {StatusRunning},
	StatusRunning:     {StatusPaused, StatusCompleted, StatusFailed, StatusRollingBack},
	StatusPaused:      {StatusRunning},
	StatusFailed:      {StatusRollingBack},
	StatusRollingBack: {StatusRolledBack, StatusFailed},
	StatusCompleted:   nil,
	StatusRolledBack:  nil,
}

func (s Status) CanTransitionTo(next Status) bool {
	return lo.Contains(validTransitions[s], next)
}

// IsTerminal reports whether the migration has ended. Failed is
// terminal for binding exclusivity, yet an operator may still request
// rollback from it, which is why the graph keeps Failed→RollingBack.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRolledBack
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := validTransitions[status]; !ok {
		return "", goerrors.Errorf("invalid migration status: %q", s)
	}
	return status, nil
}
