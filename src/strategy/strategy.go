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

// Package strategy is the pure routing decision layer. Given a
// migration's strategy parameters and a request key it answers, for
// reads and writes independently, which backend should serve. No I/O,
// no locks: every decision sits on the request hot path.
package strategy

import (
	"time"
)

type Backend int

const (
	Old Backend = iota
	New
	Both
)

var backendNames = map[Backend]string{
	Old:  "old",
	New:  "new",
	Both: "both",
}

func (b Backend) String() string {
	return backendNames[b]
}

// Request carries the per-request routing inputs. Key is the session
// affinity / hash key, Region the geographic tag. Either may be empty;
// strategies that need a missing field fall back to Old.
type Request struct {
	Key    string
	Region string
}

// Decision is ephemeral and never persisted. Shadow marks decisions
// where New receives a best-effort async copy whose response is
// discarded.
type Decision struct {
	Backend Backend
	Reason  string
	Shadow  bool
}

type Type string

const (
	TypeBigBang       Type = "big_bang"
	TypeCanary        Type = "canary"
	TypeBlueGreen     Type = "blue_green"
	TypeRollingUpdate Type = "rolling_update"
	TypeShadowTraffic Type = "shadow_traffic"
	TypeStranglerFig  Type = "strangler_fig"
	TypeFeatureFlag   Type = "feature_flag"
	TypeGeographic    Type = "geographic"
	TypeTimeWindow    Type = "time_window"
)

// Strategy is a closed set: exactly the nine variants in this package
// implement it. The unexported marker keeps external packages from
// adding variants the engine does not know how to route.
type Strategy interface {
	Type() Type
	DecideRead(req Request) Decision
	DecideWrite(req Request) Decision

	// Validate reports configuration problems without side effects.
	Validate() []string

	// SupportsLiveUpdate reports whether parameters may change while
	// the migration is Running.
	SupportsLiveUpdate() bool

	// SupportsPause reports whether the migration may be manually
	// paused under this strategy.
	SupportsPause() bool

	isStrategy()
}

// Clock allows tests to pin the time-window clock.
var Clock func() time.Time = time.Now
