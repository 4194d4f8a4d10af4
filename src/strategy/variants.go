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
package strategy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
)

type WriteModeType string

const (
	WriteModeDualWrite WriteModeType = "dual_write"
	WriteModeCutover   WriteModeType = "cutover"
)

type DualWritePolicy string

const (
	OldAuthoritative DualWritePolicy = "old_authoritative"
	NewAuthoritative DualWritePolicy = "new_authoritative"
	BestEffort       DualWritePolicy = "best_effort"
)

// WriteMode governs the write path under Canary. dual_write sends every
// write to both backends and judges success per Policy; cutover routes
// writes like reads against Percentage.
type WriteMode struct {
	Type       WriteModeType   `json:"type"`
	Policy     DualWritePolicy `json:"policy,omitempty"`
	Percentage float64         `json:"percentage,omitempty"`
}

// BigBang switches everything at once. With Durability set the flip
// waits for the movement job to finish; Switched is recorded by the
// state machine when the flip executes.
type BigBang struct {
	Durability bool `json:"durability"`
	Switched   bool `json:"switched"`
}

func (s *BigBang) Type() Type { return TypeBigBang }

func (s *BigBang) DecideRead(req Request) Decision  { return s.decide() }
func (s *BigBang) DecideWrite(req Request) Decision { return s.decide() }

func (s *BigBang) decide() Decision {
	if s.Switched {
		return Decision{Backend: New, Reason: string(TypeBigBang)}
	}
	return Decision{Backend: Old, Reason: string(TypeBigBang)}
}

func (s *BigBang) Validate() []string        { return nil }
func (s *BigBang) SupportsLiveUpdate() bool  { return false }
func (s *BigBang) SupportsPause() bool       { return false }
func (s *BigBang) isStrategy()               {}

// Canary routes ReadPercentage of reads to the new backend via a stable
// hash of the request key, so a session stays on one side until the
// percentage moves.
type Canary struct {
	ReadPercentage float64    `json:"read_percentage"`
	WriteMode      *WriteMode `json:"write_mode,omitempty"`
}

func (s *Canary) Type() Type { return TypeCanary }

func (s *Canary) DecideRead(req Request) Decision {
	return decideByFraction(req.Key, s.ReadPercentage, string(TypeCanary))
}

func (s *Canary) DecideWrite(req Request) Decision {
	if s.WriteMode == nil {
		// invalid combination; fail safe until test() catches it
		return Decision{Backend: Old, Reason: string(TypeCanary)}
	}
	switch s.WriteMode.Type {
	case WriteModeDualWrite:
		return Decision{Backend: Both, Reason: string(TypeCanary)}
	case WriteModeCutover:
		return decideByFraction(req.Key, s.WriteMode.Percentage, string(TypeCanary))
	default:
		return Decision{Backend: Old, Reason: string(TypeCanary)}
	}
}

// decideByFraction applies the clamped percentage against the key's
// stable hash point. The 0 and 1 extremes route unconditionally so a
// cutover at percentage 1.0 is indistinguishable from a completed
// big-bang switch, unknown keys included.
func decideByFraction(key string, pct float64, reason string) Decision {
	pct = clampFraction(pct)
	if pct >= 1 {
		return Decision{Backend: New, Reason: reason}
	}
	if pct <= 0 || key == "" {
		return Decision{Backend: Old, Reason: reason}
	}
	if hashFraction(key) < pct {
		return Decision{Backend: New, Reason: reason}
	}
	return Decision{Backend: Old, Reason: reason}
}

func (s *Canary) Validate() []string {
	var problems []string
	if s.ReadPercentage < 0 || s.ReadPercentage > 1 {
		problems = append(problems, fmt.Sprintf("canary read_percentage %v outside [0,1]", s.ReadPercentage))
	}
	if s.WriteMode == nil {
		problems = append(problems, "canary requires write_mode")
		return problems
	}
	switch s.WriteMode.Type {
	case WriteModeDualWrite:
		if !lo.Contains([]DualWritePolicy{OldAuthoritative, NewAuthoritative, BestEffort}, s.WriteMode.Policy) {
			problems = append(problems, fmt.Sprintf("dual_write policy %q unknown", s.WriteMode.Policy))
		}
	case WriteModeCutover:
		if s.WriteMode.Percentage < 0 || s.WriteMode.Percentage > 1 {
			problems = append(problems, fmt.Sprintf("cutover percentage %v outside [0,1]", s.WriteMode.Percentage))
		}
	default:
		problems = append(problems, fmt.Sprintf("write_mode type %q unknown", s.WriteMode.Type))
	}
	return problems
}

func (s *Canary) SupportsLiveUpdate() bool { return true }
func (s *Canary) SupportsPause() bool      { return false }
func (s *Canary) isStrategy()              {}

// BlueGreen is a binary, instantaneous flip.
type BlueGreen struct {
	ActiveIsNew bool `json:"active_is_new"`
}

func (s *BlueGreen) Type() Type { return TypeBlueGreen }

func (s *BlueGreen) DecideRead(req Request) Decision  { return s.decide() }
func (s *BlueGreen) DecideWrite(req Request) Decision { return s.decide() }

func (s *BlueGreen) decide() Decision {
	if s.ActiveIsNew {
		return Decision{Backend: New, Reason: string(TypeBlueGreen)}
	}
	return Decision{Backend: Old, Reason: string(TypeBlueGreen)}
}

func (s *BlueGreen) Validate() []string       { return nil }
func (s *BlueGreen) SupportsLiveUpdate() bool { return false }
func (s *BlueGreen) SupportsPause() bool      { return false }
func (s *BlueGreen) isStrategy()              {}

// RollingUpdate partitions traffic by instance. A request keyed by an
// instance id routes New once that id is in MigratedInstances; any
// other key is folded onto one of TotalInstances partitions first.
type RollingUpdate struct {
	TotalInstances    int      `json:"total_instances"`
	MigratedInstances []string `json:"migrated_instances"`
}

func (s *RollingUpdate) Type() Type { return TypeRollingUpdate }

func (s *RollingUpdate) DecideRead(req Request) Decision  { return s.decide(req) }
func (s *RollingUpdate) DecideWrite(req Request) Decision { return s.decide(req) }

func (s *RollingUpdate) decide(req Request) Decision {
	if req.Key == "" || s.TotalInstances <= 0 {
		return Decision{Backend: Old, Reason: string(TypeRollingUpdate)}
	}
	instance := req.Key
	if !lo.Contains(s.MigratedInstances, instance) {
		// not an instance id: fold onto a partition deterministically
		instance = strconv.Itoa(int(hashFraction(req.Key) * float64(s.TotalInstances)))
	}
	if lo.Contains(s.MigratedInstances, instance) {
		return Decision{Backend: New, Reason: string(TypeRollingUpdate)}
	}
	return Decision{Backend: Old, Reason: string(TypeRollingUpdate)}
}

func (s *RollingUpdate) Validate() []string {
	var problems []string
	if s.TotalInstances <= 0 {
		problems = append(problems, fmt.Sprintf("rolling_update total_instances %d must be positive", s.TotalInstances))
	}
	if len(s.MigratedInstances) > s.TotalInstances && s.TotalInstances > 0 {
		problems = append(problems, fmt.Sprintf("rolling_update has %d migrated instances out of %d total", len(s.MigratedInstances), s.TotalInstances))
	}
	return problems
}

func (s *RollingUpdate) SupportsLiveUpdate() bool { return true }
func (s *RollingUpdate) SupportsPause() bool      { return true }
func (s *RollingUpdate) isStrategy()              {}

// ShadowTraffic serves everything from Old while New receives a
// best-effort async copy whose response is discarded. Shadow-copy
// errors are logged, never surfaced to the client.
type ShadowTraffic struct{}

func (s *ShadowTraffic) Type() Type { return TypeShadowTraffic }

func (s *ShadowTraffic) DecideRead(req Request) Decision  { return s.decide() }
func (s *ShadowTraffic) DecideWrite(req Request) Decision { return s.decide() }

func (s *ShadowTraffic) decide() Decision {
	return Decision{Backend: Old, Reason: string(TypeShadowTraffic), Shadow: true}
}

func (s *ShadowTraffic) Validate() []string       { return nil }
func (s *ShadowTraffic) SupportsLiveUpdate() bool { return false }
func (s *ShadowTraffic) SupportsPause() bool      { return false }
func (s *ShadowTraffic) isStrategy()              {}

// StranglerFig carves features off one at a time; the request key names
// the feature being exercised.
type StranglerFig struct {
	Features map[string]bool `json:"features"`
}

func (s *StranglerFig) Type() Type { return TypeStranglerFig }

func (s *StranglerFig) DecideRead(req Request) Decision  { return s.decide(req) }
func (s *StranglerFig) DecideWrite(req Request) Decision { return s.decide(req) }

func (s *StranglerFig) decide(req Request) Decision {
	if s.Features[req.Key] {
		return Decision{Backend: New, Reason: string(TypeStranglerFig)}
	}
	return Decision{Backend: Old, Reason: string(TypeStranglerFig)}
}

func (s *StranglerFig) Validate() []string {
	if len(s.Features) == 0 {
		return []string{"strangler_fig requires at least one feature"}
	}
	return nil
}

func (s *StranglerFig) SupportsLiveUpdate() bool { return true }
func (s *StranglerFig) SupportsPause() bool      { return false }
func (s *StranglerFig) isStrategy()              {}

// FeatureFlag gates on a named flag with a rollout percentage applied
// per user segment (the request key).
type FeatureFlag struct {
	Flag              string  `json:"flag"`
	Enabled           bool    `json:"enabled"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

func (s *FeatureFlag) Type() Type { return TypeFeatureFlag }

func (s *FeatureFlag) DecideRead(req Request) Decision  { return s.decide(req) }
func (s *FeatureFlag) DecideWrite(req Request) Decision { return s.decide(req) }

func (s *FeatureFlag) decide(req Request) Decision {
	if !s.Enabled {
		return Decision{Backend: Old, Reason: string(TypeFeatureFlag)}
	}
	// scope the hash by flag name so two flags cut the segment space differently
	return decideByFraction(s.Flag+"/"+req.Key, s.RolloutPercentage, string(TypeFeatureFlag))
}

func (s *FeatureFlag) Validate() []string {
	var problems []string
	if s.Flag == "" {
		problems = append(problems, "feature_flag requires a flag name")
	}
	if s.RolloutPercentage < 0 || s.RolloutPercentage > 1 {
		problems = append(problems, fmt.Sprintf("feature_flag rollout_percentage %v outside [0,1]", s.RolloutPercentage))
	}
	return problems
}

func (s *FeatureFlag) SupportsLiveUpdate() bool { return true }
func (s *FeatureFlag) SupportsPause() bool      { return false }
func (s *FeatureFlag) isStrategy()              {}

// Geographic routes by the region tag on the request.
type Geographic struct {
	NewRegions []string `json:"new_regions"`
}

func (s *Geographic) Type() Type { return TypeGeographic }

func (s *Geographic) DecideRead(req Request) Decision  { return s.decide(req) }
func (s *Geographic) DecideWrite(req Request) Decision { return s.decide(req) }

func (s *Geographic) decide(req Request) Decision {
	if req.Region != "" && lo.Contains(s.NewRegions, req.Region) {
		return Decision{Backend: New, Reason: string(TypeGeographic)}
	}
	return Decision{Backend: Old, Reason: string(TypeGeographic)}
}

func (s *Geographic) Validate() []string {
	if len(s.NewRegions) == 0 {
		return []string{"geographic requires at least one region in new_regions"}
	}
	return nil
}

func (s *Geographic) SupportsLiveUpdate() bool { return true }
func (s *Geographic) SupportsPause() bool      { return false }
func (s *Geographic) isStrategy()              {}

// TimeWindow flips once at or after WindowStart. The flip records
// Executed so clock skew cannot flip twice, and is a no-op past
// WindowEnd if it never ran.
type TimeWindow struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Executed    bool      `json:"executed"`
}

func (s *TimeWindow) Type() Type { return TypeTimeWindow }

func (s *TimeWindow) DecideRead(req Request) Decision  { return s.decide() }
func (s *TimeWindow) DecideWrite(req Request) Decision { return s.decide() }

func (s *TimeWindow) decide() Decision {
	if s.Executed {
		return Decision{Backend: New, Reason: string(TypeTimeWindow)}
	}
	return Decision{Backend: Old, Reason: string(TypeTimeWindow)}
}

// ShouldFlip reports whether the one-shot flip is due at now.
func (s *TimeWindow) ShouldFlip(now time.Time) bool {
	if s.Executed || s.WindowStart.IsZero() || now.Before(s.WindowStart) {
		return false
	}
	if !s.WindowEnd.IsZero() && now.After(s.WindowEnd) {
		return false
	}
	return true
}

func (s *TimeWindow) Validate() []string {
	var problems []string
	if s.WindowStart.IsZero() {
		problems = append(problems, "time_window requires window_start")
	}
	if !s.WindowEnd.IsZero() && !s.WindowEnd.After(s.WindowStart) {
		problems = append(problems, "time_window window_end must be after window_start")
	}
	return problems
}

func (s *TimeWindow) SupportsLiveUpdate() bool { return false }
func (s *TimeWindow) SupportsPause() bool      { return true }
func (s *TimeWindow) isStrategy()              {}
