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
	"encoding/json"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Spec wraps a Strategy for persistence. The wire shape is the
// variant's own fields plus a "type" discriminator.
type Spec struct {
	Strategy
}

func NewSpec(s Strategy) Spec {
	return Spec{Strategy: s}
}

func (s Spec) MarshalJSON() ([]byte, error) {
	if s.Strategy == nil {
		return nil, goerrors.Errorf("cannot marshal empty strategy spec")
	}
	body, err := json.Marshal(s.Strategy)
	if err != nil {
		return nil, fmt.Errorf("marshal strategy %q: %w", s.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("reshape strategy %q: %w", s.Type(), err)
	}
	typeTag, _ := json.Marshal(s.Type())
	fields["type"] = typeTag
	return json.Marshal(fields)
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("read strategy type tag: %w", err)
	}
	strat, err := newStrategy(probe.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, strat); err != nil {
		return fmt.Errorf("unmarshal strategy %q: %w", probe.Type, err)
	}
	s.Strategy = strat
	return nil
}

func newStrategy(t Type) (Strategy, error) {
	switch t {
	case TypeBigBang:
		return &BigBang{}, nil
	case TypeCanary:
		return &Canary{}, nil
	case TypeBlueGreen:
		return &BlueGreen{}, nil
	case TypeRollingUpdate:
		return &RollingUpdate{}, nil
	case TypeShadowTraffic:
		return &ShadowTraffic{}, nil
	case TypeStranglerFig:
		return &StranglerFig{}, nil
	case TypeFeatureFlag:
		return &FeatureFlag{}, nil
	case TypeGeographic:
		return &Geographic{}, nil
	case TypeTimeWindow:
		return &TimeWindow{}, nil
	default:
		return nil, goerrors.Errorf("unknown strategy type: %q", t)
	}
}
