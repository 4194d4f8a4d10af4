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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanaryReadDistributionAndStability(t *testing.T) {
	canary := &Canary{
		ReadPercentage: 0.25,
		WriteMode:      &WriteMode{Type: WriteModeDualWrite, Policy: OldAuthoritative},
	}

	const samples = 100_000
	newCount := 0
	first := make(map[string]Backend, samples)
	for i := 0; i < samples; i++ {
		key := fmt.Sprintf("session-%d", i)
		d := canary.DecideRead(Request{Key: key})
		if d.Backend == New {
			newCount++
		}
		first[key] = d.Backend
	}

	fraction := float64(newCount) / float64(samples)
	if math.Abs(fraction-0.25) > 0.01 {
		t.Fatalf("new-routed fraction %v too far from 0.25", fraction)
	}

	// repeated decisions at a fixed percentage must not flip any key
	for i := 0; i < samples; i += 97 {
		key := fmt.Sprintf("session-%d", i)
		d := canary.DecideRead(Request{Key: key})
		if d.Backend != first[key] {
			t.Fatalf("key %q flipped from %s to %s", key, first[key], d.Backend)
		}
	}
}

func TestCanaryGrowingPercentageKeepsNewKeysNew(t *testing.T) {
	low := &Canary{ReadPercentage: 0.2}
	high := &Canary{ReadPercentage: 0.6}
	for i := 0; i < 10_000; i++ {
		key := fmt.Sprintf("k%d", i)
		if low.DecideRead(Request{Key: key}).Backend == New {
			require.Equal(t, New, high.DecideRead(Request{Key: key}).Backend,
				"key %q on New at 0.2 must stay New at 0.6", key)
		}
	}
}

func TestCanaryFailSafeDefaults(t *testing.T) {
	canary := &Canary{ReadPercentage: 0.5}

	assert.Equal(t, Old, canary.DecideRead(Request{}).Backend, "empty key falls back to old")
	assert.Equal(t, Old, canary.DecideWrite(Request{Key: "k"}).Backend, "missing write_mode falls back to old")

	clamped := &Canary{ReadPercentage: 7.5}
	assert.Equal(t, New, clamped.DecideRead(Request{Key: "k"}).Backend, "percentage clamps to 1")
	negative := &Canary{ReadPercentage: -3}
	assert.Equal(t, Old, negative.DecideRead(Request{Key: "k"}).Backend, "percentage clamps to 0")
}

func TestCutoverAtFullPercentageMatchesBigBang(t *testing.T) {
	bang := &BigBang{Switched: true}
	cutover := &Canary{
		ReadPercentage: 1.0,
		WriteMode:      &WriteMode{Type: WriteModeCutover, Percentage: 1.0},
	}

	keys := []string{"", "a", "session-42", "region-key"}
	for _, key := range keys {
		req := Request{Key: key}
		assert.Equal(t, bang.DecideRead(req).Backend, cutover.DecideRead(req).Backend, "read key=%q", key)
		assert.Equal(t, bang.DecideWrite(req).Backend, cutover.DecideWrite(req).Backend, "write key=%q", key)
	}
}

func TestCanaryValidation(t *testing.T) {
	require.NotEmpty(t, (&Canary{ReadPercentage: 0.5}).Validate(), "canary without write_mode is invalid")
	require.Empty(t, (&Canary{ReadPercentage: 0.5, WriteMode: &WriteMode{Type: WriteModeDualWrite, Policy: BestEffort}}).Validate())
	require.NotEmpty(t, (&Canary{ReadPercentage: 0.5, WriteMode: &WriteMode{Type: WriteModeDualWrite, Policy: "nonsense"}}).Validate())
}

func TestDualWriteRoutesBoth(t *testing.T) {
	canary := &Canary{
		ReadPercentage: 0.0,
		WriteMode:      &WriteMode{Type: WriteModeDualWrite, Policy: NewAuthoritative},
	}
	assert.Equal(t, Both, canary.DecideWrite(Request{Key: "k"}).Backend)
}

func TestShadowTrafficDecision(t *testing.T) {
	shadow := &ShadowTraffic{}
	d := shadow.DecideRead(Request{Key: "k"})
	assert.Equal(t, Old, d.Backend)
	assert.True(t, d.Shadow)
}

func TestStranglerFigAndFeatureFlag(t *testing.T) {
	fig := &StranglerFig{Features: map[string]bool{"billing": true}}
	assert.Equal(t, New, fig.DecideRead(Request{Key: "billing"}).Backend)
	assert.Equal(t, Old, fig.DecideRead(Request{Key: "search"}).Backend)
	assert.Equal(t, Old, fig.DecideRead(Request{}).Backend)

	flag := &FeatureFlag{Flag: "new-store", Enabled: true, RolloutPercentage: 1.0}
	assert.Equal(t, New, flag.DecideRead(Request{Key: "user-1"}).Backend)
	flag.Enabled = false
	assert.Equal(t, Old, flag.DecideRead(Request{Key: "user-1"}).Backend)
}

func TestGeographicRouting(t *testing.T) {
	geo := &Geographic{NewRegions: []string{"eu-west", "ap-south"}}
	assert.Equal(t, New, geo.DecideRead(Request{Region: "eu-west"}).Backend)
	assert.Equal(t, Old, geo.DecideRead(Request{Region: "us-east"}).Backend)
	assert.Equal(t, Old, geo.DecideRead(Request{}).Backend, "unrecognized region falls back to old")
}

func TestRollingUpdateRouting(t *testing.T) {
	ru := &RollingUpdate{TotalInstances: 4, MigratedInstances: []string{"node-1", "node-3"}}
	assert.Equal(t, New, ru.DecideRead(Request{Key: "node-1"}).Backend)
	assert.Equal(t, Old, ru.DecideRead(Request{Key: "node-2"}).Backend)
	assert.Equal(t, Old, ru.DecideRead(Request{}).Backend)
}

func TestTimeWindowFlip(t *testing.T) {
	start := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	tw := &TimeWindow{WindowStart: start, WindowEnd: end}

	assert.False(t, tw.ShouldFlip(start.Add(-time.Minute)), "before the window")
	assert.True(t, tw.ShouldFlip(start))
	assert.True(t, tw.ShouldFlip(start.Add(time.Hour)))
	assert.False(t, tw.ShouldFlip(end.Add(time.Minute)), "no-op past window_end")

	assert.Equal(t, Old, tw.DecideRead(Request{}).Backend)
	tw.Executed = true
	assert.Equal(t, New, tw.DecideRead(Request{}).Backend)
	assert.False(t, tw.ShouldFlip(start.Add(time.Hour)), "flips only once")
}

func TestSpecJSONRoundTrip(t *testing.T) {
	spec := NewSpec(&Canary{
		ReadPercentage: 0.25,
		WriteMode:      &WriteMode{Type: WriteModeCutover, Percentage: 0.1},
	})

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"canary"`)

	var got Spec
	require.NoError(t, json.Unmarshal(data, &got))
	canary, ok := got.Strategy.(*Canary)
	require.True(t, ok, "round trip must restore the concrete variant")
	assert.Equal(t, 0.25, canary.ReadPercentage)
	assert.Equal(t, WriteModeCutover, canary.WriteMode.Type)

	var bad Spec
	err = json.Unmarshal([]byte(`{"type":"teleport"}`), &bad)
	require.Error(t, err)
}
