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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-dev-inc/interlay/src/backend"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

// brokenStore refuses writes.
type brokenStore struct {
	*backend.MemStore
}

func (b *brokenStore) Put(ctx context.Context, key string, value []byte) error {
	return errors.New("disk full")
}

// slowStore delays writes past any reasonable timeout.
type slowStore struct {
	*backend.MemStore
	delay time.Duration
}

func (s *slowStore) Put(ctx context.Context, key string, value []byte) error {
	select {
	case <-time.After(s.delay):
		return s.MemStore.Put(ctx, key, value)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func bothDecision() strategy.Decision {
	return strategy.Decision{Backend: strategy.Both, Reason: "canary"}
}

func TestDualWriteBothBackendsReceiveTheWrite(t *testing.T) {
	oldStore := backend.NewMemStore("old")
	newStore := backend.NewMemStore("new")
	w := NewDualWriter(oldStore, newStore)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, bothDecision(), strategy.OldAuthoritative, "k", []byte("v")))

	for _, s := range []*backend.MemStore{oldStore, newStore} {
		v, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, found, "store %s missed the write", s.Name())
		assert.Equal(t, []byte("v"), v)
	}
}

func TestOldAuthoritativeToleratesNewBackendFailure(t *testing.T) {
	oldStore := backend.NewMemStore("old")
	broken := &brokenStore{MemStore: backend.NewMemStore("new")}
	w := NewDualWriter(oldStore, broken)
	ctx := context.Background()

	assert.NoError(t, w.Write(ctx, bothDecision(), strategy.OldAuthoritative, "k", []byte("v")))

	_, found, err := oldStore.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestNewAuthoritativeSurfacesNewBackendFailure(t *testing.T) {
	oldStore := backend.NewMemStore("old")
	broken := &brokenStore{MemStore: backend.NewMemStore("new")}
	w := NewDualWriter(oldStore, broken)

	err := w.Write(context.Background(), bothDecision(), strategy.NewAuthoritative, "k", []byte("v"))
	assert.ErrorContains(t, err, "disk full")
}

func TestBestEffortNeedsOnlyOneSide(t *testing.T) {
	broken := &brokenStore{MemStore: backend.NewMemStore("old")}
	newStore := backend.NewMemStore("new")
	w := NewDualWriter(broken, newStore)

	assert.NoError(t, w.Write(context.Background(), bothDecision(), strategy.BestEffort, "k", []byte("v")))

	w2 := NewDualWriter(broken, &brokenStore{MemStore: backend.NewMemStore("new2")})
	err := w2.Write(context.Background(), bothDecision(), strategy.BestEffort, "k", []byte("v"))
	assert.ErrorContains(t, err, "failed on both")
}

func TestSlowBackendIsBoundedByItsOwnTimeout(t *testing.T) {
	oldStore := backend.NewMemStore("old")
	slow := &slowStore{MemStore: backend.NewMemStore("new"), delay: 10 * time.Second}
	w := NewDualWriter(oldStore, slow)
	w.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	err := w.Write(context.Background(), bothDecision(), strategy.OldAuthoritative, "k", []byte("v"))
	assert.NoError(t, err, "old_authoritative must not care about the slow new side")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWriteRoutesSingleBackendDecisions(t *testing.T) {
	oldStore := backend.NewMemStore("old")
	newStore := backend.NewMemStore("new")
	w := NewDualWriter(oldStore, newStore)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, strategy.Decision{Backend: strategy.Old}, "", "a", []byte("1")))
	require.NoError(t, w.Write(ctx, strategy.Decision{Backend: strategy.New}, "", "b", []byte("2")))

	_, foundOld, _ := oldStore.Get(ctx, "a")
	_, missNew, _ := newStore.Get(ctx, "a")
	_, foundNew, _ := newStore.Get(ctx, "b")
	assert.True(t, foundOld)
	assert.False(t, missNew)
	assert.True(t, foundNew)
}

func TestReadRoutesByDecision(t *testing.T) {
	oldStore := backend.NewMemStore("old")
	newStore := backend.NewMemStore("new")
	ctx := context.Background()
	require.NoError(t, oldStore.Put(ctx, "k", []byte("from-old")))
	require.NoError(t, newStore.Put(ctx, "k", []byte("from-new")))
	w := NewDualWriter(oldStore, newStore)

	v, found, err := w.Read(ctx, strategy.Decision{Backend: strategy.Old}, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("from-old"), v)

	v, _, err = w.Read(ctx, strategy.Decision{Backend: strategy.New}, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-new"), v)

	// Both reads old authoritatively
	v, _, err = w.Read(ctx, bothDecision(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-old"), v)
}
