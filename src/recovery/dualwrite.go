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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/eden-dev-inc/interlay/src/backend"
	"github.com/eden-dev-inc/interlay/src/strategy"
)

const DEFAULT_WRITE_TIMEOUT = 5 * time.Second

// DualWriter executes strategy write decisions against the backend
// pair of a migration. A Both decision writes to both stores
// concurrently with independent per-backend timeouts; the dual-write
// policy decides overall success without waiting on the slower side
// beyond its own deadline.
type DualWriter struct {
	oldStore backend.Store
	newStore backend.Store
	timeout  time.Duration
}

func NewDualWriter(oldStore, newStore backend.Store) *DualWriter {
	return &DualWriter{
		oldStore: oldStore,
		newStore: newStore,
		timeout:  DEFAULT_WRITE_TIMEOUT,
	}
}

// SetTimeout bounds each backend write independently.
func (w *DualWriter) SetTimeout(d time.Duration) {
	w.timeout = d
}

// Write routes one write per the decision. The policy is only
// consulted for Both decisions.
func (w *DualWriter) Write(ctx context.Context, dec strategy.Decision, policy strategy.DualWritePolicy, key string, value []byte) error {
	switch dec.Backend {
	case strategy.Old:
		return w.writeOne(ctx, w.oldStore, key, value)
	case strategy.New:
		return w.writeOne(ctx, w.newStore, key, value)
	case strategy.Both:
		return w.writeBoth(ctx, policy, key, value)
	default:
		return fmt.Errorf("write decision names unknown backend %v", dec.Backend)
	}
}

// Read serves one read per the decision. A Both decision reads the old
// store authoritatively; the new store is only probed so divergence
// can be logged.
func (w *DualWriter) Read(ctx context.Context, dec strategy.Decision, key string) ([]byte, bool, error) {
	if dec.Backend == strategy.New {
		return w.newStore.Get(ctx, key)
	}
	value, found, err := w.oldStore.Get(ctx, key)
	if dec.Backend == strategy.Both && err == nil {
		go w.compareRead(key, value, found)
	}
	return value, found, err
}

func (w *DualWriter) compareRead(key string, oldValue []byte, oldFound bool) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	newValue, newFound, err := w.newStore.Get(ctx, key)
	if err != nil {
		log.Warnf("shadow read of key %q from %s: %v", key, w.newStore.Name(), err)
		return
	}
	if oldFound != newFound || string(oldValue) != string(newValue) {
		log.Warnf("read divergence on key %q between %s and %s", key, w.oldStore.Name(), w.newStore.Name())
	}
}

func (w *DualWriter) writeOne(ctx context.Context, store backend.Store, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := store.Put(ctx, key, value); err != nil {
		return fmt.Errorf("write key %q to %s: %w", key, store.Name(), err)
	}
	return nil
}

func (w *DualWriter) writeBoth(ctx context.Context, policy strategy.DualWritePolicy, key string, value []byte) error {
	oldErr := make(chan error, 1)
	newErr := make(chan error, 1)
	go func() { oldErr <- w.writeOne(ctx, w.oldStore, key, value) }()
	go func() { newErr <- w.writeOne(ctx, w.newStore, key, value) }()
	oe, ne := <-oldErr, <-newErr

	if oe != nil {
		log.Warnf("dual write to %s: %v", w.oldStore.Name(), oe)
	}
	if ne != nil {
		log.Warnf("dual write to %s: %v", w.newStore.Name(), ne)
	}

	switch policy {
	case strategy.NewAuthoritative:
		return ne
	case strategy.BestEffort:
		if oe != nil && ne != nil {
			return fmt.Errorf("dual write of key %q failed on both backends: %w", key, oe)
		}
		return nil
	default: // old_authoritative
		return oe
	}
}
