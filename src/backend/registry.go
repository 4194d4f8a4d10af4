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
package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the engine's named stores. Drivers register under a
// stable name that migrations reference from their data movement
// config.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

func NewRegistry() *Registry {
	return &Registry{stores: map[string]Store{}}
}

func (r *Registry) Add(store Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := store.Name()
	if name == "" {
		return fmt.Errorf("store name must not be empty")
	}
	if _, ok := r.stores[name]; ok {
		return fmt.Errorf("store %q already registered", name)
	}
	r.stores[name] = store
	return nil
}

func (r *Registry) Get(name string) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("store %q not registered", name)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
