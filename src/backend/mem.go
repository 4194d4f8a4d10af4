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
	"context"
	"sort"
	"sync"
)

// MemStore is the in-process key-value backend. Keys scan in sorted
// order so a cursor is simply the last key served.
type MemStore struct {
	name string

	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore(name string) *MemStore {
	return &MemStore{name: name, data: make(map[string][]byte)}
}

func (s *MemStore) Name() string {
	return s.name
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *MemStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemStore) sortedKeysAfter(cursor Cursor) []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if cursor == "" || k > string(cursor) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *MemStore) Scan(_ context.Context, from Cursor, limit int) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageOf(s.data, s.sortedKeysAfter(from), limit), nil
}

func (s *MemStore) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frozen := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		frozen[k] = v
	}
	return &memSnapshot{data: frozen}, nil
}

type memSnapshot struct {
	data map[string][]byte
}

func (sn *memSnapshot) Read(_ context.Context, from Cursor, limit int) (Page, error) {
	keys := make([]string, 0, len(sn.data))
	for k := range sn.data {
		if from == "" || k > string(from) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return pageOf(sn.data, keys, limit), nil
}

func (sn *memSnapshot) Close() error {
	sn.data = nil
	return nil
}

func pageOf(data map[string][]byte, keys []string, limit int) Page {
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}
	page := Page{Done: limit == len(keys)}
	for _, k := range keys[:limit] {
		v := data[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		page.Records = append(page.Records, Record{Key: k, Value: cp})
	}
	if len(page.Records) > 0 {
		page.Next = Cursor(page.Records[len(page.Records)-1].Key)
	}
	return page
}
