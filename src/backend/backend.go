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

// Package backend defines the narrow surface the migration core needs
// from a database driver. The per-database-kind drivers (relational,
// document, key-value, ...) live outside this module and implement
// these interfaces; the in-memory store here backs tests and the local
// kv backend kind.
package backend

import (
	"context"
)

type Record struct {
	Key   string
	Value []byte
}

// Cursor is an opaque, resumable scan position. The empty cursor means
// "start of keyspace". Drivers must produce cursors that remain valid
// across process restarts.
type Cursor string

type Page struct {
	Records []Record
	Next    Cursor
	// Done is true when the page is the last one for this pass.
	Done bool
}

// Store is what the data movement coordinator consumes.
type Store interface {
	Name() string

	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error

	// Snapshot returns a handle over a consistent view of the store as
	// of the call. Pages read from it do not observe later writes.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Scan reads up to limit records starting at from. Unlike Snapshot
	// it observes live data, which is what the open-ended scan movement
	// mode wants.
	Scan(ctx context.Context, from Cursor, limit int) (Page, error)
}

type Snapshot interface {
	Read(ctx context.Context, from Cursor, limit int) (Page, error)
	Close() error
}

// Merger resolves a source/target conflict under the merge replace
// policy. The rule is backend-specific; the driver supplies it.
type Merger interface {
	Merge(ctx context.Context, key string, source, target []byte) ([]byte, error)
}
