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
package movement

import (
	"fmt"

	"github.com/eden-dev-inc/interlay/src/backend"
	"github.com/eden-dev-inc/interlay/src/migration"
)

// StoreResolver resolves a migration's source and target stores out of
// the engine's registry. Migrations that leave the store names empty
// get the engine defaults.
type StoreResolver struct {
	registry      *backend.Registry
	defaultSource string
	defaultTarget string
}

func NewStoreResolver(registry *backend.Registry, defaultSource, defaultTarget string) *StoreResolver {
	return &StoreResolver{
		registry:      registry,
		defaultSource: defaultSource,
		defaultTarget: defaultTarget,
	}
}

func (r *StoreResolver) Resolve(rec *migration.Record) (backend.Store, backend.Store, backend.Merger, error) {
	sourceName := rec.DataMovement.Source
	if sourceName == "" {
		sourceName = r.defaultSource
	}
	targetName := rec.DataMovement.Target
	if targetName == "" {
		targetName = r.defaultTarget
	}
	source, err := r.registry.Get(sourceName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("source of migration %q: %w", rec.Name, err)
	}
	target, err := r.registry.Get(targetName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("target of migration %q: %w", rec.Name, err)
	}
	// merge support is a target driver capability
	merger, _ := target.(backend.Merger)
	return source, target, merger, nil
}
