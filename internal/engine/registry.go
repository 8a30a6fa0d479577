// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"sync"

	"github.com/moazbuilds/codemachine-orchestrator/internal/authcache"
	"github.com/moazbuilds/codemachine-orchestrator/internal/cmerr"
)

// Registry holds the installed engines in declared order in its own map plus
// an explicit ordering slice, rather than on registry.BaseRegistry[T]
// (internal/registry/registry.go): engine selection depends on declaration
// order, which a bare map cannot provide.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Engine
	order []string
	defID string
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Engine)}
}

// Register adds an engine, appending it to the declared order. Registering
// the same id twice replaces the engine in place without reordering it.
func (r *Registry) Register(id string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		r.order = append(r.order, id)
	}
	r.byID[id] = e
}

// SetDefault names the registry's declared default, used when no engine is
// authenticated.
func (r *Registry) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defID = id
}

// Ordered returns the registered engines in declaration order.
func (r *Registry) Ordered() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Engine, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Get looks up an engine by id.
func (r *Registry) Get(id string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// Default returns the registry's declared default engine, if one is set.
func (r *Registry) Default() (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defID == "" {
		return nil, false
	}
	e, ok := r.byID[r.defID]
	return e, ok
}

// Count returns the number of registered engines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Logf receives diagnostic messages emitted during selection fallback.
type Logf func(format string, args ...interface{})

// Select implements the engine-selection algorithm:
//
//  1. If stepEngine is set and authenticated (via cache), use it.
//  2. Else log and iterate registered engines in declared order, picking
//     the first authenticated one.
//  3. Else fall back to the registry's declared default even if
//     unauthenticated.
//  4. If the registry is empty, fail with EngineUnavailable.
func Select(ctx context.Context, reg *Registry, cache *authcache.Cache, stepEngine string, logf Logf) (Engine, error) {
	if reg.Count() == 0 {
		return nil, cmerr.New(cmerr.KindEngineUnavailable, "no engines registered")
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}

	authed := func(e Engine) (bool, error) {
		return cache.IsAuthenticated(ctx, e.Name(), e.IsAuthenticated)
	}

	if stepEngine != "" {
		if e, ok := reg.Get(stepEngine); ok {
			if ok, _ := authed(e); ok {
				return e, nil
			}
			logf("engine %q requested but not authenticated, falling back", stepEngine)
		} else {
			logf("engine %q requested but not registered, falling back", stepEngine)
		}
	}

	for _, e := range reg.Ordered() {
		if ok, _ := authed(e); ok {
			return e, nil
		}
	}

	if e, ok := reg.Default(); ok {
		return e, nil
	}

	return nil, cmerr.New(cmerr.KindEngineUnavailable, "no authenticated engine and no declared default")
}
