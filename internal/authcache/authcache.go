// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package authcache memoizes per-engine authentication probes with a TTL,
// built on the checkpoint package's state expiry check (IsExpired) and a
// health-checker memoization idiom, adapted from session-state expiry to
// engine-authentication memoization.
package authcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a positive or negative probe result is trusted
// before the next IsAuthenticated call re-probes.
const DefaultTTL = 5 * time.Minute

// ProbeFunc performs the actual (possibly expensive) authentication check
// for one engine.
type ProbeFunc func(ctx context.Context) (bool, error)

type entry struct {
	authenticated bool
	expiresAt     time.Time
}

func (e entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// Cache memoizes IsAuthenticated results per engine id. Concurrent probes
// for the same engine id are collapsed into one in-flight call via
// singleflight, the same pattern used elsewhere to collapse concurrent
// token refreshes.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
}

// New creates a Cache with the given TTL. A zero or negative ttl uses
// DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, entries: make(map[string]entry)}
}

// IsAuthenticated returns the cached result for engineID if still fresh,
// otherwise runs probe (deduplicated across concurrent callers) and caches
// the outcome.
func (c *Cache) IsAuthenticated(ctx context.Context, engineID string, probe ProbeFunc) (bool, error) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[engineID]
	c.mu.RUnlock()
	if ok && !e.expired(now) {
		return e.authenticated, nil
	}

	res, err, _ := c.group.Do(engineID, func() (interface{}, error) {
		ok, err := probe(ctx)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.entries[engineID] = entry{authenticated: ok, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// Invalidate forces the next IsAuthenticated call for engineID to re-probe.
func (c *Cache) Invalidate(engineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, engineID)
}

// Clear invalidates every cached engine id.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
