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

// Package directive owns the single JSON file agents use to signal an
// action to the running workflow. It adapts the checkpoint package's
// Serialize/Deserialize round-trip from session-service-backed persistence
// to a literal file on disk, since the directive store is file-based IPC
// with agent subprocesses rather than a managed session store.
package directive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

const dirPerm = 0o755
const filePerm = 0o644

// Store owns <cwd>/.codemachine/memory/directive.json exclusively.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store rooted at cwd's .codemachine/memory/directive.json.
func New(cwd string) *Store {
	return &Store{path: filepath.Join(cwd, ".codemachine", "memory", "directive.json")}
}

// Read loads the current directive. A missing file reads as ContinueDirective.
// A malformed file is logged by the caller (via the returned error) and
// treated as ContinueDirective too, matching the store's read tolerance.
func (s *Store) Read() (workflow.Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return workflow.ContinueDirective(), nil
		}
		return workflow.ContinueDirective(), err
	}

	var d workflow.Directive
	if err := json.Unmarshal(data, &d); err != nil {
		return workflow.ContinueDirective(), err
	}
	if d.Action == "" {
		d.Action = workflow.ActionContinue
	}
	return d, nil
}

// Write atomically replaces the directive file's contents.
func (s *Store) Write(d workflow.Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(d)
}

func (s *Store) writeLocked(d workflow.Directive) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Reset overwrites the directive file with ContinueDirective, the action
// taken on a user "advance" keypress (Enter with empty input).
func (s *Store) Reset() error {
	return s.Write(workflow.ContinueDirective())
}

// Watcher notifies on external writes to the directive file instead of
// requiring the runner to poll, grounded on the fsnotify idiom the broader
// example pack reaches for when watching a single config/state file.
type Watcher struct {
	w      *fsnotify.Watcher
	events chan struct{}
	done   chan struct{}
}

// Watch starts watching the store's directory for writes to its file.
func (s *Store) Watch() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	watcher := &Watcher{w: fw, events: make(chan struct{}, 1), done: make(chan struct{})}
	go watcher.loop(s.path)
	return watcher, nil
}

func (w *Watcher) loop(path string) {
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.events <- struct{}{}:
			default:
			}
		case _, ok := <-w.w.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Changed signals once per external write batch to the directive file.
func (w *Watcher) Changed() <-chan struct{} { return w.events }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.w.Close()
}
