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

package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ResumeKind is the outcome of IndexManager.ResumeInfo.
type ResumeKind string

const (
	ResumeStartFresh             ResumeKind = "START_FRESH"
	ResumeFromChain              ResumeKind = "RESUME_FROM_CHAIN"
	ResumeFromCrash              ResumeKind = "RESUME_FROM_CRASH"
	ResumeContinueAfterCompleted ResumeKind = "CONTINUE_AFTER_COMPLETED"
)

// ResumeInfo is the result of resolving where a workflow invocation should
// begin.
type ResumeInfo struct {
	Kind       ResumeKind
	StepIndex  int
	ChainIndex int // only meaningful for ResumeFromChain
	StepData   StepData
}

// IndexManager owns the tracking file exclusively: all writes to
// <cmRoot>/template.json must pass through it (single-writer discipline,
// grounded on pkg/checkpoint/storage.go's session-keyed persistence,
// adapted to a direct file instead of a session.Service).
type IndexManager struct {
	mu   sync.Mutex
	path string
	t    *Tracking
}

// NewIndexManager creates a manager rooted at <cmRoot>/template.json.
func NewIndexManager(cmRoot string) *IndexManager {
	return &IndexManager{path: filepath.Join(cmRoot, "template.json")}
}

// Load reads the tracking file, migrating the old completedSteps-as-plain-
// ints format if encountered. A missing or corrupt file is treated as a
// fresh start with ResumeFromLastStep left false (IndexCorruption is logged
// by the caller and defaulted here).
func (m *IndexManager) Load() (*Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *IndexManager) load() (*Tracking, error) {
	if m.t != nil {
		return m.t, nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.t = &Tracking{CompletedSteps: map[int]StepData{}}
			return m.t, nil
		}
		return nil, fmt.Errorf("index: read tracking file: %w", err)
	}

	t, migrated, err := decodeTracking(data)
	if err != nil {
		// IndexCorruption: logged by caller, treated as fresh start.
		m.t = &Tracking{CompletedSteps: map[int]StepData{}}
		return m.t, fmt.Errorf("index: corrupt tracking file, starting fresh: %w", err)
	}
	if t.CompletedSteps == nil {
		t.CompletedSteps = map[int]StepData{}
	}
	_ = migrated
	m.t = t
	return m.t, nil
}

// decodeTracking unmarshals the tracking file, migrating the legacy format
// where completedSteps was a plain JSON array of step indices instead of a
// map of index -> StepData.
func decodeTracking(data []byte) (*Tracking, bool, error) {
	var t Tracking
	if err := json.Unmarshal(data, &t); err == nil && t.CompletedSteps != nil {
		return &t, false, nil
	}

	var legacy struct {
		ActiveTemplate     string    `json:"activeTemplate"`
		LastUpdated        time.Time `json:"lastUpdated"`
		CompletedSteps     []int     `json:"completedSteps"`
		NotCompletedSteps  []int     `json:"notCompletedSteps"`
		ResumeFromLastStep bool      `json:"resumeFromLastStep"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, false, err
	}

	now := time.Now()
	steps := make(map[int]StepData, len(legacy.CompletedSteps))
	for _, idx := range legacy.CompletedSteps {
		steps[idx] = StepData{SessionID: "", MonitoringID: 0, CompletedAt: &now}
	}

	return &Tracking{
		ActiveTemplate:     legacy.ActiveTemplate,
		LastUpdated:        legacy.LastUpdated,
		CompletedSteps:     steps,
		NotCompletedSteps:  legacy.NotCompletedSteps,
		ResumeFromLastStep: legacy.ResumeFromLastStep,
	}, true, nil
}

// save performs an atomic write: write-to-temp then rename, refreshing
// LastUpdated on every write.
func (m *IndexManager) save() error {
	m.t.LastUpdated = time.Now()

	data, err := json.MarshalIndent(m.t, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal tracking file: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: create tracking dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".template-*.json.tmp")
	if err != nil {
		return fmt.Errorf("index: create temp tracking file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("index: write temp tracking file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: close temp tracking file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("index: rename tracking file: %w", err)
	}
	return nil
}

// IsStepCompleted reports whether the given step index has a completed
// tracking record. CompletedAt is the sole authority.
func (m *IndexManager) IsStepCompleted(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.load()
	if err != nil && t == nil {
		return false
	}
	sd, ok := t.CompletedSteps[index]
	return ok && sd.IsCompleted()
}

// MarkStepStarted records that a step has begun executing.
func (m *IndexManager) MarkStepStarted(index int, sessionID string, monitoringID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.load()
	if err != nil && t == nil {
		return err
	}
	sd := t.CompletedSteps[index]
	sd.SessionID = sessionID
	sd.MonitoringID = monitoringID
	sd.Phase = PhaseInitialized
	t.CompletedSteps[index] = sd
	return m.save()
}

// MarkChainCompleted records a chained-prompt sub-index as finished for a
// partially-completed step.
func (m *IndexManager) MarkChainCompleted(index, chainIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.load()
	if err != nil && t == nil {
		return err
	}
	sd := t.CompletedSteps[index]
	if sd.IsCompleted() {
		// Already done; CompletedChains is no longer consulted.
		return nil
	}
	sd.CompletedChains = appendUnique(sd.CompletedChains, chainIndex)
	sd.Phase = PhaseChainAdvanced
	t.CompletedSteps[index] = sd
	return m.save()
}

// MarkStepCompleted marks the step fully done. After this returns
// successfully, IsStepCompleted(index) is true for any subsequent fresh
// process, since the write lands on disk before save() returns.
func (m *IndexManager) MarkStepCompleted(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.load()
	if err != nil && t == nil {
		return err
	}
	now := time.Now()
	sd := t.CompletedSteps[index]
	sd.CompletedAt = &now
	sd.Phase = PhasePostInvoke
	t.CompletedSteps[index] = sd
	return m.save()
}

// SetResumeFromLastStep toggles whether ResumeInfo will look for prior
// progress at all.
func (m *IndexManager) SetResumeFromLastStep(v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.load()
	if err != nil && t == nil {
		return err
	}
	t.ResumeFromLastStep = v
	return m.save()
}

// ResumeInfo implements the resume-point resolution's four-case algorithm.
func (m *IndexManager) ResumeInfo() (ResumeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.load()
	if (err != nil && t == nil) || !t.ResumeFromLastStep {
		return ResumeInfo{Kind: ResumeStartFresh}, nil
	}

	// Case 2: any step with CompletedChains set and no CompletedAt.
	if idx, sd, ok := firstIncompleteWithChains(t); ok {
		return ResumeInfo{
			Kind:       ResumeFromChain,
			StepIndex:  idx,
			ChainIndex: maxInt(sd.CompletedChains),
			StepData:   sd,
		}, nil
	}

	// Case 3: highest-numbered started step lacking CompletedAt.
	if idx, sd, ok := highestStartedIncomplete(t); ok {
		return ResumeInfo{Kind: ResumeFromCrash, StepIndex: idx, StepData: sd}, nil
	}

	// Case 4: continue after the highest completed index.
	return ResumeInfo{Kind: ResumeContinueAfterCompleted, StepIndex: maxCompleted(t) + 1}, nil
}

func firstIncompleteWithChains(t *Tracking) (int, StepData, bool) {
	idx := -1
	for i, sd := range t.CompletedSteps {
		if len(sd.CompletedChains) > 0 && !sd.IsCompleted() {
			if idx == -1 || i < idx {
				idx = i
			}
		}
	}
	if idx == -1 {
		return 0, StepData{}, false
	}
	return idx, t.CompletedSteps[idx], true
}

func highestStartedIncomplete(t *Tracking) (int, StepData, bool) {
	idx := -1
	for i, sd := range t.CompletedSteps {
		if sd.SessionID != "" && !sd.IsCompleted() {
			if i > idx {
				idx = i
			}
		}
	}
	if idx == -1 {
		return 0, StepData{}, false
	}
	return idx, t.CompletedSteps[idx], true
}

func maxCompleted(t *Tracking) int {
	max := -1
	for i, sd := range t.CompletedSteps {
		if sd.IsCompleted() && i > max {
			max = i
		}
	}
	return max
}

func maxInt(xs []int) int {
	m := 0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func appendUnique(xs []int, v int) []int {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	return append(xs, v)
}
