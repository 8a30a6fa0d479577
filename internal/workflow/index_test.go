package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexManager_StartFreshWhenResumeDisabled(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(dir)

	info, err := m.ResumeInfo()
	require.NoError(t, err)
	require.Equal(t, ResumeStartFresh, info.Kind)
}

func TestIndexManager_MarkStepCompletedPersists(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(dir)

	require.NoError(t, m.MarkStepStarted(0, "sess-1", 1))
	require.False(t, m.IsStepCompleted(0))

	require.NoError(t, m.MarkStepCompleted(0))
	require.True(t, m.IsStepCompleted(0))

	m2 := NewIndexManager(dir)
	require.True(t, m2.IsStepCompleted(0))
}

func TestIndexManager_ResumeContinueAfterCompleted(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(dir)

	require.NoError(t, m.MarkStepStarted(0, "s", 1))
	require.NoError(t, m.MarkStepCompleted(0))
	require.NoError(t, m.SetResumeFromLastStep(true))

	info, err := m.ResumeInfo()
	require.NoError(t, err)
	require.Equal(t, ResumeContinueAfterCompleted, info.Kind)
	require.Equal(t, 1, info.StepIndex)
}

func TestIndexManager_ResumeFromCrash(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(dir)

	require.NoError(t, m.MarkStepStarted(2, "s", 1))
	require.NoError(t, m.SetResumeFromLastStep(true))

	info, err := m.ResumeInfo()
	require.NoError(t, err)
	require.Equal(t, ResumeFromCrash, info.Kind)
	require.Equal(t, 2, info.StepIndex)
}

func TestIndexManager_ResumeFromChain(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(dir)

	require.NoError(t, m.MarkStepStarted(1, "s", 1))
	require.NoError(t, m.MarkChainCompleted(1, 0))
	require.NoError(t, m.SetResumeFromLastStep(true))

	info, err := m.ResumeInfo()
	require.NoError(t, err)
	require.Equal(t, ResumeFromChain, info.Kind)
	require.Equal(t, 1, info.StepIndex)
	require.Equal(t, 0, info.ChainIndex)
}

func TestIndexManager_MarkChainCompletedNoopAfterCompletion(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(dir)

	require.NoError(t, m.MarkStepStarted(0, "s", 1))
	require.NoError(t, m.MarkStepCompleted(0))
	require.NoError(t, m.MarkChainCompleted(0, 5))

	t2, err := m.Load()
	require.NoError(t, err)
	require.Empty(t, t2.CompletedSteps[0].CompletedChains)
}

func TestIndexManager_MigratesLegacyFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")
	legacy := map[string]interface{}{
		"activeTemplate":     "w1",
		"completedSteps":     []int{0, 1},
		"resumeFromLastStep": true,
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m := NewIndexManager(dir)
	require.True(t, m.IsStepCompleted(0))
	require.True(t, m.IsStepCompleted(1))
	require.False(t, m.IsStepCompleted(2))
}

func TestIndexManager_CorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m := NewIndexManager(dir)
	_, err := m.Load()
	require.Error(t, err)
	require.False(t, m.IsStepCompleted(0))
}
