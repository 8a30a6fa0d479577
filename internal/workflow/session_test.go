package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStepSession_CurrentPromptAndAdvance(t *testing.T) {
	queue := []QueuedPrompt{
		{Name: "first", Content: "do a"},
		{Name: "second", Content: "do b"},
	}
	s := NewStepSession(0, "agent:0", queue)

	p, ok := s.CurrentPrompt()
	require.True(t, ok)
	require.Equal(t, "first", p.Name)
	require.True(t, s.HasMore())

	s.Advance()
	p, ok = s.CurrentPrompt()
	require.True(t, ok)
	require.Equal(t, "second", p.Name)

	s.Advance()
	require.False(t, s.HasMore())
	_, ok = s.CurrentPrompt()
	require.False(t, ok)
}

func TestStepSession_AppendOutputAccumulates(t *testing.T) {
	s := NewStepSession(0, "agent:0", nil)
	s.AppendStdout([]byte("hello "))
	s.AppendStdout([]byte("world"))
	s.AppendStderr([]byte("oops"))

	require.Equal(t, "hello world", s.Stdout())
	require.Equal(t, "oops", s.Stderr())
}

func TestStepSession_CancelBeforeWithCancelIsSafe(t *testing.T) {
	s := NewStepSession(0, "agent:0", nil)
	require.NotPanics(t, s.Cancel)
}

func TestStepSession_CancelAbortsDerivedContext(t *testing.T) {
	s := NewStepSession(0, "agent:0", nil)
	ctx := s.WithCancel(context.Background())

	s.Cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected derived context to be cancelled")
	}
}
