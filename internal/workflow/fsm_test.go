package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSM_StartTransitionsIdleToRunning(t *testing.T) {
	f := NewFSM()
	require.Equal(t, StateIdle, f.State())

	require.NoError(t, f.Fire(EventStart))
	require.Equal(t, StateRunning, f.State())
}

func TestFSM_InvalidTransitionReturnsError(t *testing.T) {
	f := NewFSM()
	err := f.Fire(EventInputReceived)
	require.Error(t, err)
	require.Equal(t, StateIdle, f.State())
}

func TestFSM_PauseResumeRestoresPriorState(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Fire(EventStart))
	require.NoError(t, f.Fire(EventWaitForInput))
	require.Equal(t, StateAwaiting, f.State())

	require.NoError(t, f.Fire(EventPause))
	require.Equal(t, StatePaused, f.State())

	require.NoError(t, f.Fire(EventResume))
	require.Equal(t, StateAwaiting, f.State())
}

func TestFSM_ResumeWithoutPauseFails(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Fire(EventStart))
	err := f.Fire(EventResume)
	require.Error(t, err)
}

func TestFSM_TerminalStateRejectsFurtherEvents(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Fire(EventStart))
	require.NoError(t, f.Fire(EventComplete))
	require.Equal(t, StateFinal, f.State())
	require.True(t, f.State().IsTerminal())

	err := f.Fire(EventStart)
	require.Error(t, err)
}

func TestFSM_FailFromRunningReachesError(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Fire(EventStart))
	require.NoError(t, f.Fire(EventFail))
	require.Equal(t, StateError, f.State())
	require.True(t, f.State().IsTerminal())
}

func TestFSM_SubscribersReceiveTransitions(t *testing.T) {
	f := NewFSM()
	var got []Transition
	f.Subscribe(func(tr Transition) {
		got = append(got, tr)
	})

	require.NoError(t, f.Fire(EventStart))
	require.NoError(t, f.Fire(EventEnterAuto))

	require.Len(t, got, 2)
	require.Equal(t, StateIdle, got[0].From)
	require.Equal(t, StateRunning, got[0].To)
	require.Equal(t, StateDelegated, got[1].To)
}

func TestFSM_EnterExitAuto(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.Fire(EventStart))
	require.NoError(t, f.Fire(EventEnterAuto))
	require.Equal(t, StateDelegated, f.State())
	require.NoError(t, f.Fire(EventExitAuto))
	require.Equal(t, StateRunning, f.State())
}
