package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestResolveScenario_AllEightCombinations(t *testing.T) {
	cases := []struct {
		name        string
		interactive *bool
		autoMode    bool
		chained     bool
		wantScn     Scenario
		wantHandler HandlerKind
		wantForced  bool
	}{
		{"interactive-auto-chained", boolPtr(true), true, true, ScenarioInteractiveAutoChained, HandlerInteractive, false},
		{"interactive-auto-plain", boolPtr(true), true, false, ScenarioInteractiveAutoPlain, HandlerInteractive, false},
		{"interactive-manual-chained", boolPtr(true), false, true, ScenarioInteractiveManualChained, HandlerInteractive, false},
		{"interactive-manual-plain", boolPtr(true), false, false, ScenarioInteractiveManualPlain, HandlerInteractive, false},
		{"autonomous-loop", boolPtr(false), true, true, ScenarioAutonomousLoop, HandlerAutonomous, false},
		{"continuous", boolPtr(false), true, false, ScenarioContinuous, HandlerContinuous, false},
		{"forced-chained", boolPtr(false), false, true, ScenarioForcedChained, HandlerInteractive, true},
		{"forced-plain", boolPtr(false), false, false, ScenarioForcedPlain, HandlerInteractive, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := ResolveScenario(c.interactive, c.autoMode, c.chained, nil)
			require.Equal(t, c.wantScn, out.Scenario)
			require.Equal(t, c.wantHandler, out.Handler)
			require.Equal(t, c.wantForced, out.Forced)
			if c.wantForced {
				require.True(t, out.InteractiveUsed)
			}
		})
	}
}

func TestResolveScenario_NilInteractiveDefaultsToChained(t *testing.T) {
	out := ResolveScenario(nil, true, true, nil)
	require.Equal(t, ScenarioInteractiveAutoChained, out.Scenario)

	out = ResolveScenario(nil, true, false, nil)
	require.Equal(t, ScenarioContinuous, out.Scenario)
}

func TestResolveScenario_ForcedScenariosWarn(t *testing.T) {
	var gotWarning string
	warnf := func(format string, args ...interface{}) {
		gotWarning = format
	}

	out := ResolveScenario(boolPtr(false), false, true, warnf)
	require.True(t, out.Forced)
	require.NotEmpty(t, gotWarning)
}

func TestResolveScenario_UnforcedScenariosDoNotWarn(t *testing.T) {
	called := false
	warnf := func(format string, args ...interface{}) {
		called = true
	}

	ResolveScenario(boolPtr(true), true, true, warnf)
	require.False(t, called)
}
