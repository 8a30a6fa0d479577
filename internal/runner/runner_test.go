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

package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine-orchestrator/internal/authcache"
	"github.com/moazbuilds/codemachine-orchestrator/internal/directive"
	"github.com/moazbuilds/codemachine-orchestrator/internal/engine"
	"github.com/moazbuilds/codemachine-orchestrator/internal/signalbus"
	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

// fakeEngine is a minimal engine.Engine stub: always authenticated, records
// every prompt it was run with, never actually shells out.
type fakeEngine struct {
	name string
	runs *[]string
	fail bool
}

func (f *fakeEngine) Name() string              { return f.name }
func (f *fakeEngine) Provider() engine.Provider { return engine.ProviderClaude }
func (f *fakeEngine) Run(ctx context.Context, prompt string, opts engine.RunOptions) (engine.RunResult, error) {
	*f.runs = append(*f.runs, prompt)
	if opts.OnStdout != nil {
		opts.OnStdout([]byte("ok"))
	}
	if f.fail {
		return engine.RunResult{}, errors.New("fake engine failure")
	}
	return engine.RunResult{SessionID: "sess-" + f.name}, nil
}
func (f *fakeEngine) IsAuthenticated(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeEngine) ConfigureMCP(ctx context.Context, dir string) error { return nil }
func (f *fakeEngine) CleanupMCP(ctx context.Context, dir string) error  { return nil }
func (f *fakeEngine) IsMCPConfigured(dir string) bool                   { return false }

// fakeProvider is an InputProvider that hands back a fixed prompt.
type fakeProvider struct {
	text string
}

func (p *fakeProvider) Activate(ctx context.Context) error   { return nil }
func (p *fakeProvider) Deactivate(ctx context.Context) error { return nil }
func (p *fakeProvider) AwaitInput(ctx context.Context, sc workflow.StepContext) (workflow.InputResult, error) {
	return workflow.InputResult{Source: workflow.SourceUser, Text: p.text}, nil
}

func newTestRunner(t *testing.T, tmpl workflow.Template, runs *[]string) *Runner {
	t.Helper()
	root := t.TempDir()

	engines := engine.NewRegistry()
	e := &fakeEngine{name: "claude", runs: runs}
	engines.Register("claude", e)
	engines.SetDefault("claude")

	mode := workflow.NewMode(&fakeProvider{text: "go"}, nil)

	cfg := Config{
		Template:   tmpl,
		Index:      workflow.NewIndexManager(root),
		Directives: directive.New(root),
		Engines:    engines,
		AuthCache:  authcache.New(0),
		Bus:        signalbus.New(),
		Mode:       mode,
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func moduleStep(agentID string, interactive bool) workflow.Step {
	i := interactive
	return workflow.Step{
		Kind:        workflow.StepKindModule,
		AgentID:     agentID,
		AgentName:   agentID,
		PromptPath:  []string{"p.md"},
		Interactive: &i,
	}
}

func TestRunnerAdvancesThroughSimpleTemplate(t *testing.T) {
	var runs []string
	tmpl := workflow.Template{
		Name: "simple",
		Steps: []workflow.Step{
			moduleStep("one", true),
			{Kind: workflow.StepKindSeparator, Text: "---"},
			moduleStep("two", true),
		},
	}
	r := newTestRunner(t, tmpl, &runs)

	state, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, workflow.StateFinal, state)
	require.Equal(t, []string{"go", "go"}, runs)
}

func TestRunnerHonoursExecuteOnceOnResume(t *testing.T) {
	root := t.TempDir()
	tmpl := workflow.Template{
		Name: "resume",
		Steps: []workflow.Step{
			func() workflow.Step { s := moduleStep("one", true); s.ExecuteOnce = true; return s }(),
		},
	}

	newRunner := func(runs *[]string) *Runner {
		engines := engine.NewRegistry()
		engines.Register("claude", &fakeEngine{name: "claude", runs: runs})
		engines.SetDefault("claude")
		cfg := Config{
			Template:   tmpl,
			Index:      workflow.NewIndexManager(root), // a fresh manager per "process", same tracking file on disk
			Directives: directive.New(root),
			Engines:    engines,
			AuthCache:  authcache.New(0),
			Bus:        signalbus.New(),
			Mode:       workflow.NewMode(&fakeProvider{text: "go"}, nil),
		}
		r, err := New(cfg)
		require.NoError(t, err)
		return r
	}

	var runs []string
	_, err := newRunner(&runs).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	// A second process pointed at the same tracking file must skip the
	// already-completed step rather than re-executing it (at-most-once
	// completion, §8 invariant 1).
	state, err := newRunner(&runs).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, workflow.StateFinal, state)
	require.Len(t, runs, 1, "executeOnce step must not re-run after resume")
}

func TestRunnerEmptyStepListTerminatesImmediately(t *testing.T) {
	var runs []string
	r := newTestRunner(t, workflow.Template{Name: "empty"}, &runs)
	state, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, workflow.StateFinal, state)
	require.Empty(t, runs)
}

func TestRunnerOnlySeparatorsTerminatesImmediately(t *testing.T) {
	var runs []string
	tmpl := workflow.Template{
		Name: "separators",
		Steps: []workflow.Step{
			{Kind: workflow.StepKindSeparator, Text: "a"},
			{Kind: workflow.StepKindSeparator, Text: "b"},
		},
	}
	r := newTestRunner(t, tmpl, &runs)
	state, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, workflow.StateFinal, state)
	require.Empty(t, runs)
}

// TestRunnerLoopStopsAtMaxIterations covers S3 and Testable Property #3: a
// step with a loop Behavior capped at MaxIterations must repeat exactly
// MaxIterations times (each one incrementing ctx.LoopIterations) and then
// fall through to DecisionContinue on its M+1th execution, never looping
// forever even though the directive store keeps returning "loop".
func TestRunnerLoopStopsAtMaxIterations(t *testing.T) {
	var runs []string
	tmpl := workflow.Template{
		Name: "loop",
		Steps: []workflow.Step{
			func() workflow.Step {
				s := moduleStep("worker", true)
				s.Behavior = &workflow.Behavior{Type: workflow.BehaviorLoop, Action: workflow.ActionStepBack, Steps: 1, MaxIterations: 2}
				return s
			}(),
			moduleStep("after", true),
		},
	}
	r := newTestRunner(t, tmpl, &runs)
	require.NoError(t, r.cfg.Directives.Write(workflow.Directive{Action: workflow.ActionLoop}))

	state, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, workflow.StateFinal, state)
	// "worker" runs MaxIterations+1 = 3 times (two loop-backs, then the cap
	// fires), and "after" runs once after the runner advances past it.
	require.Equal(t, []string{"go", "go", "go", "go"}, runs)
	require.Equal(t, 2, r.ctx.LoopIterations[0])
}

// TestRunnerAutonomousChainReplaysEveryQueuedPrompt covers S5: a step with
// more than one promptPath entry, in autonomous mode, must play every
// prompt in the chain back to back under one session rather than leaving
// the queue unpopulated and silently advancing with zero prompts run.
func TestRunnerAutonomousChainReplaysEveryQueuedPrompt(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "first.md")
	p2 := filepath.Join(dir, "second.md")
	require.NoError(t, os.WriteFile(p1, []byte("first prompt"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("second prompt"), 0o644))

	var runs []string
	interactive := false
	tmpl := workflow.Template{
		Name: "autonomous-chain",
		Steps: []workflow.Step{
			{
				Kind:        workflow.StepKindModule,
				AgentID:     "chained",
				AgentName:   "chained",
				PromptPath:  []string{p1, p2},
				Interactive: &interactive,
			},
		},
	}
	r := newTestRunner(t, tmpl, &runs)
	require.NoError(t, r.cfg.Mode.SetAutoMode(context.Background(), true))

	state, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, workflow.StateFinal, state)
	require.Equal(t, []string{"first prompt", "second prompt"}, runs)
}

// TestRunnerTriggerRunsTargetAgent covers S5: a trigger directive must
// actually execute the named agent's step before the runner resumes normal
// progression, not merely advance past the triggering step.
func TestRunnerTriggerRunsTargetAgent(t *testing.T) {
	var runs []string
	tmpl := workflow.Template{
		Name: "trigger",
		Steps: []workflow.Step{
			func() workflow.Step {
				s := moduleStep("lead", true)
				s.Behavior = &workflow.Behavior{Type: workflow.BehaviorTrigger, Action: workflow.ActionMainAgentCall}
				return s
			}(),
			moduleStep("qa", true),
		},
	}
	r := newTestRunner(t, tmpl, &runs)
	require.NoError(t, r.cfg.Directives.Write(workflow.Directive{Action: workflow.ActionTrigger, TriggerAgentID: "qa"}))

	state, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, workflow.StateFinal, state)
	// "qa" runs once as the triggered agent (before the lead step advances)
	// and once again in its own normal turn.
	require.Equal(t, []string{"go", "go", "go"}, runs)
}
