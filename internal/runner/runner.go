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

// Package runner wires the Step Index, FSM, Directive Store, Signal Bus,
// Mode Handlers, and Engine Selection into the top-level loop that walks a
// workflow template step by step. It is the orchestrator's outermost layer
// and, matching leaves-first dependency order, is the one package allowed
// to import every lower layer. Its Config-struct-plus-error constructor,
// deferred cleanup chain, and findAgentToRun-style resolution are built on
// the same shape as pkg/runner.Runner, generalized here to Run's step walk
// (resume point plus skip rules).
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/moazbuilds/codemachine-orchestrator/internal/authcache"
	"github.com/moazbuilds/codemachine-orchestrator/internal/cmerr"
	"github.com/moazbuilds/codemachine-orchestrator/internal/directive"
	"github.com/moazbuilds/codemachine-orchestrator/internal/engine"
	"github.com/moazbuilds/codemachine-orchestrator/internal/logger"
	"github.com/moazbuilds/codemachine-orchestrator/internal/observability"
	"github.com/moazbuilds/codemachine-orchestrator/internal/signalbus"
	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

// Config configures a Runner.
type Config struct {
	Template   workflow.Template
	Index      *workflow.IndexManager
	Directives *directive.Store
	Engines    *engine.Registry
	AuthCache  *authcache.Cache
	Bus        *signalbus.Bus
	Mode       *workflow.Mode
	Logger     *slog.Logger

	// Observability is nil-safe: a zero-value *observability.Manager (or an
	// explicit nil) makes every Tracer/Metrics call on it a no-op.
	Observability *observability.Manager

	// SelectedTrack/SelectedConditions filter the step list before the walk begins.
	SelectedTrack      string
	SelectedConditions []string

	// PromptsDir resolves a step's relative PromptPath entries. Defaults to
	// the process working directory when empty.
	PromptsDir string
}

// Runner is the top-level loop: it walks the step list, applies skip
// rules, drives the state machine, routes signals to handlers, and commits
// index updates.
type Runner struct {
	cfg      Config
	fsm      *workflow.FSM
	handlers *workflow.HandlerRegistry
	ctx      *workflow.Context

	unsubscribe []func()
}

// New creates a Runner. The root agent / engine binary wiring happens
// before this call; New only validates that the required collaborators are
// present.
func New(cfg Config) (*Runner, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("index manager is required")
	}
	if cfg.Directives == nil {
		return nil, fmt.Errorf("directive store is required")
	}
	if cfg.Engines == nil {
		return nil, fmt.Errorf("engine registry is required")
	}
	if cfg.AuthCache == nil {
		cfg.AuthCache = authcache.New(0)
	}
	if cfg.Bus == nil {
		cfg.Bus = signalbus.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runner{
		cfg:      cfg,
		fsm:      workflow.NewFSM(),
		handlers: workflow.NewHandlerRegistry(),
		ctx:      &workflow.Context{},
	}, nil
}

// Run executes the workflow template to completion, returning the terminal
// FSM state. It installs signal listeners at start and tears them down
// when Run returns.
func (r *Runner) Run(ctx context.Context) (workflow.State, error) {
	r.installSignalHandlers()
	defer r.teardownSignalHandlers()

	if err := r.fsm.Fire(workflow.EventStart); err != nil {
		return r.fsm.State(), err
	}

	resume, err := r.cfg.Index.ResumeInfo()
	if err != nil {
		r.cfg.Logger.Warn("resume info unavailable, starting fresh", "error", err)
	}
	r.ctx.CurrentStepIndex = resume.StepIndex

	steps := r.filterSteps(r.cfg.Template.Steps)
	agentIndex := workflow.NewAgentIndex(steps)

	for r.ctx.CurrentStepIndex < len(steps) {
		select {
		case <-ctx.Done():
			_ = r.fsm.Fire(workflow.EventFail)
			return r.fsm.State(), ctx.Err()
		default:
		}

		step := steps[r.ctx.CurrentStepIndex]
		if step.Kind == workflow.StepKindSeparator {
			r.ctx.CurrentStepIndex++
			continue
		}

		if r.shouldSkip(step, r.ctx.CurrentStepIndex) {
			r.ctx.CurrentStepIndex++
			continue
		}

		outcome, retry, err := r.runStep(ctx, r.ctx.CurrentStepIndex, step)
		if err != nil {
			r.cfg.Logger.Error("step failed", "step", r.ctx.CurrentStepIndex, "error", err)
			_ = r.fsm.Fire(workflow.EventFail)
			kind := cmerr.KindRuntimeFailure
			if cerr, ok := err.(*cmerr.Error); ok {
				kind = cerr.Kind
			}
			r.cfg.Bus.Publish(signalbus.Event{Signal: signalbus.SignalError, Reason: err.Error()})
			return r.fsm.State(), cmerr.Wrap(kind, "step execution failed", err)
		}

		if retry {
			continue
		}

		switch outcome.Kind {
		case workflow.DecisionRepeat:
			origin := r.ctx.CurrentStepIndex
			back := outcome.StepsBack
			target := origin - back
			if target < 0 {
				target = 0
			}
			if r.ctx.LoopIterations == nil {
				r.ctx.LoopIterations = make(map[int]int)
			}
			r.ctx.LoopIterations[origin]++
			r.ctx.ActiveLoop = &workflow.ActiveLoop{}
			r.ctx.CurrentStepIndex = target
		case workflow.DecisionTrigger:
			if err := r.runTriggeredAgent(ctx, agentIndex, outcome.TargetAgentID); err != nil {
				r.cfg.Logger.Error("triggered agent failed", "agent", outcome.TargetAgentID, "error", err)
				_ = r.fsm.Fire(workflow.EventFail)
				r.cfg.Bus.Publish(signalbus.Event{Signal: signalbus.SignalError, Reason: err.Error()})
				return r.fsm.State(), cmerr.Wrap(cmerr.KindRuntimeFailure, "triggered agent failed", err)
			}
			if err := r.cfg.Index.MarkStepCompleted(r.ctx.CurrentStepIndex); err != nil {
				r.cfg.Logger.Warn("failed to mark step completed", "step", r.ctx.CurrentStepIndex, "error", err)
			}
			r.ctx.CurrentStepIndex++
		case workflow.DecisionPause:
			if err := r.fsm.Fire(workflow.EventPause); err != nil {
				return r.fsm.State(), err
			}
			if outcome.IsCheckpoint {
				r.cfg.Logger.Warn("checkpoint reached", "reason", outcome.Reason)
			} else {
				r.cfg.Bus.Publish(signalbus.Event{Signal: signalbus.SignalPause})
			}
			return r.fsm.State(), nil
		case workflow.DecisionShouldStop:
			if outcome.IsError {
				_ = r.fsm.Fire(workflow.EventFail)
				r.cfg.Bus.Publish(signalbus.Event{Signal: signalbus.SignalError, Reason: outcome.Reason})
				return r.fsm.State(), cmerr.New(cmerr.KindRuntimeFailure, outcome.Reason)
			}
			_ = r.fsm.Fire(workflow.EventStop)
			return r.fsm.State(), nil
		default: // continue
			if err := r.cfg.Index.MarkStepCompleted(r.ctx.CurrentStepIndex); err != nil {
				r.cfg.Logger.Warn("failed to mark step completed", "step", r.ctx.CurrentStepIndex, "error", err)
			}
			r.ctx.CurrentStepIndex++
		}
	}

	_ = r.fsm.Fire(workflow.EventComplete)
	return r.fsm.State(), nil
}

// runStep opens a StepSession, resolves the scenario, selects a Mode
// Handler, and evaluates directives after the subprocess exits.
// The bool return reports "retry": stay on this same step index without
// marking it completed, used when the handler only switched mode and never
// reached the engine.
func (r *Runner) runStep(ctx context.Context, index int, step workflow.Step) (workflow.Decision, bool, error) {
	uniqueID := step.UniqueAgentID(index)
	sessionID := uuid.NewString()
	stepLog := logger.WithStep(r.cfg.Logger, index, step.AgentID)

	if err := r.cfg.Index.MarkStepStarted(index, sessionID, 0); err != nil {
		return workflow.Decision{}, false, err
	}

	r.ctx.AutoMode = r.cfg.Mode.AutoMode()

	hasChained := len(step.PromptPath) > 1
	if hasChained {
		queue, err := r.loadPromptQueue(step.PromptPath)
		if err != nil {
			return workflow.Decision{}, false, err
		}
		r.ctx.PromptQueue = queue
	} else {
		r.ctx.PromptQueue = nil
	}

	sess := workflow.NewStepSession(index, uniqueID, r.ctx.PromptQueue)
	stepCtx := sess.WithCancel(ctx)
	defer sess.Cancel()

	scenario := workflow.ResolveScenario(step.Interactive, r.ctx.AutoMode, hasChained, func(format string, args ...interface{}) {
		stepLog.Warn(fmt.Sprintf(format, args...))
	})

	handler, ok := r.handlers.Get(scenario.Handler)
	if !ok {
		return workflow.Decision{}, false, fmt.Errorf("no mode handler registered for %q", scenario.Handler)
	}

	selected, err := engine.Select(stepCtx, r.cfg.Engines, r.cfg.AuthCache, step.Engine, func(format string, args ...interface{}) {
		stepLog.Warn(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return workflow.Decision{}, false, err
	}

	tracer := r.cfg.Observability.Tracer()
	metrics := r.cfg.Observability.Metrics()
	spanCtx, span := tracer.StartStep(stepCtx, index, uniqueID, selected.Name(), string(scenario.Handler))
	stepCtx = spanCtx
	metrics.StepStarted()
	start := time.Now()
	defer func() {
		metrics.StepFinished()
		span.End()
	}()

	runner := &engineRunnerAdapter{engine: selected, model: step.Model, workingDir: ""}

	provider := r.cfg.Mode.ActiveProvider()
	handlerResult, err := handler.Handle(stepCtx, sess, step, provider, runner)
	if err != nil {
		tracer.RecordError(span, err)
		metrics.RecordStep(uniqueID, "error", time.Since(start))
		metrics.RecordEngineError(selected.Name(), string(cmerr.KindOf(err)))
		return workflow.Decision{}, false, err
	}

	// ResultModeSwitch is handled directly: it never reaches the engine, so
	// there is nothing for the directive evaluators to read.
	if handlerResult.Kind == workflow.ResultModeSwitch {
		if err := r.cfg.Mode.SetAutoMode(stepCtx, handlerResult.SwitchTo); err != nil {
			tracer.RecordError(span, err)
			return workflow.Decision{}, false, err
		}
		metrics.RecordStep(uniqueID, "mode_switch", time.Since(start))
		return workflow.Decision{}, true, nil
	}

	d, err := r.cfg.Directives.Read()
	if err != nil {
		stepLog.Warn("directive read failed, treating as continue", "error", err)
		d = workflow.ContinueDirective()
	}

	decision := workflow.Evaluate(step, d, r.ctx)
	tracer.AddDirective(span, string(decision.Kind))
	metrics.RecordDirectiveEvaluation(string(decision.Kind))
	metrics.RecordStep(uniqueID, "ok", time.Since(start))
	metrics.RecordEngineRun(selected.Name(), "ok", time.Since(start))

	return decision, false, nil
}

// loadPromptQueue reads each of a step's prompt files in chain order,
// resolving relative paths against cfg.PromptsDir. A step with a
// single (or no) prompt path still gets a one-entry (or empty) queue; only
// hasChained (len>1) steps actually drive the autonomous handler's loop.
func (r *Runner) loadPromptQueue(paths []string) ([]workflow.QueuedPrompt, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	base := r.cfg.PromptsDir
	if base == "" {
		var err error
		base, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving prompts directory: %w", err)
		}
	}
	queue := make([]workflow.QueuedPrompt, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(base, p)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("reading prompt file %q: %w", p, err)
		}
		queue = append(queue, workflow.QueuedPrompt{
			Name:    filepath.Base(p),
			Label:   p,
			Content: string(data),
		})
	}
	return queue, nil
}

// runTriggeredAgent resolves a DecisionTrigger's TargetAgentID via an
// AgentIndex built over the (already track/condition-filtered) step list,
// and runs that step's session immediately, out of normal order, before the
// runner resumes at CurrentStepIndex+1. The agent id was already validated
// against the template at load time (internal/config.validateTriggerTargets),
// so a miss here only happens if track/condition filtering removed the
// target step from this run.
func (r *Runner) runTriggeredAgent(ctx context.Context, index *workflow.AgentIndex, targetAgentID string) error {
	step, stepIndex, ok := index.Lookup(targetAgentID)
	if !ok {
		return fmt.Errorf("trigger target agent %q not found in the active step list", targetAgentID)
	}
	_, _, err := r.runStep(ctx, stepIndex, step)
	return err
}

// shouldSkip applies executeOnce and active-loop skip-list rules.
func (r *Runner) shouldSkip(step workflow.Step, index int) bool {
	if step.ExecuteOnce && r.cfg.Index.IsStepCompleted(index) {
		return true
	}
	if r.ctx.ActiveLoop != nil {
		for _, id := range r.ctx.ActiveLoop.Skip {
			if id == step.AgentID {
				return true
			}
		}
	}
	return false
}

// filterSteps applies track/condition selection before the walk begins.
func (r *Runner) filterSteps(steps []workflow.Step) []workflow.Step {
	if r.cfg.SelectedTrack == "" && len(r.cfg.SelectedConditions) == 0 {
		return steps
	}
	out := make([]workflow.Step, 0, len(steps))
	for _, s := range steps {
		if s.Kind == workflow.StepKindSeparator {
			out = append(out, s)
			continue
		}
		if !trackMatches(s.Tracks, r.cfg.SelectedTrack) {
			continue
		}
		if !conditionsMatch(s.Conditions, s.ConditionsAny, r.cfg.SelectedConditions) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func trackMatches(stepTracks []string, selected string) bool {
	if len(stepTracks) == 0 || selected == "" {
		return true
	}
	for _, t := range stepTracks {
		if t == selected {
			return true
		}
	}
	return false
}

func conditionsMatch(all, any []string, selected []string) bool {
	set := make(map[string]bool, len(selected))
	for _, c := range selected {
		set[c] = true
	}
	for _, c := range all {
		if !set[c] {
			return false
		}
	}
	if len(any) == 0 {
		return true
	}
	for _, c := range any {
		if set[c] {
			return true
		}
	}
	return false
}

func (r *Runner) installSignalHandlers() {
	r.unsubscribe = append(r.unsubscribe,
		r.cfg.Bus.Subscribe(signalbus.SignalPause, func(signalbus.Event) { _ = r.fsm.Fire(workflow.EventPause) }),
		r.cfg.Bus.Subscribe(signalbus.SignalStop, func(signalbus.Event) { _ = r.fsm.Fire(workflow.EventStop) }),
		r.cfg.Bus.Subscribe(signalbus.SignalModeChange, func(ev signalbus.Event) {
			_ = r.cfg.Mode.SetAutoMode(context.Background(), ev.AutonomousMode)
		}),
	)
}

func (r *Runner) teardownSignalHandlers() {
	for _, fn := range r.unsubscribe {
		fn()
	}
	r.unsubscribe = nil
}

// engineRunnerAdapter narrows an engine.Engine to the workflow package's
// EngineRunner interface.
type engineRunnerAdapter struct {
	engine     engine.Engine
	model      string
	workingDir string
}

func (a *engineRunnerAdapter) Run(ctx context.Context, prompt string, onStdout, onStderr func([]byte)) (string, error) {
	res, err := a.engine.Run(ctx, prompt, engine.RunOptions{
		WorkingDir: a.workingDir,
		Model:      a.model,
		OnStdout:   onStdout,
		OnStderr:   onStderr,
	})
	if err != nil {
		return "", err
	}
	return res.SessionID, nil
}
