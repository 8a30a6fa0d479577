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

// Package workflow implements the orchestrator's execution core: the
// declarative workflow template, the step tracking/index manager, the
// finite state machine, the scenario resolver and mode handlers, the
// directive evaluators, and the top-level runner loop that ties them
// together.
package workflow

import "time"

// AutonomousMode is a workflow-level flag controlling whether a controller
// agent is allowed to drive input instead of the human user.
type AutonomousMode string

const (
	AutonomousModeNever    AutonomousMode = "never"
	AutonomousModeOptional AutonomousMode = "optional"
	AutonomousModeAlways   AutonomousMode = "always"
)

// Template is an ordered sequence of steps plus workflow-level flags.
type Template struct {
	Name            string
	AutonomousMode  AutonomousMode
	Controller      string // agent id of the controller, if any
	Tracks          []string
	ConditionGroups []string
	Steps           []Step
	SubAgentIDs     []string
}

// StepKind distinguishes the two Step variants.
type StepKind int

const (
	StepKindModule StepKind = iota
	StepKindSeparator
)

// Step is a polymorphic workflow entry: either a module step (executes an
// agent) or a separator (display-only, never executed, never skipped).
type Step struct {
	Kind StepKind

	// Module step fields.
	AgentID              string
	AgentName            string
	PromptPath           []string // one or more prompt file paths, in chain order
	Engine               string   // optional engine override
	Model                string
	ModelReasoningEffort string
	ExecuteOnce          bool
	Interactive          *bool // nil = unset, defaults to hasChainedPrompts at scenario resolution
	Tracks               []string
	Conditions           []string
	ConditionsAny        []string
	ModuleID             string
	Behavior             *Behavior

	// Separator field.
	Text string
}

// UniqueAgentID forms the runner's per-step identity: "<agentId>:<stepIndex>".
// agentId uniqueness across the template is not required; this identity is
// what UI and telemetry key on.
func (s Step) UniqueAgentID(stepIndex int) string {
	return s.AgentID + ":" + itoa(stepIndex)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// BehaviorType tags the two kinds of per-step Behavior.
type BehaviorType string

const (
	BehaviorLoop    BehaviorType = "loop"
	BehaviorTrigger BehaviorType = "trigger"
)

// BehaviorAction names the concrete action within a BehaviorType.
type BehaviorAction string

const (
	ActionStepBack     BehaviorAction = "stepBack"
	ActionMainAgentCall BehaviorAction = "mainAgentCall"
)

// Behavior is the optional per-module-step tagged variant controlling loop
// or trigger semantics.
type Behavior struct {
	Type            BehaviorType
	Action          BehaviorAction
	Steps           int // loop: how many indices to rewind
	MaxIterations   int // loop: 0 means unlimited
	TriggerAgentID  string
}

// DirectiveAction is the full vocabulary an agent may write to the
// directive store.
type DirectiveAction string

const (
	ActionContinue   DirectiveAction = "continue"
	ActionLoop       DirectiveAction = "loop"
	ActionStop       DirectiveAction = "stop"
	ActionError      DirectiveAction = "error"
	ActionCheckpoint DirectiveAction = "checkpoint"
	ActionPause      DirectiveAction = "pause"
	ActionTrigger    DirectiveAction = "trigger"
)

// Directive is the full contents of the directive store.
type Directive struct {
	Action         DirectiveAction `json:"action"`
	Reason         string          `json:"reason,omitempty"`
	TriggerAgentID string          `json:"triggerAgentId,omitempty"`
}

// ContinueDirective is the value the store holds absent any agent write,
// and the value the runner falls back to when the directive cannot be read.
func ContinueDirective() Directive {
	return Directive{Action: ActionContinue}
}

// StepData is the persisted per-step tracking record. Presence of
// CompletedAt marks the step fully done; CompletedAt is authoritative over
// CompletedChains (decided open question).
type StepData struct {
	SessionID       string     `json:"sessionId"`
	MonitoringID    int        `json:"monitoringId"`
	CompletedChains []int      `json:"completedChains,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Phase           Phase      `json:"phase,omitempty"`
}

// IsCompleted reports whether the step is fully done. CompletedAt is the
// sole authority; CompletedChains is never consulted once it is set.
func (s StepData) IsCompleted() bool {
	return s.CompletedAt != nil
}

// ControllerConfig identifies the controller agent's running session for
// auto-mode input.
type ControllerConfig struct {
	AgentID      string `json:"agentId"`
	SessionID    string `json:"sessionId"`
	MonitoringID int    `json:"monitoringId"`
}

// Tracking is the single JSON blob persisted per workflow root
// (<cmRoot>/template.json).
type Tracking struct {
	ActiveTemplate     string              `json:"activeTemplate"`
	LastUpdated        time.Time           `json:"lastUpdated"`
	CompletedSteps     map[int]StepData    `json:"completedSteps"`
	NotCompletedSteps  []int               `json:"notCompletedSteps,omitempty"`
	ResumeFromLastStep bool                `json:"resumeFromLastStep"`
	SelectedTrack      string              `json:"selectedTrack,omitempty"`
	SelectedConditions []string            `json:"selectedConditions,omitempty"`
	ProjectName        string              `json:"projectName,omitempty"`
	AutonomousMode     AutonomousMode      `json:"autonomousMode,omitempty"`
	ControllerConfig   *ControllerConfig   `json:"controllerConfig,omitempty"`
}

// QueuedPrompt is one entry in the in-memory prompt queue.
type QueuedPrompt struct {
	Name    string
	Label   string
	Content string
}

// ActiveLoop records transient runtime state while a loop-back is in
// progress: which agent ids to skip.
type ActiveLoop struct {
	Skip []string
}

// Context is the in-memory workflow context carried across the runner loop.
type Context struct {
	AutoMode         bool
	Paused           bool
	CurrentStepIndex int
	ActiveLoop       *ActiveLoop
	PromptQueue      []QueuedPrompt
	PromptQueueIndex int

	// LoopIterations counts, per step index, how many times a loop
	// Behavior rooted at that index has rewound. The runner increments the
	// entry for the originating index on every DecisionRepeat it acts on;
	// evaluateLoop reads it (never writes it) to enforce MaxIterations.
	LoopIterations map[int]int
}
