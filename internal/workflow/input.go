package workflow

import "context"

// InputResult is what an InputProvider yields after awaiting input.
//
// Two sentinel values instruct the runner to flip mode without resuming the
// step: Mode == ModeSwitchToAuto / ModeSwitchToManual.
type InputResult struct {
	Source       InputSource
	Text         string
	MonitoringID int
	Mode         string
}

// InputSource names who supplied an InputResult.
type InputSource string

const (
	SourceUser       InputSource = "user"
	SourceController InputSource = "controller"
)

const (
	ModeSwitchToAuto   = "__SWITCH_TO_AUTO__"
	ModeSwitchToManual = "__SWITCH_TO_MANUAL__"
)

// StepContext is what the runner hands an InputProvider when awaiting
// input for a step.
type StepContext struct {
	Step           Step
	StepIndex      int
	UniqueAgentID  string
	PromptQueue    []QueuedPrompt
}

// InputProvider is the interface both the user-keypress-driven and the
// controller-driven input sources implement.
type InputProvider interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	AwaitInput(ctx context.Context, sc StepContext) (InputResult, error)
}

// Mode holds the workflow-level auto/pause toggle and derives which
// InputProvider is currently active.
type Mode struct {
	autoMode bool
	paused   bool

	user       InputProvider
	controller InputProvider

	onModeChanged func(autoMode bool)
	onPaused      func()
	onResumed     func()
}

// NewMode creates a Mode with the given user and controller providers. The
// controller provider may be nil if the workflow has no controller agent.
func NewMode(user, controller InputProvider) *Mode {
	return &Mode{user: user, controller: controller}
}

// OnModeChanged, OnPaused, OnResumed register the 'mode-changed', 'paused',
// and 'resumed' event callbacks.
func (m *Mode) OnModeChanged(fn func(autoMode bool)) { m.onModeChanged = fn }
func (m *Mode) OnPaused(fn func())                   { m.onPaused = fn }
func (m *Mode) OnResumed(fn func())                  { m.onResumed = fn }

// ActiveProvider derives the active InputProvider: paused || !autoMode
// implies the user provider, else the controller provider.
func (m *Mode) ActiveProvider() InputProvider {
	if m.paused || !m.autoMode || m.controller == nil {
		return m.user
	}
	return m.controller
}

// AutoMode reports the current auto-mode flag.
func (m *Mode) AutoMode() bool { return m.autoMode }

// Paused reports the current pause flag.
func (m *Mode) Paused() bool { return m.paused }

// SetAutoMode is idempotent. When the value actually changes, it
// deactivates the outgoing provider before activating the incoming one, so
// the two providers are never simultaneously active.
func (m *Mode) SetAutoMode(ctx context.Context, x bool) error {
	if x == m.autoMode {
		return nil
	}
	prev := m.ActiveProvider()
	m.autoMode = x
	next := m.ActiveProvider()

	if err := swapProvider(ctx, prev, next); err != nil {
		return err
	}
	if m.onModeChanged != nil {
		m.onModeChanged(x)
	}
	return nil
}

// Pause swaps to the user provider if we were in auto.
func (m *Mode) Pause(ctx context.Context) error {
	if m.paused {
		return nil
	}
	prev := m.ActiveProvider()
	m.paused = true
	next := m.ActiveProvider()

	if err := swapProvider(ctx, prev, next); err != nil {
		return err
	}
	if m.onPaused != nil {
		m.onPaused()
	}
	return nil
}

// Resume swaps back to whichever provider autoMode now implies.
func (m *Mode) Resume(ctx context.Context) error {
	if !m.paused {
		return nil
	}
	prev := m.ActiveProvider()
	m.paused = false
	next := m.ActiveProvider()

	if err := swapProvider(ctx, prev, next); err != nil {
		return err
	}
	if m.onResumed != nil {
		m.onResumed()
	}
	return nil
}

func swapProvider(ctx context.Context, prev, next InputProvider) error {
	if prev == next {
		return nil
	}
	if prev != nil {
		if err := prev.Deactivate(ctx); err != nil {
			return err
		}
	}
	if next != nil {
		if err := next.Activate(ctx); err != nil {
			return err
		}
	}
	return nil
}
