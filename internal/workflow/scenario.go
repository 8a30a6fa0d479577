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

package workflow

// Scenario is one of the eight canonical (interactive, autoMode, chained)
// combinations a step can be in.
type Scenario int

const (
	ScenarioInteractiveAutoChained Scenario = iota + 1
	ScenarioInteractiveAutoPlain
	ScenarioInteractiveManualChained
	ScenarioInteractiveManualPlain
	ScenarioAutonomousLoop
	ScenarioContinuous
	ScenarioForcedChained
	ScenarioForcedPlain
)

// HandlerKind names which of the three mode handlers a Scenario selects.
type HandlerKind string

const (
	HandlerInteractive HandlerKind = "interactive"
	HandlerAutonomous  HandlerKind = "autonomous"
	HandlerContinuous  HandlerKind = "continuous"
)

// ScenarioOutcome is the resolved scenario plus its derived properties.
type ScenarioOutcome struct {
	Scenario        Scenario
	Handler         HandlerKind
	ShouldWait      bool
	AutonomousLoop  bool
	Forced          bool
	InteractiveUsed bool // the interactive value actually applied, after forcing
}

// scenarioTable is a direct transcription of the documented (interactive,
// autoMode, chained) -> outcome table. It is authoritative over any
// per-scenario override (decided open question).
var scenarioTable = []struct {
	interactive bool
	autoMode    bool
	chained     bool
	outcome     ScenarioOutcome
}{
	{true, true, true, ScenarioOutcome{Scenario: ScenarioInteractiveAutoChained, Handler: HandlerInteractive, ShouldWait: true}},
	{true, true, false, ScenarioOutcome{Scenario: ScenarioInteractiveAutoPlain, Handler: HandlerInteractive, ShouldWait: true}},
	{true, false, true, ScenarioOutcome{Scenario: ScenarioInteractiveManualChained, Handler: HandlerInteractive, ShouldWait: true}},
	{true, false, false, ScenarioOutcome{Scenario: ScenarioInteractiveManualPlain, Handler: HandlerInteractive, ShouldWait: true}},
	{false, true, true, ScenarioOutcome{Scenario: ScenarioAutonomousLoop, Handler: HandlerAutonomous, ShouldWait: false, AutonomousLoop: true}},
	{false, true, false, ScenarioOutcome{Scenario: ScenarioContinuous, Handler: HandlerContinuous, ShouldWait: false}},
	{false, false, true, ScenarioOutcome{Scenario: ScenarioForcedChained, Handler: HandlerInteractive, ShouldWait: true, Forced: true}},
	{false, false, false, ScenarioOutcome{Scenario: ScenarioForcedPlain, Handler: HandlerInteractive, ShouldWait: true, Forced: true}},
}

// Warnf receives the forced-scenario warning for scenarios 7 and 8: a step
// cannot be non-interactive without a controller driver.
type Warnf func(format string, args ...interface{})

// ResolveScenario maps (interactive, autoMode, hasChainedPrompts) to one of
// the eight canonical scenarios. interactive nil defaults to
// hasChainedPrompts (a step is interactive iff it has prompts to iterate).
func ResolveScenario(interactive *bool, autoMode, hasChainedPrompts bool, warnf Warnf) ScenarioOutcome {
	resolvedInteractive := hasChainedPrompts
	if interactive != nil {
		resolvedInteractive = *interactive
	}

	for _, row := range scenarioTable {
		if row.interactive == resolvedInteractive && row.autoMode == autoMode && row.chained == hasChainedPrompts {
			out := row.outcome
			out.InteractiveUsed = resolvedInteractive
			if out.Forced {
				out.InteractiveUsed = true
				if warnf != nil {
					warnf("step cannot be non-interactive without a controller driver, forcing interactive=true")
				}
			}
			return out
		}
	}

	// Unreachable: the table above is exhaustive over the three booleans.
	return ScenarioOutcome{Scenario: ScenarioInteractiveManualPlain, Handler: HandlerInteractive, ShouldWait: true}
}
