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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

// templateFile is the on-disk YAML shape of a workflow template. It mirrors
// workflow.Template/Step field-for-field; the separate type exists only so
// yaml tags don't leak onto the runtime types other packages pass around.
type templateFile struct {
	Name            string             `yaml:"name"`
	AutonomousMode  string             `yaml:"autonomousMode,omitempty"`
	Controller      string             `yaml:"controller,omitempty"`
	Tracks          []string           `yaml:"tracks,omitempty"`
	ConditionGroups []string           `yaml:"conditionGroups,omitempty"`
	Steps           []templateStepFile `yaml:"steps"`
}

type templateStepFile struct {
	// Separator steps set only "separator"; module steps set the rest.
	Separator string `yaml:"separator,omitempty"`

	AgentID              string            `yaml:"agentId,omitempty"`
	AgentName            string            `yaml:"agentName,omitempty"`
	PromptPath           []string          `yaml:"promptPath,omitempty"`
	Engine               string            `yaml:"engine,omitempty"`
	Model                string            `yaml:"model,omitempty"`
	ModelReasoningEffort string            `yaml:"modelReasoningEffort,omitempty"`
	ExecuteOnce          bool              `yaml:"executeOnce,omitempty"`
	Interactive          *bool             `yaml:"interactive,omitempty"`
	Tracks               []string          `yaml:"tracks,omitempty"`
	Conditions           []string          `yaml:"conditions,omitempty"`
	ConditionsAny        []string          `yaml:"conditionsAny,omitempty"`
	ModuleID             string            `yaml:"moduleId,omitempty"`
	Behavior             *templateBehavior `yaml:"behavior,omitempty"`
}

type templateBehavior struct {
	Type           string `yaml:"type"`
	Action         string `yaml:"action,omitempty"`
	Steps          int    `yaml:"steps,omitempty"`
	MaxIterations  int    `yaml:"maxIterations,omitempty"`
	TriggerAgentID string `yaml:"triggerAgentId,omitempty"`
}

// LoadTemplate reads and decodes a workflow template YAML file, expanding
// environment-variable references the same way Load does for the
// application config.
func LoadTemplate(path string) (workflow.Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return workflow.Template{}, fmt.Errorf("template: read %s: %w", path, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return workflow.Template{}, fmt.Errorf("template: parse %s: %w", path, err)
	}
	generic = expandYAMLTree(generic)
	reencoded, err := yaml.Marshal(generic)
	if err != nil {
		return workflow.Template{}, fmt.Errorf("template: re-encode %s after expansion: %w", path, err)
	}

	var tf templateFile
	if err := yaml.Unmarshal(reencoded, &tf); err != nil {
		return workflow.Template{}, fmt.Errorf("template: decode %s: %w", path, err)
	}
	return tf.toTemplate()
}

func (tf templateFile) toTemplate() (workflow.Template, error) {
	t := workflow.Template{
		Name:            tf.Name,
		AutonomousMode:  workflow.AutonomousMode(tf.AutonomousMode),
		Controller:      tf.Controller,
		Tracks:          tf.Tracks,
		ConditionGroups: tf.ConditionGroups,
	}
	if t.AutonomousMode == "" {
		t.AutonomousMode = workflow.AutonomousModeOptional
	}

	seen := make(map[string]bool, len(tf.Steps))
	for i, sf := range tf.Steps {
		if sf.Separator != "" {
			t.Steps = append(t.Steps, workflow.Step{Kind: workflow.StepKindSeparator, Text: sf.Separator})
			continue
		}
		if sf.AgentID == "" {
			return workflow.Template{}, fmt.Errorf("template: step %d missing agentId", i)
		}

		step := workflow.Step{
			Kind:                 workflow.StepKindModule,
			AgentID:              sf.AgentID,
			AgentName:            sf.AgentName,
			PromptPath:           sf.PromptPath,
			Engine:               sf.Engine,
			Model:                sf.Model,
			ModelReasoningEffort: sf.ModelReasoningEffort,
			ExecuteOnce:          sf.ExecuteOnce,
			Interactive:          sf.Interactive,
			Tracks:               sf.Tracks,
			Conditions:           sf.Conditions,
			ConditionsAny:        sf.ConditionsAny,
			ModuleID:             sf.ModuleID,
		}
		if sf.Behavior != nil {
			step.Behavior = &workflow.Behavior{
				Type:           workflow.BehaviorType(sf.Behavior.Type),
				Action:         workflow.BehaviorAction(sf.Behavior.Action),
				Steps:          sf.Behavior.Steps,
				MaxIterations:  sf.Behavior.MaxIterations,
				TriggerAgentID: sf.Behavior.TriggerAgentID,
			}
		}

		t.Steps = append(t.Steps, step)
		if !seen[step.AgentID] {
			seen[step.AgentID] = true
			t.SubAgentIDs = append(t.SubAgentIDs, step.AgentID)
		}
	}

	if err := validateTriggerTargets(t); err != nil {
		return workflow.Template{}, err
	}
	return t, nil
}

// validateTriggerTargets checks every trigger Behavior's TriggerAgentID
// against the set of agent ids declared by the template, at load time
// rather than at runtime-trigger-evaluation time.
func validateTriggerTargets(t workflow.Template) error {
	index := workflow.NewAgentIndex(t.Steps)
	for i, s := range t.Steps {
		if s.Behavior == nil || s.Behavior.Type != workflow.BehaviorTrigger || s.Behavior.TriggerAgentID == "" {
			continue
		}
		if !index.Has(s.Behavior.TriggerAgentID) {
			return fmt.Errorf("template: step %d triggers unknown agent %q", i, s.Behavior.TriggerAgentID)
		}
	}
	return nil
}
