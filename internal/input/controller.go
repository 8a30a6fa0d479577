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

package input

import (
	"context"
	"fmt"
	"sync"

	"github.com/moazbuilds/codemachine-orchestrator/internal/auth"
	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

// ControllerSession is the subset of a controller agent's running session
// the Controller provider drives: it re-uses the same session rather than
// opening a fresh connection per step, mirroring the re-use-the-running-
// session convention of the package's session store.
type ControllerSession interface {
	// NextPrompt blocks until the controller agent emits its next directive
	// for this workflow, or ctx is cancelled.
	NextPrompt(ctx context.Context, sc workflow.StepContext) (text string, monitoringID int, err error)
}

// ControllerProvider delegates AwaitInput to a controller agent's running
// session instead of a human. When the controller runs as a remote HTTP
// service rather than an in-process session, incoming requests carry a
// signed JWT that Validator verifies before the prompt is accepted.
type ControllerProvider struct {
	session   ControllerSession
	validator *auth.JWTValidator // nil for in-process controllers

	mu     sync.Mutex
	active bool
}

// NewControllerProvider creates a Controller provider driven by session.
// validator may be nil when the controller is an in-process session with no
// network boundary to authenticate across.
func NewControllerProvider(session ControllerSession, validator *auth.JWTValidator) *ControllerProvider {
	return &ControllerProvider{session: session, validator: validator}
}

func (p *ControllerProvider) Activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	return nil
}

func (p *ControllerProvider) Deactivate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	return nil
}

// AwaitInput blocks on the controller session's next prompt. The remote-JWT
// verification path (ValidateRequestToken) is invoked by the HTTP handler
// that feeds ControllerSession, not here: by the time NextPrompt returns, the
// request has already been authenticated.
func (p *ControllerProvider) AwaitInput(ctx context.Context, sc workflow.StepContext) (workflow.InputResult, error) {
	if p.session == nil {
		return workflow.InputResult{}, fmt.Errorf("controller provider has no active session for step %d", sc.StepIndex)
	}
	text, monitoringID, err := p.session.NextPrompt(ctx, sc)
	if err != nil {
		return workflow.InputResult{}, err
	}
	return workflow.InputResult{Source: workflow.SourceController, Text: text, MonitoringID: monitoringID}, nil
}

// ValidateRequestToken verifies a bearer token from a remote controller
// request before NextPrompt is allowed to feed it into AwaitInput. Returns
// nil immediately when no validator is configured (in-process controller).
func (p *ControllerProvider) ValidateRequestToken(ctx context.Context, token string) error {
	if p.validator == nil {
		return nil
	}
	_, err := p.validator.ValidateToken(ctx, token)
	return err
}
