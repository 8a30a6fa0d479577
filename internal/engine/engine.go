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

// Package engine defines the uniform contract over per-provider code-gen
// engine subprocess launchers (claude, codex, cursor, mistral, opencode).
//
// Each concrete adapter follows the same shape as the per-LLM-provider
// packages (pkg/model/{anthropic,openai,gemini,ollama}): a Config struct
// with documented defaults, a constructor that fills them in, and Name()/
// Provider() identity methods — generalized here from "LLM provider" to
// "subprocess engine".
package engine

import (
	"context"
	"time"
)

// Provider identifies an engine implementation.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderCodex    Provider = "codex"
	ProviderCursor   Provider = "cursor"
	ProviderMistral  Provider = "mistral"
	ProviderOpencode Provider = "opencode"
)

// DefaultTimeout is the default subprocess timeout.
const DefaultTimeout = 30 * time.Minute

// RunOptions configures a single engine invocation.
type RunOptions struct {
	WorkingDir      string
	Model           string
	ResumeSessionID string
	ResumePrompt    string
	Timeout         time.Duration

	// OnStdout/OnStderr receive chunks in arrival order as they are
	// produced. The Run call returns only after the subprocess has exited
	// or the context has been cancelled.
	OnStdout func(chunk []byte)
	OnStderr func(chunk []byte)
}

// RunResult is returned on a successful (non-error) subprocess exit.
type RunResult struct {
	ExitCode  int
	SessionID string
}

// Engine is the uniform contract over a per-provider subprocess launcher.
type Engine interface {
	// Name returns the human-readable engine identifier, e.g. "claude".
	Name() string

	// Provider returns the provider type.
	Provider() Provider

	// Run launches the engine subprocess with the given prompt and
	// options. When opts.ResumeSessionID is set, the adapter must not pass
	// a fresh Model flag — the underlying engine resumes with the
	// recorded session's model.
	//
	// On ctx cancellation the adapter terminates the subprocess and
	// returns promptly. On timeout it behaves as if cancelled and returns
	// a cmerr error of KindTimeout.
	Run(ctx context.Context, prompt string, opts RunOptions) (RunResult, error)

	// IsAuthenticated probes whether the engine is currently authenticated.
	IsAuthenticated(ctx context.Context) (bool, error)

	// ConfigureMCP, CleanupMCP, IsMCPConfigured manage the engine's MCP
	// server configuration within a workflow directory.
	ConfigureMCP(ctx context.Context, workflowDir string) error
	CleanupMCP(ctx context.Context, workflowDir string) error
	IsMCPConfigured(workflowDir string) bool
}
