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

// Package input provides the two concrete InputProvider implementations: a
// line-based User provider and a running-session-delegating Controller
// provider.
package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

// UserProvider reads the next prompt from a terminal, one line at a time.
// Activate/Deactivate are no-ops; AwaitInput does the terminal-availability
// check, refusing to prompt when its input is an *os.File that is not a
// terminal. Raw-mode keypress capture is not done.
type UserProvider struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

// NewUserProvider creates a UserProvider reading from stdin and writing
// prompts to stdout. Pass explicit in/out for tests.
func NewUserProvider(in io.Reader, out io.Writer) *UserProvider {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &UserProvider{in: in, out: out, reader: bufio.NewReader(in)}
}

func (p *UserProvider) Activate(ctx context.Context) error   { return nil }
func (p *UserProvider) Deactivate(ctx context.Context) error { return nil }

// AwaitInput blocks on a line of input, unless the context is cancelled
// first. A bare "/auto" or "/manual" line is translated into the mode-switch
// sentinels instead of being passed through as prompt text.
func (p *UserProvider) AwaitInput(ctx context.Context, sc workflow.StepContext) (workflow.InputResult, error) {
	if f, ok := p.in.(*os.File); ok && !isInteractiveTerminal(f) {
		return workflow.InputResult{}, fmt.Errorf("step %d requires interactive input but stdin is not a terminal", sc.StepIndex)
	}

	fmt.Fprintf(p.out, "> ")

	type lineResult struct {
		text string
		err  error
	}
	lines := make(chan lineResult, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		lines <- lineResult{text: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return workflow.InputResult{}, ctx.Err()
	case lr := <-lines:
		if lr.err != nil && lr.err != io.EOF {
			return workflow.InputResult{}, lr.err
		}
		text := strings.TrimSpace(lr.text)
		switch text {
		case "/auto":
			return workflow.InputResult{Source: workflow.SourceUser, Mode: workflow.ModeSwitchToAuto}, nil
		case "/manual":
			return workflow.InputResult{Source: workflow.SourceUser, Mode: workflow.ModeSwitchToManual}, nil
		}
		return workflow.InputResult{Source: workflow.SourceUser, Text: text}, nil
	}
}

// isInteractiveTerminal reports whether stdin is attached to a real TTY,
// the same check the teacher uses to decide whether to prompt at all rather
// than block forever on a non-interactive pipe.
func isInteractiveTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
