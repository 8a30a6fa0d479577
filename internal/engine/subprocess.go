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

package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moazbuilds/codemachine-orchestrator/internal/cmerr"
)

// Config configures a SubprocessEngine. Mirrors the per-provider Config +
// constructor-with-defaults shape used across the pkg/model adapters.
type Config struct {
	Name     string
	Provider Provider
	Binary   string        // path or name of the engine executable
	BaseArgs []string      // static argv prefix before prompt/model/resume flags
	HomeDir  string        // per-engine home dir, from CODEMACHINE_* env
	Timeout  time.Duration
	MCP      []MCPServerConfig // MCP servers to configure for this engine, see mcp.go
}

// SubprocessEngine launches the engine as a local child process via
// os/exec, the default (non-plugin) Engine Adapter implementation.
type SubprocessEngine struct {
	cfg Config

	mu            sync.Mutex
	mcpConfigured map[string]bool
}

// New creates a SubprocessEngine, filling in documented defaults.
func New(cfg Config) *SubprocessEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &SubprocessEngine{cfg: cfg, mcpConfigured: make(map[string]bool)}
}

func (e *SubprocessEngine) Name() string       { return e.cfg.Name }
func (e *SubprocessEngine) Provider() Provider { return e.cfg.Provider }

// Run launches the subprocess in its own process group so Cancel can kill
// the whole tree, built on the same syscall.Kill(-pid, ...) process-group
// idiom used for orphan-PID cleanup, adapted here to direct
// per-invocation cancellation.
func (e *SubprocessEngine) Run(ctx context.Context, prompt string, opts RunOptions) (RunResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, e.cfg.BaseArgs...)
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
		if opts.ResumePrompt != "" {
			args = append(args, "--resume-prompt", opts.ResumePrompt)
		}
		// Never pass a fresh model flag on resume.
	} else if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	cmd := exec.CommandContext(runCtx, e.cfg.Binary, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Setpgid makes the child its own group leader, so -pid is the group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	if e.cfg.HomeDir != "" {
		cmd.Env = append(os.Environ(), "HOME="+e.cfg.HomeDir)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, cmerr.StartupFailure("failed to open stdout pipe", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return RunResult{}, cmerr.StartupFailure("failed to open stderr pipe", err)
	}

	if err := writePrompt(cmd, prompt); err != nil {
		return RunResult{}, cmerr.RuntimeFailure("failed to write prompt", err)
	}

	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			return RunResult{}, cmerr.StartupFailure(fmt.Sprintf("engine binary not found: %s", e.cfg.Binary), err)
		}
		return RunResult{}, cmerr.RuntimeFailure("failed to start engine", err)
	}

	var g errgroup.Group
	g.Go(func() error { return streamChunks(stdoutPipe, opts.OnStdout) })
	g.Go(func() error { return streamChunks(stderrPipe, opts.OnStderr) })

	waitErr := cmd.Wait()
	_ = g.Wait()

	if runCtx.Err() != nil {
		e.killProcessGroup(cmd)
		if ctx.Err() != nil {
			return RunResult{}, cmerr.Wrap(cmerr.KindCancelled, "engine invocation cancelled", ctx.Err())
		}
		return RunResult{}, cmerr.Wrap(cmerr.KindTimeout, "engine invocation timed out", runCtx.Err())
	}

	if waitErr != nil {
		return RunResult{}, cmerr.RuntimeFailure("engine exited with error", waitErr)
	}

	return RunResult{ExitCode: 0, SessionID: opts.ResumeSessionID}, nil
}

// killProcessGroup terminates the subprocess's whole process group so
// grandchildren spawned by the engine do not outlive cancellation.
func (e *SubprocessEngine) killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func writePrompt(cmd *exec.Cmd, prompt string) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	go func() {
		defer stdin.Close()
		_, _ = stdin.Write([]byte(prompt))
	}()
	return nil
}

// streamChunks reads r in arrival order, invoking onChunk for each chunk
// read. onChunk may be nil, in which case the stream is drained and
// discarded (still required to let the subprocess make progress).
func streamChunks(r io.Reader, onChunk func([]byte)) error {
	reader := bufio.NewReaderSize(r, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 && onChunk != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err != nil {
			return nil
		}
	}
}

// IsAuthenticated always reports true; the default subprocess launcher has
// no identity of its own to probe. Per-provider adapters that wrap this
// struct should override it with a real login-state check.
func (e *SubprocessEngine) IsAuthenticated(ctx context.Context) (bool, error) {
	return true, nil
}

// ConfigureMCP, CleanupMCP, and IsMCPConfigured are implemented in mcp.go.

// mcpStatePath is where ConfigureMCP persists MCP configuration state for
// a workflow directory, so IsMCPConfigured survives process restarts.
func mcpStatePath(workflowDir string) string {
	return filepath.Join(workflowDir, ".codemachine", "mcp.json")
}
