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

// Command codemachine runs a workflow template step by step, launching
// external code-generation engine subprocesses and tracking progress in
// .codemachine/memory.
//
// Usage:
//
//	codemachine run --config config.yaml --template workflow.yaml
//	codemachine resume --config config.yaml --template workflow.yaml
//	codemachine validate --config config.yaml --template workflow.yaml
//	codemachine info --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/moazbuilds/codemachine-orchestrator/internal/auth"
	"github.com/moazbuilds/codemachine-orchestrator/internal/authcache"
	cfgpkg "github.com/moazbuilds/codemachine-orchestrator/internal/config"
	"github.com/moazbuilds/codemachine-orchestrator/internal/directive"
	"github.com/moazbuilds/codemachine-orchestrator/internal/engine"
	"github.com/moazbuilds/codemachine-orchestrator/internal/input"
	"github.com/moazbuilds/codemachine-orchestrator/internal/logger"
	"github.com/moazbuilds/codemachine-orchestrator/internal/observability"
	"github.com/moazbuilds/codemachine-orchestrator/internal/runner"
	"github.com/moazbuilds/codemachine-orchestrator/internal/signalbus"
	"github.com/moazbuilds/codemachine-orchestrator/internal/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a workflow template from the start or from its last tracked step."`
	Resume   ResumeCmd   `cmd:"" help:"Resume a workflow template from its tracked index, ignoring resumeFromLastStep."`
	Validate ValidateCmd `cmd:"" help:"Validate a config and workflow template without running anything."`
	Info     InfoCmd     `cmd:"" help:"Show the engines and tracking state for a workflow root."`

	Config   string `short:"c" help:"Path to orchestrator config YAML." default:"config.yaml" type:"path"`
	Template string `short:"t" help:"Path to workflow template YAML." default:"workflow.yaml" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("codemachine"), kong.Description("Workflow orchestrator for long-running AI-agent subprocesses."))

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := cfgpkg.LoadEnvFiles(); err != nil {
		slog.Warn("env file load failed", "error", err)
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// RunCmd starts a fresh or resumed workflow invocation according to the
// tracking file's own resumeFromLastStep flag.
type RunCmd struct {
	Track      string   `help:"Restrict execution to steps declaring this track."`
	Conditions []string `help:"Restrict execution to steps whose conditions are satisfied by this set."`
}

func (c *RunCmd) Run(cli *CLI) error {
	return runWorkflow(cli, c.Track, c.Conditions, false)
}

// ResumeCmd forces resumption from the tracked step index, bypassing
// resumeFromLastStep.
type ResumeCmd struct {
	Track      string   `help:"Restrict execution to steps declaring this track."`
	Conditions []string `help:"Restrict execution to steps whose conditions are satisfied by this set."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	return runWorkflow(cli, c.Track, c.Conditions, true)
}

// ValidateCmd loads the config and template and reports the first error,
// without launching any engine subprocess.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := cfgpkg.Load(cli.Config); err != nil {
		return err
	}
	if _, err := cfgpkg.LoadTemplate(cli.Template); err != nil {
		return err
	}
	fmt.Println("config and template are valid")
	return nil
}

// InfoCmd prints the configured engines and the current tracking state.
type InfoCmd struct{}

func (c *InfoCmd) Run(cli *CLI) error {
	cfg, err := cfgpkg.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Println("engines:")
	for _, e := range cfg.Engines {
		marker := ""
		if e.Default {
			marker = " (default)"
		}
		fmt.Printf("  %s [%s] -> %s%s\n", e.ID, e.Provider, e.Binary, marker)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	idx := workflow.NewIndexManager(cwd)
	resume, err := idx.ResumeInfo()
	if err != nil {
		return fmt.Errorf("reading tracking state: %w", err)
	}
	fmt.Printf("resume: kind=%s stepIndex=%d\n", resume.Kind, resume.StepIndex)
	return nil
}

func runWorkflow(cli *CLI, track string, conditions []string, forceResume bool) error {
	cfg, err := cfgpkg.Load(cli.Config)
	if err != nil {
		return err
	}
	tmpl, err := cfgpkg.LoadTemplate(cli.Template)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	idx := workflow.NewIndexManager(cwd)
	if forceResume {
		if err := idx.SetResumeFromLastStep(true); err != nil {
			return fmt.Errorf("forcing resume: %w", err)
		}
	}

	engines := engine.NewRegistry()
	for _, e := range cfg.Engines {
		mcpServers := make([]engine.MCPServerConfig, 0, len(e.MCP))
		for _, m := range e.MCP {
			mcpServers = append(mcpServers, engine.MCPServerConfig{
				Name:      m.Name,
				Transport: m.Transport,
				Command:   m.Command,
				Args:      m.Args,
				Env:       m.Env,
				URL:       m.URL,
			})
		}
		se := engine.New(engine.Config{
			Name:     e.ID,
			Provider: engine.Provider(e.Provider),
			Binary:   e.Binary,
			BaseArgs: e.BaseArgs,
			HomeDir:  e.HomeDir,
			Timeout:  e.Timeout,
			MCP:      mcpServers,
		})
		engines.Register(e.ID, se)
		if e.Default {
			engines.SetDefault(e.ID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obsCfg := &observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:  cfg.Observability.Enabled,
			Endpoint: cfg.Observability.OTLPEndpoint,
		},
		Metrics: observability.MetricsConfig{
			Enabled: cfg.Observability.Enabled,
		},
	}
	if cfg.Observability.StdoutFallback {
		obsCfg.Tracing.Exporter = "stdout"
	}
	obs, err := observability.NewManager(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()
	if obs.MetricsEnabled() {
		go serveMetrics(cfg.Observability.MetricsAddr, obs)
	}

	var controllerProvider workflow.InputProvider
	if cfg.Controller.Enabled {
		var validator *auth.JWTValidator
		if cfg.Controller.JWKSURL != "" {
			v, err := auth.NewJWTValidator(cfg.Controller.JWKSURL, cfg.Controller.Issuer, cfg.Controller.Audience)
			if err != nil {
				return fmt.Errorf("initializing controller JWT validator: %w", err)
			}
			validator = v
		}
		remoteSession := input.NewRemoteSession()
		provider := input.NewControllerProvider(remoteSession, validator)
		controllerProvider = provider
		remoteServer := input.NewRemoteServer(provider, remoteSession, obs)
		go func() {
			if err := http.ListenAndServe(cfg.Controller.Addr, remoteServer.Handler()); err != nil {
				slog.Warn("controller server stopped", "error", err)
			}
		}()
	}

	mode := workflow.NewMode(input.NewUserProvider(nil, nil), controllerProvider)

	cfgRunner := runner.Config{
		Template:           tmpl,
		Index:              idx,
		Directives:         directive.New(cwd),
		Engines:            engines,
		AuthCache:          authcache.New(cfg.AuthCacheTTL),
		Bus:                signalbus.New(),
		Mode:               mode,
		Logger:             slog.Default(),
		Observability:      obs,
		SelectedTrack:      track,
		SelectedConditions: conditions,
	}

	r, err := runner.New(cfgRunner)
	if err != nil {
		return fmt.Errorf("building runner: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	state, err := r.Run(ctx)
	slog.Info("workflow finished", "state", state)
	return err
}

func serveMetrics(addr string, obs *observability.Manager) {
	mux := http.NewServeMux()
	mux.Handle(obs.MetricsEndpoint(), obs.MetricsHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "error", err)
	}
}
