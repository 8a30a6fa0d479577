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

// Package config loads the orchestrator's own YAML configuration (engine
// binaries, auth-cache TTL, observability, and the optional distributed
// template-store backend), with ${VAR}-style environment expansion applied
// the same way the teacher's config loader expands its YAML documents
// before decoding.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names the distributed template-store/index backend, selected by
// the distributed.backend key of the config document.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendConsul Backend = "consul"
)

// EngineConfig is one entry in the config document's engines list.
type EngineConfig struct {
	ID       string        `yaml:"id"`
	Provider string        `yaml:"provider"`
	Binary   string        `yaml:"binary"`
	BaseArgs []string      `yaml:"baseArgs,omitempty"`
	HomeDir  string        `yaml:"homeDir,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Default  bool          `yaml:"default,omitempty"`
	MCP      []MCPConfig   `yaml:"mcp,omitempty"`
}

// MCPConfig configures one MCP server this engine should be connected to
// for the lifetime of a workflow directory.
type MCPConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport,omitempty"` // "stdio" (default), "sse", "streamable-http"
	Command   string            `yaml:"command,omitempty"`   // stdio transport
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"` // sse/streamable-http transports
}

// ObservabilityConfig controls OTel tracing and Prometheus metrics export.
type ObservabilityConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty"`
	OTLPEndpoint   string `yaml:"otlpEndpoint,omitempty"`
	MetricsAddr    string `yaml:"metricsAddr,omitempty"`
	StdoutFallback bool   `yaml:"stdoutFallback,omitempty"`
}

// DistributedConfig configures the optional multi-host coordination
// backend for the template registry and step index.
type DistributedConfig struct {
	Backend   Backend  `yaml:"backend,omitempty"`
	Addresses []string `yaml:"addresses,omitempty"`
	Namespace string   `yaml:"namespace,omitempty"`
}

// ControllerConfig configures the optional remote-controller HTTP endpoint:
// a network-hosted agent posts the next step's prompt instead of a human at
// a keyboard or an in-process session. JWKSURL, when set, turns on bearer-
// token verification for incoming prompt requests via auth.NewJWTValidator;
// leaving it empty disables auth, which is only acceptable when Addr is
// bound to localhost.
type ControllerConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Addr     string `yaml:"addr,omitempty"`
	JWKSURL  string `yaml:"jwksUrl,omitempty"`
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

// Config is the orchestrator's top-level configuration document.
type Config struct {
	Engines       []EngineConfig      `yaml:"engines"`
	AuthCacheTTL  time.Duration       `yaml:"authCacheTTL,omitempty"`
	LogLevel      string              `yaml:"logLevel,omitempty"`
	LogFormat     string              `yaml:"logFormat,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
	Distributed   DistributedConfig   `yaml:"distributed,omitempty"`
	Controller    ControllerConfig    `yaml:"controller,omitempty"`
}

// SetDefaults fills in zero-valued fields, same convention as the teacher's
// per-struct SetDefaults methods.
func (c *Config) SetDefaults() {
	if c.AuthCacheTTL <= 0 {
		c.AuthCacheTTL = 5 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
	if c.Distributed.Backend == "" {
		c.Distributed.Backend = BackendLocal
	}
	if c.Observability.MetricsAddr == "" {
		c.Observability.MetricsAddr = ":9090"
	}
	if c.Controller.Enabled && c.Controller.Addr == "" {
		c.Controller.Addr = ":8181"
	}
}

// Validate rejects a Config that cannot be used to build a Runner.
func (c *Config) Validate() error {
	if len(c.Engines) == 0 {
		return fmt.Errorf("config: at least one engine must be configured")
	}
	seen := make(map[string]bool, len(c.Engines))
	defaults := 0
	for _, e := range c.Engines {
		if e.ID == "" {
			return fmt.Errorf("config: engine entry missing id")
		}
		if e.Binary == "" {
			return fmt.Errorf("config: engine %q missing binary", e.ID)
		}
		if seen[e.ID] {
			return fmt.Errorf("config: duplicate engine id %q", e.ID)
		}
		seen[e.ID] = true
		if e.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("config: more than one engine marked default")
	}
	switch c.Distributed.Backend {
	case BackendLocal, BackendConsul:
	default:
		return fmt.Errorf("config: unknown distributed backend %q", c.Distributed.Backend)
	}
	if c.Distributed.Backend != BackendLocal && len(c.Distributed.Addresses) == 0 {
		return fmt.Errorf("config: distributed backend %q requires at least one address", c.Distributed.Backend)
	}
	return nil
}

// Load reads path, expands environment-variable references, decodes the
// result as YAML, applies defaults, and validates. godotenv-loaded files
// (.env.local, .env) should be loaded by the caller first via LoadEnvFiles
// so expansion sees them.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	generic = expandYAMLTree(generic)

	reencoded, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode %s after expansion: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(reencoded, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandYAMLTree walks a decoded YAML tree (string-keyed maps and slices)
// and expands environment-variable references in its string leaves via
// ExpandEnvVarsInData. Maps keyed by anything other than string are passed
// to ExpandEnvVarsInData as they are, without being walked.
func expandYAMLTree(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = expandYAMLTree(val)
		}
		return ExpandEnvVarsInData(out)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = expandYAMLTree(val)
		}
		return ExpandEnvVarsInData(out)
	default:
		return ExpandEnvVarsInData(v)
	}
}
