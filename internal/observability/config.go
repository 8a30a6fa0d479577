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

package observability

import (
	"fmt"
)

// Config configures the observability system: one span per step/engine
// invocation plus Prometheus counters and histograms for step duration,
// directive outcomes, and engine auth probes.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on distributed tracing.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter selects the trace exporter. Values: "otlp" (default), "stdout".
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate controls what fraction of traces are sampled, 0.0-1.0.
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name,omitempty"`

	// DebugExporter enables the in-memory span exporter used by Info/debug
	// tooling to inspect recent step spans without a collector.
	DebugExporter *bool `yaml:"debug_exporter,omitempty"`

	// CaptureStepOutput enables attaching a truncated preview of each
	// step's accumulated stdout to its span. Disabled by default: step
	// output can be large and may contain sensitive prompt content.
	CaptureStepOutput bool `yaml:"capture_step_output,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled     bool              `yaml:"enabled,omitempty"`
	Endpoint    string            `yaml:"endpoint,omitempty"`
	Namespace   string            `yaml:"namespace,omitempty"`
	ConstLabels map[string]string `yaml:"const_labels,omitempty"`
}

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks the Config for errors.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.DebugExporter == nil && c.Enabled {
		debug := true
		c.DebugExporter = &debug
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	switch c.Exporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}
	if c.Exporter == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for the otlp exporter")
	}
	return nil
}

// IsDebugExporterEnabled returns whether the in-memory debug exporter
// should be registered alongside the real exporter.
func (c *TracingConfig) IsDebugExporterEnabled() bool {
	if c.DebugExporter == nil {
		return c.Enabled
	}
	return *c.DebugExporter
}

// SetDefaults applies default values to MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "codemachine"
	}
}

// Validate checks MetricsConfig for errors.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when metrics are enabled")
	}
	return nil
}

// DefaultMetricsPath is used by callers that need the path before a Config
// has been loaded (e.g. to register a fallback handler).
const DefaultMetricsPath = "/metrics"
