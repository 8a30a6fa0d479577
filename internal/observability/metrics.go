// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator: step/engine
// throughput and latency, directive outcomes, auth-cache probe results,
// and (when the remote-controller server is active) inbound HTTP traffic.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepsActive    prometheus.Gauge
	engineRuns     *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	engineErrors   *prometheus.CounterVec

	directiveEvaluations *prometheus.CounterVec

	authProbes *prometheus.CounterVec

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec
}

// NewMetrics builds and registers the Prometheus collectors described by cfg.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	factory := promauto(registry, cfg.Namespace, cfg.ConstLabels)

	m := &Metrics{
		config:   cfg,
		registry: registry,

		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steps_total",
			Help: "Total number of workflow steps run, by agent and outcome.",
		}, []string{"agent_id", "outcome"}),

		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "step_duration_seconds",
			Help:    "Duration of a workflow step end to end.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_id"}),

		stepsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "steps_active",
			Help: "Number of workflow steps currently running.",
		}),

		engineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_runs_total",
			Help: "Total number of engine subprocess invocations, by engine and outcome.",
		}, []string{"engine", "outcome"}),

		engineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_run_duration_seconds",
			Help:    "Duration of an engine subprocess invocation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"engine"}),

		engineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Total number of engine invocation failures, by engine and failure kind.",
		}, []string{"engine", "kind"}),

		directiveEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "directive_evaluations_total",
			Help: "Total number of directive evaluator decisions, by resulting action.",
		}, []string{"action"}),

		authProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_probes_total",
			Help: "Total number of engine authentication probes, by engine and cache result.",
		}, []string{"engine", "result"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of inbound controller HTTP requests.",
		}, []string{"method", "path", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of inbound controller HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		httpRequestSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "Size of inbound controller HTTP request bodies.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "path"}),

		httpResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of outbound controller HTTP response bodies.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "path"}),
	}

	return m, nil
}

// metricsFactory wraps prometheus.Factory-like construction with a shared
// namespace and const labels, registering every collector on registry.
type metricsFactory struct {
	registry    *prometheus.Registry
	namespace   string
	constLabels prometheus.Labels
}

func promauto(registry *prometheus.Registry, namespace string, constLabels map[string]string) *metricsFactory {
	return &metricsFactory{registry: registry, namespace: namespace, constLabels: prometheus.Labels(constLabels)}
}

func (f *metricsFactory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = f.namespace
	opts.ConstLabels = f.constLabels
	cv := prometheus.NewCounterVec(opts, labelNames)
	f.registry.MustRegister(cv)
	return cv
}

func (f *metricsFactory) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	opts.Namespace = f.namespace
	opts.ConstLabels = f.constLabels
	hv := prometheus.NewHistogramVec(opts, labelNames)
	f.registry.MustRegister(hv)
	return hv
}

func (f *metricsFactory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = f.namespace
	opts.ConstLabels = f.constLabels
	g := prometheus.NewGauge(opts)
	f.registry.MustRegister(g)
	return g
}

// RecordStep records the outcome and duration of a completed workflow step.
func (m *Metrics) RecordStep(agentID, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(agentID, outcome).Inc()
	m.stepDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// StepStarted/StepFinished track the in-flight step gauge.
func (m *Metrics) StepStarted() {
	if m == nil {
		return
	}
	m.stepsActive.Inc()
}

func (m *Metrics) StepFinished() {
	if m == nil {
		return
	}
	m.stepsActive.Dec()
}

// RecordEngineRun records one engine subprocess invocation.
func (m *Metrics) RecordEngineRun(engine, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.engineRuns.WithLabelValues(engine, outcome).Inc()
	m.engineDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordEngineError records an engine failure by kind (the runner passes the
// cmerr kind name, e.g. "Timeout", "Cancelled", "StartupFailure").
func (m *Metrics) RecordEngineError(engine, kind string) {
	if m == nil {
		return
	}
	m.engineErrors.WithLabelValues(engine, kind).Inc()
}

// RecordDirectiveEvaluation records the action a directive evaluation
// chain resolved to.
func (m *Metrics) RecordDirectiveEvaluation(action string) {
	if m == nil {
		return
	}
	m.directiveEvaluations.WithLabelValues(action).Inc()
}

// RecordAuthProbe records an engine authentication check, result being
// "cached_hit", "cached_miss", or "probed".
func (m *Metrics) RecordAuthProbe(engine, result string) {
	if m == nil {
		return
	}
	m.authProbes.WithLabelValues(engine, result).Inc()
}

// RecordHTTPRequest records one inbound controller HTTP request, including
// request and response body sizes in bytes.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := fmt.Sprintf("%d", statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// Handler returns the Prometheus scrape handler for this Metrics instance.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
