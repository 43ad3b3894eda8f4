// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	AnalysisRuns        *prometheus.CounterVec
	AnalysisRunDuration *prometheus.HistogramVec
	AnalysisInFlight    prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
	HTTPInFlight        prometheus.Gauge
	ToolCalls           *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		AnalysisRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sans_pilot_analysis_runs_total",
			Help: "Analysis runs by analysis name and outcome",
		}, []string{"analysis", "status"}),
		AnalysisRunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sans_pilot_analysis_run_duration_seconds",
			Help:    "Wall time of analysis runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"analysis"}),
		AnalysisInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "sans_pilot_analysis_runs_in_flight",
			Help: "Analysis runs currently executing",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sans_pilot_http_requests_total",
			Help: "HTTP requests by status class",
		}, []string{"status_class"}),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "sans_pilot_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sans_pilot_tool_calls_total",
			Help: "MCP tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
	}
}

func (m *Metrics) RunStarted(string) {
	m.AnalysisInFlight.Inc()
}

func (m *Metrics) RunFinished(analysis string, err error, elapsed time.Duration) {
	m.AnalysisInFlight.Dec()
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.AnalysisRuns.WithLabelValues(analysis, status).Inc()
	m.AnalysisRunDuration.WithLabelValues(analysis).Observe(elapsed.Seconds())
}

func (m *Metrics) RequestStarted() {
	m.HTTPInFlight.Inc()
}

func (m *Metrics) RequestFinished(status int, _ time.Duration) {
	m.HTTPInFlight.Dec()
	m.HTTPRequests.WithLabelValues(fmt.Sprintf("%dxx", status/100)).Inc()
}

// ToolCalled records one tool call; outcome is "ok" or an error code.
func (m *Metrics) ToolCalled(tool, outcome string) {
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}
