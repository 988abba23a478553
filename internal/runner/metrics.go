// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// Prometheus counters for the control loop, grounded on the teacher's
// cmd/runner/metrics.go (CounterVec/GaugeVec registered in init, exposed
// over /metrics via promhttp).

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rowsAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_rows_admitted",
			Help: "Number of experiment table rows admitted into training.",
		},
		[]string{"host"},
	)
	rowsCrashed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_rows_crashed",
			Help: "Number of experiment table rows that reached the Crash state.",
		},
		[]string{"host"},
	)
	rowsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_rows_completed",
			Help: "Number of experiment table rows that reached the Done state.",
		},
		[]string{"host"},
	)
	processesRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_processes_running",
			Help: "Number of training processes currently live.",
		},
		[]string{"host"},
	)
)

func init() {
	prometheus.MustRegister(rowsAdmitted)
	prometheus.MustRegister(rowsCrashed)
	prometheus.MustRegister(rowsCompleted)
	prometheus.MustRegister(processesRunning)
}

// MetricsSink is an EventSink that turns Scheduler events into Prometheus
// counters, so the control loop stays unaware of the metrics backend.
type MetricsSink struct {
	host string
}

// NewMetricsSink creates a sink that labels every metric with host.
func NewMetricsSink(host string) *MetricsSink {
	return &MetricsSink{host: host}
}

func (s *MetricsSink) Emit(e Event) {
	switch e.Kind {
	case EventStarted:
		rowsAdmitted.WithLabelValues(s.host).Inc()
	case EventCrashed:
		rowsCrashed.WithLabelValues(s.host).Inc()
	case EventCompleted:
		rowsCompleted.WithLabelValues(s.host).Inc()
	}
}

// SetLiveProcesses updates the running-processes gauge, called once per
// control loop tick.
func SetLiveProcesses(host string, count int) {
	processesRunning.WithLabelValues(host).Set(float64(count))
}

// MetricsHandler returns the http.Handler the supervisor's --metrics_addr
// listener serves /metrics with.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
