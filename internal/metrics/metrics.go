// Package metrics provides Prometheus metrics for the queue alert run.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionClear  = "clear"
	ActionNotify = "notify"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuealert_queue_depth",
			Help: "Queued jobs per machine type in the latest measurement",
		},
		[]string{"machine_type"},
	)
	QueueHours = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuealert_queue_hours",
			Help: "Average queue time in hours per machine type in the latest measurement",
		},
		[]string{"machine_type"},
	)
	AlertingMachines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuealert_alerting_machines",
			Help: "Number of machine types over their queue threshold",
		},
	)
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuealert_mutations_total",
			Help: "Issue tracker mutations requested, by action",
		},
		[]string{"action", "dry_run"},
	)
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuealert_runs_total",
			Help: "Reconciliation runs by result",
		},
		[]string{"result"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuealert_http_requests_total",
			Help: "Outbound HTTP requests by service, method, endpoint and status",
		},
		[]string{"service", "method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queuealert_http_request_duration_seconds",
			Help:    "Outbound HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "endpoint"},
	)
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queuealert_run_duration_seconds",
			Help:    "Reconciliation run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func UpdateQueueMeasurements(measurements []alert.Measurement) {
	QueueDepth.Reset()
	QueueHours.Reset()
	for _, m := range measurements {
		QueueDepth.WithLabelValues(m.MachineType).Set(float64(m.Count))
		QueueHours.WithLabelValues(m.MachineType).Set(m.Hours())
	}
}

func UpdateAlertingMachines(count int) {
	AlertingMachines.Set(float64(count))
}

func RecordMutation(action string, dryRun bool) {
	Mutations.WithLabelValues(action, strconv.FormatBool(dryRun)).Inc()
}

func RecordRun(result string, duration time.Duration) {
	Runs.WithLabelValues(result).Inc()
	RunDuration.Observe(duration.Seconds())
}

func RecordHTTPRequest(service, method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(service, method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(service, method, endpoint).Observe(duration.Seconds())
}

// Push sends everything registered on the default registry to a
// Pushgateway.
func Push(ctx context.Context, url, job string) error {
	return push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
}
