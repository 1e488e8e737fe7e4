package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var initOnce sync.Once

var (
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	StepsTotal       *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	StepRetriesTotal *prometheus.CounterVec
	PagesPerLoop     prometheus.Histogram
	PipelineElements *prometheus.CounterVec
	StoredRecords    prometheus.Counter
)

// Init registers all collectors with the default registry. Safe to call more
// than once; only the first call registers.
func Init() {
	initOnce.Do(registerAll)
}

func registerAll() {
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_total",
			Help: "Total number of workflow runs by terminal status.",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_run_duration_seconds",
			Help:    "End-to-end duration of workflow runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_steps_total",
			Help: "Total number of executed steps by kind and status.",
		},
		[]string{"kind", "status"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_step_duration_seconds",
			Help:    "Duration of step executions including retries.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	StepRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_step_retries_total",
			Help: "Total retries consumed by steps.",
		},
		[]string{"kind"},
	)

	PagesPerLoop = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_pagination_pages",
			Help:    "Pages visited per pagination loop.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	PipelineElements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_pipeline_elements_total",
			Help: "Elements entering and leaving each post-processing stage.",
		},
		[]string{"stage", "direction"}, // direction: in, out
	)

	StoredRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_stored_records_total",
			Help: "Total records handed to storage providers.",
		},
	)
}
