package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightloop_workflow_runs_total",
			Help: "Total number of workflow runs by terminal status.",
		},
		[]string{"status"},
	)
	workflowStageDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insightloop_workflow_stage_duration_ms",
			Help:    "Stage execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)
	workflowRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insightloop_workflow_repairs_total",
			Help: "Total number of SQL repair attempts across all runs.",
		},
	)
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightloop_gateway_calls_total",
			Help: "Total number of language model gateway calls by task and outcome.",
		},
		[]string{"task", "outcome"},
	)
	executorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightloop_executor_calls_total",
			Help: "Total number of query executor calls by outcome.",
		},
		[]string{"outcome"},
	)
	registryLiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insightloop_registry_live_runs",
			Help: "Current count of workflow runs held by the registry.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		workflowRunsTotal,
		workflowStageDurationMs,
		workflowRepairsTotal,
		gatewayCallsTotal,
		executorCallsTotal,
		registryLiveRuns,
	)
}

func ObserveWorkflowRun(status string) {
	workflowRunsTotal.WithLabelValues(status).Inc()
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	workflowStageDurationMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

func IncrementRepairAttempts() {
	workflowRepairsTotal.Inc()
}

func ObserveGatewayCall(task, outcome string) {
	gatewayCallsTotal.WithLabelValues(task, outcome).Inc()
}

func ObserveExecutorCall(outcome string) {
	executorCallsTotal.WithLabelValues(outcome).Inc()
}

func SetRegistryLiveRuns(count int) {
	if count < 0 {
		count = 0
	}
	registryLiveRuns.Set(float64(count))
}
