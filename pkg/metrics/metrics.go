package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Project metrics
	ProjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hangar_projects_total",
			Help: "Total number of projects by state",
		},
		[]string{"state"},
	)

	// Worker metrics
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hangar_worker_queue_depth",
			Help: "Number of tasks waiting in the worker queue",
		},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangar_tasks_total",
			Help: "Total number of tasks executed by result",
		},
		[]string{"result"},
	)

	TasksRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hangar_tasks_rejected_total",
			Help: "Total number of tasks rejected because the queue was full",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangar_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hangar_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangar_proxy_requests_total",
			Help: "Total number of proxied requests by outcome",
		},
		[]string{"outcome"},
	)

	ProjectWakes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hangar_project_wakes_total",
			Help: "Total number of stopped projects woken by traffic",
		},
	)

	// ACME metrics
	CertificatesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hangar_certificates_issued_total",
			Help: "Total number of certificates issued",
		},
	)

	CertificateRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangar_certificate_renewals_total",
			Help: "Total number of renewal decisions by outcome",
		},
		[]string{"outcome"},
	)

	// Build metrics
	BuildSlotsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hangar_build_slots_active",
			Help: "Number of build slots currently held",
		},
	)

	BuildsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hangar_builds_queued_total",
			Help: "Total number of deployments queued for build",
		},
	)

	// Deployer metrics
	DeploymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangar_deployment_transitions_total",
			Help: "Total number of deployment state transitions by state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(ProjectsTotal)
	prometheus.MustRegister(WorkerQueueDepth)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksRejected)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ProjectWakes)
	prometheus.MustRegister(CertificatesIssued)
	prometheus.MustRegister(CertificateRenewals)
	prometheus.MustRegister(BuildSlotsActive)
	prometheus.MustRegister(BuildsQueued)
	prometheus.MustRegister(DeploymentTransitions)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
