package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics (ops server)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Maintenance job metrics
	JobRuns        *prometheus.CounterVec
	JobCandidates  *prometheus.CounterVec
	JobTransitions *prometheus.CounterVec
	JobLostRaces   *prometheus.CounterVec
	JobFailures    *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec

	// Event delivery
	SinkFailures *prometheus.CounterVec

	// Database metrics
	DBConnections prometheus.Gauge
}

// New creates a Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered on reg. Tests pass
// a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_job_runs_total",
				Help: "Total number of maintenance job runs",
			},
			[]string{"job", "result"}, // success, error
		),
		JobCandidates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_job_candidates_total",
				Help: "Candidates selected by maintenance jobs",
			},
			[]string{"job"},
		),
		JobTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_job_transitions_total",
				Help: "Conditional writes won by maintenance jobs",
			},
			[]string{"job"},
		),
		JobLostRaces: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_job_lost_races_total",
				Help: "Conditional writes that affected no row",
			},
			[]string{"job"},
		),
		JobFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_job_failures_total",
				Help: "Per-candidate write failures",
			},
			[]string{"job"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maintenance_job_duration_seconds",
				Help:    "Maintenance job run duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"job"},
		),

		SinkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_sink_failures_total",
				Help: "Events a sink failed to deliver",
			},
			[]string{"sink"},
		),

		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, not the concrete path

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, status).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// JobRun summarizes one maintenance job invocation.
type JobRun struct {
	Job         string
	Candidates  int
	Transitions int
	LostRaces   int
	Failures    int
	Duration    time.Duration
	Err         error
}

// RecordJobRun records the outcome of one job invocation
func (m *Metrics) RecordJobRun(r JobRun) {
	result := "success"
	if r.Err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(r.Job, result).Inc()
	m.JobCandidates.WithLabelValues(r.Job).Add(float64(r.Candidates))
	m.JobTransitions.WithLabelValues(r.Job).Add(float64(r.Transitions))
	m.JobLostRaces.WithLabelValues(r.Job).Add(float64(r.LostRaces))
	m.JobFailures.WithLabelValues(r.Job).Add(float64(r.Failures))
	m.JobDuration.WithLabelValues(r.Job).Observe(r.Duration.Seconds())
}

// RecordSinkFailure increments the failure counter of an event sink
func (m *Metrics) RecordSinkFailure(sink string) {
	m.SinkFailures.WithLabelValues(sink).Inc()
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	m.DBConnections.Set(count)
}
