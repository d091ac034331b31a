package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/abstraction-billing/twopart"
)

const metricPrefix = "two_part_tariff_"

// Metrics implements twopart.Observer on top of prometheus collectors.
//
// Label values are low-cardinality: review status, stage, bill run status,
// issue name. Licence ids never become labels.
type Metrics struct {
	licencesProcessed *prometheus.CounterVec
	licenceFailures   *prometheus.CounterVec
	licenceDuration   prometheus.Histogram
	licenceIssues     *prometheus.CounterVec
	billRuns          *prometheus.CounterVec
	billRunDuration   prometheus.Histogram
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
}

var _ twopart.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer uses a fresh registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		licencesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "licences_processed_total",
			Help: "Licences matched and allocated, by review status.",
		}, []string{"status"}),
		licenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "licence_failures_total",
			Help: "Licences that failed, by stage.",
		}, []string{"stage"}),
		licenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "licence_duration_seconds",
			Help:    "Match and allocate latency per licence.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		licenceIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "licence_issues_total",
			Help: "Issues raised on processed licences, by issue.",
		}, []string{"issue"}),
		billRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "bill_runs_total",
			Help: "Finished bill runs by outcome.",
		}, []string{"status"}),
		billRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "bill_run_duration_seconds",
			Help:    "Wall time of a bill run.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registerer.MustRegister(
		m.licencesProcessed,
		m.licenceFailures,
		m.licenceDuration,
		m.licenceIssues,
		m.billRuns,
		m.billRunDuration,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) LicenceProcessed(licence *twopart.Licence, elapsed time.Duration) {
	m.licencesProcessed.WithLabelValues(string(licence.Status)).Inc()
	m.licenceDuration.Observe(elapsed.Seconds())
	for _, issue := range licence.Issues {
		m.licenceIssues.WithLabelValues(string(issue)).Inc()
	}
}

func (m *Metrics) LicenceFailed(stage string) {
	m.licenceFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) BillRunFinished(status twopart.BillRunStatus, elapsed time.Duration) {
	m.billRuns.WithLabelValues(string(status)).Inc()
	m.billRunDuration.Observe(elapsed.Seconds())
}

// ObserveRequest records one HTTP request. route is the matched pattern,
// not the raw path.
func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
