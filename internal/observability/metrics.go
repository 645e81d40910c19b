package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	jobsClaimedTotal      prometheus.Counter
	jobDeferralsTotal     *prometheus.CounterVec
	jobOutcomesTotal      *prometheus.CounterVec
	transportSendDuration *prometheus.HistogramVec
	workerInflight        prometheus.Gauge
	retryScheduledTotal   prometheus.Counter
	leasesReclaimedTotal  prometheus.Counter
	blastsScheduledTotal  prometheus.Counter
	recipientEventsTotal  *prometheus.CounterVec
	sendingPausesTotal    *prometheus.CounterVec
}

const metricsNamespace = "keepup_mailer"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "jobs_claimed_total",
				Help:      "Total number of email jobs claimed by dispatchers.",
			},
		),
		jobDeferralsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_deferrals_total",
				Help:      "Total number of claimed jobs released back to queued, by reason code.",
			},
			[]string{"reason"},
		),
		jobOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_outcomes_total",
				Help:      "Total number of terminal job outcomes by status and reason code.",
			},
			[]string{"status", "reason"},
		),
		transportSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "transport_send_duration_seconds",
				Help:      "Transport send duration in seconds grouped by result.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"result"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_inflight",
				Help:      "Current number of jobs being dispatched.",
			},
		),
		retryScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retry_scheduled_total",
				Help:      "Total number of jobs requeued after a transient transport failure.",
			},
		),
		leasesReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "leases_reclaimed_total",
				Help:      "Total number of stale processing jobs returned to queued.",
			},
		),
		blastsScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "blasts_scheduled_total",
				Help:      "Total number of blasts materialized into jobs.",
			},
		),
		recipientEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "recipient_events_total",
				Help:      "Total number of recipient events handled by type.",
			},
			[]string{"type"},
		),
		sendingPausesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "company_sending_pauses_total",
				Help:      "Total number of company sending pauses by reason.",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsClaimedTotal,
		m.jobDeferralsTotal,
		m.jobOutcomesTotal,
		m.transportSendDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.leasesReclaimedTotal,
		m.blastsScheduledTotal,
		m.recipientEventsTotal,
		m.sendingPausesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncJobClaimed() {
	if m == nil {
		return
	}
	m.jobsClaimedTotal.Inc()
}

func (m *Metrics) IncJobDeferred(reason string) {
	if m == nil {
		return
	}
	m.jobDeferralsTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncJobOutcome(status string, reason string) {
	if m == nil {
		return
	}
	m.jobOutcomesTotal.WithLabelValues(normalizeLabel(status), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveTransportSend(result string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.transportSendDuration.WithLabelValues(normalizeLabel(result)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) AddLeasesReclaimed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.leasesReclaimedTotal.Add(float64(n))
}

func (m *Metrics) IncBlastScheduled() {
	if m == nil {
		return
	}
	m.blastsScheduledTotal.Inc()
}

func (m *Metrics) IncRecipientEvent(eventType string) {
	if m == nil {
		return
	}
	m.recipientEventsTotal.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *Metrics) IncSendingPaused(reason string) {
	if m == nil {
		return
	}
	m.sendingPausesTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
