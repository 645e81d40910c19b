package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDispatchCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncJobClaimed()
	metrics.IncJobClaimed()
	metrics.IncJobDeferred("DAILY_CAP")
	metrics.IncJobOutcome("sent", "")
	metrics.IncJobOutcome("failed", "RETRIES_EXHAUSTED")
	metrics.ObserveTransportSend("ok", 120*time.Millisecond)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncRetryScheduled()
	metrics.AddLeasesReclaimed(3)
	metrics.AddLeasesReclaimed(0)

	if got := testutil.ToFloat64(metrics.jobsClaimedTotal); got != 2 {
		t.Fatalf("jobs_claimed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.jobDeferralsTotal.WithLabelValues("daily_cap")); got != 1 {
		t.Fatalf("job_deferrals_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.jobOutcomesTotal.WithLabelValues("sent", "unknown")); got != 1 {
		t.Fatalf("job_outcomes_total{sent} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.jobOutcomesTotal.WithLabelValues("failed", "retries_exhausted")); got != 1 {
		t.Fatalf("job_outcomes_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.leasesReclaimedTotal); got != 3 {
		t.Fatalf("leases_reclaimed_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncJobClaimed()
	metrics.IncJobOutcome("sent", "")
	metrics.IncRecipientEvent("recipient.status_changed")
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
