package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"github.com/zlammie/keepup-mailer/internal/service"
	"github.com/zlammie/keepup-mailer/internal/transport"
	"go.uber.org/zap"
)

const testCompany = "company-1"

type stubBlastService struct {
	previewFn  func(ctx context.Context, in service.ScheduleBlastInput) (*service.BlastPreview, error)
	scheduleFn func(ctx context.Context, in service.ScheduleBlastInput) (*domain.Blast, bool, error)
	getFn      func(ctx context.Context, companyID, blastID string) (*service.BlastDetail, error)
	listFn     func(ctx context.Context, companyID string, status *domain.BlastStatus, limit int) ([]domain.Blast, error)
	actionFn   func(ctx context.Context, action, companyID, blastID string) (*domain.Blast, error)
	repaceFn   func(ctx context.Context, companyID, blastID string, startAt time.Time) (*domain.Blast, error)
}

func (s *stubBlastService) Preview(ctx context.Context, in service.ScheduleBlastInput) (*service.BlastPreview, error) {
	if s.previewFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.previewFn(ctx, in)
}

func (s *stubBlastService) ScheduleBlast(ctx context.Context, in service.ScheduleBlastInput) (*domain.Blast, bool, error) {
	if s.scheduleFn == nil {
		return nil, false, errors.New("not implemented")
	}
	return s.scheduleFn(ctx, in)
}

func (s *stubBlastService) Get(ctx context.Context, companyID, blastID string) (*service.BlastDetail, error) {
	if s.getFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.getFn(ctx, companyID, blastID)
}

func (s *stubBlastService) List(ctx context.Context, companyID string, status *domain.BlastStatus, limit int) ([]domain.Blast, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, companyID, status, limit)
}

func (s *stubBlastService) action(ctx context.Context, action, companyID, blastID string) (*domain.Blast, error) {
	if s.actionFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.actionFn(ctx, action, companyID, blastID)
}

func (s *stubBlastService) Cancel(ctx context.Context, companyID, blastID string) (*domain.Blast, error) {
	return s.action(ctx, "cancel", companyID, blastID)
}

func (s *stubBlastService) Pause(ctx context.Context, companyID, blastID string) (*domain.Blast, error) {
	return s.action(ctx, "pause", companyID, blastID)
}

func (s *stubBlastService) Resume(ctx context.Context, companyID, blastID string) (*domain.Blast, error) {
	return s.action(ctx, "resume", companyID, blastID)
}

func (s *stubBlastService) Repace(ctx context.Context, companyID, blastID string, startAt time.Time) (*domain.Blast, error) {
	if s.repaceFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.repaceFn(ctx, companyID, blastID, startAt)
}

type stubJobService struct {
	listFn       func(ctx context.Context, params repository.JobListParams) ([]domain.EmailJob, error)
	cancelFn     func(ctx context.Context, companyID, jobID string) (*domain.EmailJob, error)
	rescheduleFn func(ctx context.Context, companyID, jobID string, at time.Time) (*domain.EmailJob, error)
}

func (s *stubJobService) List(ctx context.Context, params repository.JobListParams) ([]domain.EmailJob, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, params)
}

func (s *stubJobService) Cancel(ctx context.Context, companyID, jobID string) (*domain.EmailJob, error) {
	if s.cancelFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.cancelFn(ctx, companyID, jobID)
}

func (s *stubJobService) Reschedule(ctx context.Context, companyID, jobID string, at time.Time) (*domain.EmailJob, error) {
	if s.rescheduleFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.rescheduleFn(ctx, companyID, jobID, at)
}

func newTestApp(t *testing.T, services Services) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := RegisterRoutes(app, services); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()
	return performRequestWithHeaders(t, app, method, path, body, map[string]string{
		HeaderCompanyID:         testCompany,
		fiber.HeaderContentType: fiber.MIMEApplicationJSON,
	})
}

func performRequestWithHeaders(t *testing.T, app *fiber.App, method string, path string, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
