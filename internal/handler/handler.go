package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/observability"
)

// HeaderCompanyID scopes every /v1 request to one company.
const HeaderCompanyID = "X-Company-ID"

// Services groups the operator-facing services behind the /v1 routes.
type Services struct {
	Blasts     BlastService
	Jobs       JobService
	Pauses     PauseService
	Statuses   StatusService
	Enrollment EnrollmentService
	Recipients RecipientService
	Automation AutomationService
	Settings   SettingsService
}

func (s Services) validate() error {
	switch {
	case s.Blasts == nil:
		return fmt.Errorf("blast service is required")
	case s.Jobs == nil:
		return fmt.Errorf("job service is required")
	case s.Pauses == nil:
		return fmt.Errorf("pause service is required")
	case s.Statuses == nil:
		return fmt.Errorf("status service is required")
	case s.Enrollment == nil:
		return fmt.Errorf("enrollment service is required")
	case s.Recipients == nil:
		return fmt.Errorf("recipient service is required")
	case s.Automation == nil:
		return fmt.Errorf("automation service is required")
	case s.Settings == nil:
		return fmt.Errorf("settings service is required")
	}
	return nil
}

// RegisterRoutes mounts the /v1 API.
func RegisterRoutes(router fiber.Router, services Services) error {
	if err := services.validate(); err != nil {
		return err
	}

	v1 := router.Group("/v1", requireCompany)
	registerBlastRoutes(v1, services.Blasts)
	registerJobRoutes(v1, services.Jobs)
	registerRecipientRoutes(v1, services)
	registerAutomationRoutes(v1, services.Automation)
	registerSettingsRoutes(v1, services.Settings)
	return nil
}

func requireCompany(c *fiber.Ctx) error {
	if strings.TrimSpace(c.Get(HeaderCompanyID)) == "" {
		return fiber.NewError(fiber.StatusBadRequest, HeaderCompanyID+" header is required")
	}
	return c.Next()
}

func companyID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderCompanyID))
}

// requestContext carries the request's correlation id into service calls.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := context.Context(c.Context())
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func parseRFC3339(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	t = t.UTC()
	return &t, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
