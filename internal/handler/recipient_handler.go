package handler

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/service"
)

type PauseService interface {
	SetPaused(ctx context.Context, companyID string, kind domain.RecipientKind, id string, paused bool) (*domain.Recipient, error)
	Activity(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (*service.RecipientActivity, error)
}

type StatusService interface {
	ChangeStatus(ctx context.Context, companyID string, kind domain.RecipientKind, id, status, previous string) (*service.StatusChangeResult, error)
}

type EnrollmentService interface {
	EnrollSchedule(ctx context.Context, companyID string, kind domain.RecipientKind, id, scheduleID string) ([]*domain.EmailJob, error)
	Unenroll(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (int64, error)
}

type RecipientService interface {
	Import(ctx context.Context, companyID string, kind domain.RecipientKind, r io.Reader) (int, error)
	Suppress(ctx context.Context, companyID, email string, reason domain.SuppressionReason) (*domain.Suppression, error)
	Unsuppress(ctx context.Context, companyID, email string) error
}

type recipientHandler struct {
	pauses     PauseService
	statuses   StatusService
	enrollment EnrollmentService
	recipients RecipientService
}

func registerRecipientRoutes(v1 fiber.Router, services Services) {
	h := &recipientHandler{
		pauses:     services.Pauses,
		statuses:   services.Statuses,
		enrollment: services.Enrollment,
		recipients: services.Recipients,
	}

	for _, kind := range []domain.RecipientKind{domain.RecipientContact, domain.RecipientRealtor} {
		group := v1.Group("/"+kind.String()+"s", withKind(kind))
		group.Get("/:id/activity", h.Activity)
		group.Post("/:id/pause", h.Pause)
		group.Post("/:id/unpause", h.Unpause)
		group.Post("/:id/status", h.ChangeStatus)
		group.Post("/:id/schedule", h.EnrollSchedule)
		group.Delete("/:id/schedule", h.UnenrollSchedule)
	}

	v1.Post("/recipients/import", h.Import)
	v1.Post("/suppressions", h.Suppress)
	v1.Delete("/suppressions", h.Unsuppress)
}

const kindLocal = "recipientKind"

func withKind(kind domain.RecipientKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(kindLocal, kind)
		return c.Next()
	}
}

func recipientKind(c *fiber.Ctx) domain.RecipientKind {
	kind, _ := c.Locals(kindLocal).(domain.RecipientKind)
	return kind
}

type statusRequest struct {
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
}

type enrollRequest struct {
	ScheduleID string `json:"scheduleId"`
}

type suppressionRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type activityResponse struct {
	RecipientID   string        `json:"recipientId"`
	RecipientKind string        `json:"recipientKind"`
	Paused        bool          `json:"paused"`
	PausedAt      *time.Time    `json:"pausedAt,omitempty"`
	Upcoming      []jobResponse `json:"upcoming"`
	Recent        []jobResponse `json:"recent"`
}

type pauseResponse struct {
	RecipientID   string     `json:"recipientId"`
	RecipientKind string     `json:"recipientKind"`
	Paused        bool       `json:"paused"`
	PausedAt      *time.Time `json:"pausedAt,omitempty"`
}

func (h *recipientHandler) Activity(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	kind := recipientKind(c)

	activity, err := h.pauses.Activity(requestContext(c), companyID(c), kind, id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(activityResponse{
		RecipientID:   id,
		RecipientKind: kind.String(),
		Paused:        activity.Paused,
		PausedAt:      activity.PausedAt,
		Upcoming:      toJobResponses(activity.Upcoming),
		Recent:        toJobResponses(activity.Recent),
	})
}

func (h *recipientHandler) Pause(c *fiber.Ctx) error {
	return h.setPaused(c, true)
}

func (h *recipientHandler) Unpause(c *fiber.Ctx) error {
	return h.setPaused(c, false)
}

func (h *recipientHandler) setPaused(c *fiber.Ctx, paused bool) error {
	recipient, err := h.pauses.SetPaused(requestContext(c), companyID(c), recipientKind(c), strings.TrimSpace(c.Params("id")), paused)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(pauseResponse{
		RecipientID:   recipient.ID,
		RecipientKind: recipient.Kind.String(),
		Paused:        recipient.Paused,
		PausedAt:      recipient.PausedAt,
	})
}

func (h *recipientHandler) ChangeStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	result, err := h.statuses.ChangeStatus(requestContext(c), companyID(c), recipientKind(c), id, strings.TrimSpace(req.Status), strings.TrimSpace(req.PreviousStatus))
	if err != nil {
		return toHTTPError(err)
	}

	enrolled := make([]string, 0, len(result.Enrolled))
	for _, job := range result.Enrolled {
		enrolled = append(enrolled, job.ID)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"recipientId":    id,
		"previousStatus": result.PreviousStatus,
		"status":         strings.TrimSpace(req.Status),
		"jobsCanceled":   result.Canceled,
		"jobsEnrolled":   enrolled,
	})
}

func (h *recipientHandler) EnrollSchedule(c *fiber.Ctx) error {
	var req enrollRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.ScheduleID) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "scheduleId is required")
	}

	jobs, err := h.enrollment.EnrollSchedule(requestContext(c), companyID(c), recipientKind(c), strings.TrimSpace(c.Params("id")), strings.TrimSpace(req.ScheduleID))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		data = append(data, toJobResponse(job))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *recipientHandler) UnenrollSchedule(c *fiber.Ctx) error {
	n, err := h.enrollment.Unenroll(requestContext(c), companyID(c), recipientKind(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"jobsCanceled": n})
}

func (h *recipientHandler) Import(c *fiber.Ctx) error {
	kind, err := domain.ParseRecipientKindFromString(c.Query("kind", domain.RecipientContact.String()))
	if err != nil {
		return toHTTPError(err)
	}

	body := c.Body()
	if fileHeader, ferr := c.FormFile("file"); ferr == nil {
		f, err := fileHeader.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "unreadable upload")
		}
		defer f.Close()

		n, err := h.recipients.Import(requestContext(c), companyID(c), kind, f)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"imported": n})
	}

	n, err := h.recipients.Import(requestContext(c), companyID(c), kind, bytes.NewReader(body))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"imported": n})
}

func (h *recipientHandler) Suppress(c *fiber.Ctx) error {
	var req suppressionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	var reason domain.SuppressionReason
	if strings.TrimSpace(req.Reason) != "" {
		parsed, err := domain.ParseSuppressionReasonFromString(req.Reason)
		if err != nil {
			return toHTTPError(err)
		}
		reason = parsed
	}

	sup, err := h.recipients.Suppress(requestContext(c), companyID(c), req.Email, reason)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"email":     sup.Email,
		"reason":    string(sup.Reason),
		"createdAt": sup.CreatedAt,
	})
}

func (h *recipientHandler) Unsuppress(c *fiber.Ctx) error {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		var req suppressionRequest
		if len(c.Body()) > 0 {
			if err := parseBody(c, &req); err != nil {
				return err
			}
		}
		email = strings.TrimSpace(req.Email)
	}

	if err := h.recipients.Unsuppress(requestContext(c), companyID(c), email); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
