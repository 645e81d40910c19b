package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
)

const (
	defaultJobListLimit = 100
	maxJobListLimit     = 500
)

type JobService interface {
	List(ctx context.Context, params repository.JobListParams) ([]domain.EmailJob, error)
	Cancel(ctx context.Context, companyID, jobID string) (*domain.EmailJob, error)
	Reschedule(ctx context.Context, companyID, jobID string, scheduledFor time.Time) (*domain.EmailJob, error)
}

type jobHandler struct {
	service JobService
}

func registerJobRoutes(v1 fiber.Router, svc JobService) {
	h := &jobHandler{service: svc}

	v1.Get("/jobs", h.ListJobs)
	v1.Post("/jobs/:id/cancel", h.CancelJob)
	v1.Post("/jobs/:id/reschedule", h.RescheduleJob)
}

type rescheduleRequest struct {
	ScheduledFor string `json:"scheduledFor"`
}

type jobResponse struct {
	ID                string     `json:"id"`
	BlastID           *string    `json:"blastId,omitempty"`
	RuleID            *string    `json:"ruleId,omitempty"`
	ScheduleID        *string    `json:"scheduleId,omitempty"`
	ScheduleStepID    *string    `json:"scheduleStepId,omitempty"`
	RecipientID       string     `json:"recipientId"`
	RecipientKind     string     `json:"recipientKind"`
	To                string     `json:"to"`
	TemplateID        string     `json:"templateId"`
	Reason            string     `json:"reason"`
	ScheduledFor      time.Time  `json:"scheduledFor"`
	Status            string     `json:"status"`
	Attempts          int        `json:"attempts"`
	MaxAttempts       int        `json:"maxAttempts"`
	LastError         string     `json:"lastError,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func (h *jobHandler) ListJobs(c *fiber.Ctx) error {
	params := repository.JobListParams{
		CompanyID: companyID(c),
		Bucket:    repository.JobBucket(strings.ToLower(strings.TrimSpace(c.Query("bucket")))),
		Limit:     c.QueryInt("limit", defaultJobListLimit),
	}
	if params.Limit < 1 || params.Limit > maxJobListLimit {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500")
	}

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := domain.ParseJobStatusFromString(part)
			if err != nil {
				return toHTTPError(err)
			}
			params.Statuses = append(params.Statuses, status)
		}
	}
	if blastID := strings.TrimSpace(c.Query("blastId")); blastID != "" {
		params.BlastID = &blastID
	}

	jobs, err := h.service.List(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": toJobResponses(jobs)})
}

func (h *jobHandler) CancelJob(c *fiber.Ctx) error {
	job, err := h.service.Cancel(requestContext(c), companyID(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *jobHandler) RescheduleJob(c *fiber.Ctx) error {
	var req rescheduleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	scheduledFor, err := parseRFC3339(req.ScheduledFor, "scheduledFor")
	if err != nil {
		return toHTTPError(err)
	}
	if scheduledFor == nil {
		return fiber.NewError(fiber.StatusBadRequest, "scheduledFor is required")
	}

	job, err := h.service.Reschedule(requestContext(c), companyID(c), strings.TrimSpace(c.Params("id")), *scheduledFor)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func toJobResponses(jobs []domain.EmailJob) []jobResponse {
	responses := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		responses = append(responses, toJobResponse(&jobs[i]))
	}
	return responses
}

func toJobResponse(j *domain.EmailJob) jobResponse {
	if j == nil {
		return jobResponse{}
	}
	return jobResponse{
		ID:                j.ID,
		BlastID:           j.BlastID,
		RuleID:            j.RuleID,
		ScheduleID:        j.ScheduleID,
		ScheduleStepID:    j.ScheduleStepID,
		RecipientID:       j.RecipientID,
		RecipientKind:     j.RecipientKind.String(),
		To:                j.To,
		TemplateID:        j.TemplateID,
		Reason:            j.Reason(),
		ScheduledFor:      j.ScheduledFor,
		Status:            j.Status.String(),
		Attempts:          j.Attempts,
		MaxAttempts:       j.MaxAttempts,
		LastError:         j.LastError.String(),
		ProviderMessageID: j.ProviderMessageID,
		SentAt:            j.SentAt,
		UpdatedAt:         j.UpdatedAt,
	}
}
