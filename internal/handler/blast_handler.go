package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zlammie/keepup-mailer/internal/audience"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/service"
)

const (
	defaultBlastListLimit = 50
	maxBlastListLimit     = 200
)

type BlastService interface {
	Preview(ctx context.Context, in service.ScheduleBlastInput) (*service.BlastPreview, error)
	ScheduleBlast(ctx context.Context, in service.ScheduleBlastInput) (*domain.Blast, bool, error)
	Get(ctx context.Context, companyID, blastID string) (*service.BlastDetail, error)
	List(ctx context.Context, companyID string, status *domain.BlastStatus, limit int) ([]domain.Blast, error)
	Cancel(ctx context.Context, companyID, blastID string) (*domain.Blast, error)
	Pause(ctx context.Context, companyID, blastID string) (*domain.Blast, error)
	Resume(ctx context.Context, companyID, blastID string) (*domain.Blast, error)
	Repace(ctx context.Context, companyID, blastID string, startAt time.Time) (*domain.Blast, error)
}

type blastHandler struct {
	service BlastService
}

func registerBlastRoutes(v1 fiber.Router, svc BlastService) {
	h := &blastHandler{service: svc}

	v1.Post("/blasts", h.CreateBlast)
	v1.Post("/blasts/preview", h.PreviewBlast)
	v1.Get("/blasts", h.ListBlasts)
	v1.Get("/blasts/:id", h.GetBlast)
	v1.Post("/blasts/:id/cancel", h.CancelBlast)
	v1.Post("/blasts/:id/pause", h.PauseBlast)
	v1.Post("/blasts/:id/resume", h.ResumeBlast)
	v1.Post("/blasts/:id/repace", h.RepaceBlast)
}

type createBlastRequest struct {
	RequestID        string                `json:"requestId"`
	Name             string                `json:"name"`
	TemplateID       string                `json:"templateId"`
	AudienceType     string                `json:"audienceType"`
	Filters          domain.AudienceFilter `json:"filters"`
	ScheduledFor     string                `json:"scheduledFor"`
	WindowEnd        string                `json:"windowEnd"`
	ConfirmationText string                `json:"confirmationText"`
}

type repaceRequest struct {
	StartAt string `json:"startAt"`
}

type blastResponse struct {
	ID            string                `json:"id"`
	RequestID     *string               `json:"requestId,omitempty"`
	Name          string                `json:"name"`
	TemplateID    string                `json:"templateId"`
	AudienceType  string                `json:"audienceType"`
	Filters       domain.AudienceFilter `json:"filters"`
	ScheduledFor  time.Time             `json:"scheduledFor"`
	WindowEnd     *time.Time            `json:"windowEnd,omitempty"`
	Status        string                `json:"status"`
	PacingSummary *domain.PacingSummary `json:"pacingSummary,omitempty"`
	SnapshotCount int                   `json:"snapshotCount"`
	ExcludedCount int                   `json:"excludedCount"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

type previewResponse struct {
	RecipientCount int                   `json:"recipientCount"`
	Excluded       audience.Exclusions   `json:"excluded"`
	Paused         int                   `json:"paused"`
	PacingSummary  *domain.PacingSummary `json:"pacingSummary,omitempty"`
}

type jobCountsResponse struct {
	Total      int64 `json:"total"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Canceled   int64 `json:"canceled"`
	DueNow     int64 `json:"dueNow"`
	Retrying   int64 `json:"retrying"`
}

type blastDetailResponse struct {
	blastResponse
	Counts jobCountsResponse `json:"counts"`
	Recent struct {
		Sent    []jobResponse `json:"sent"`
		Failed  []jobResponse `json:"failed"`
		Skipped []jobResponse `json:"skipped"`
	} `json:"recent"`
}

func (h *blastHandler) parseInput(c *fiber.Ctx) (service.ScheduleBlastInput, error) {
	var req createBlastRequest
	if err := parseBody(c, &req); err != nil {
		return service.ScheduleBlastInput{}, err
	}

	audienceType, err := domain.ParseAudienceTypeFromString(req.AudienceType)
	if err != nil {
		return service.ScheduleBlastInput{}, toHTTPError(err)
	}
	scheduledFor, err := parseRFC3339(req.ScheduledFor, "scheduledFor")
	if err != nil {
		return service.ScheduleBlastInput{}, toHTTPError(err)
	}
	windowEnd, err := parseRFC3339(req.WindowEnd, "windowEnd")
	if err != nil {
		return service.ScheduleBlastInput{}, toHTTPError(err)
	}

	in := service.ScheduleBlastInput{
		CompanyID:        companyID(c),
		RequestID:        strings.TrimSpace(req.RequestID),
		Name:             strings.TrimSpace(req.Name),
		TemplateID:       strings.TrimSpace(req.TemplateID),
		AudienceType:     audienceType,
		Filters:          req.Filters,
		WindowEnd:        windowEnd,
		ConfirmationText: req.ConfirmationText,
	}
	if scheduledFor != nil {
		in.ScheduledFor = *scheduledFor
	}
	return in, nil
}

func (h *blastHandler) CreateBlast(c *fiber.Ctx) error {
	in, err := h.parseInput(c)
	if err != nil {
		return err
	}

	blast, created, err := h.service.ScheduleBlast(requestContext(c), in)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusCreated
	if !created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(toBlastResponse(blast))
}

func (h *blastHandler) PreviewBlast(c *fiber.Ctx) error {
	in, err := h.parseInput(c)
	if err != nil {
		return err
	}

	preview, err := h.service.Preview(requestContext(c), in)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(previewResponse{
		RecipientCount: preview.RecipientCount,
		Excluded:       preview.Excluded,
		Paused:         preview.Paused,
		PacingSummary:  preview.PacingSummary,
	})
}

func (h *blastHandler) ListBlasts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultBlastListLimit)
	if limit < 1 || limit > maxBlastListLimit {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 200")
	}

	var status *domain.BlastStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed, err := domain.ParseBlastStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		status = &parsed
	}

	blasts, err := h.service.List(requestContext(c), companyID(c), status, limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]blastResponse, 0, len(blasts))
	for i := range blasts {
		data = append(data, toBlastResponse(&blasts[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *blastHandler) GetBlast(c *fiber.Ctx) error {
	detail, err := h.service.Get(requestContext(c), companyID(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	resp := blastDetailResponse{
		blastResponse: toBlastResponse(detail.Blast),
		Counts: jobCountsResponse{
			Total:      detail.Counts.TotalJobs,
			Queued:     detail.Counts.Queued,
			Processing: detail.Counts.Processing,
			Sent:       detail.Counts.Sent,
			Failed:     detail.Counts.Failed,
			Skipped:    detail.Counts.Skipped,
			Canceled:   detail.Counts.Canceled,
			DueNow:     detail.Counts.DueNow,
			Retrying:   detail.Counts.Retrying,
		},
	}
	resp.Recent.Sent = toJobResponses(detail.Recent.Sent)
	resp.Recent.Failed = toJobResponses(detail.Recent.Failed)
	resp.Recent.Skipped = toJobResponses(detail.Recent.Skipped)

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *blastHandler) CancelBlast(c *fiber.Ctx) error {
	return h.lifecycle(c, h.service.Cancel)
}

func (h *blastHandler) PauseBlast(c *fiber.Ctx) error {
	return h.lifecycle(c, h.service.Pause)
}

func (h *blastHandler) ResumeBlast(c *fiber.Ctx) error {
	return h.lifecycle(c, h.service.Resume)
}

func (h *blastHandler) lifecycle(c *fiber.Ctx, action func(context.Context, string, string) (*domain.Blast, error)) error {
	blast, err := action(requestContext(c), companyID(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBlastResponse(blast))
}

func (h *blastHandler) RepaceBlast(c *fiber.Ctx) error {
	var req repaceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	startAt, err := parseRFC3339(req.StartAt, "startAt")
	if err != nil {
		return toHTTPError(err)
	}
	if startAt == nil {
		return fiber.NewError(fiber.StatusBadRequest, "startAt is required")
	}

	blast, err := h.service.Repace(requestContext(c), companyID(c), strings.TrimSpace(c.Params("id")), *startAt)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBlastResponse(blast))
}

func toBlastResponse(b *domain.Blast) blastResponse {
	if b == nil {
		return blastResponse{}
	}
	return blastResponse{
		ID:            b.ID,
		RequestID:     b.RequestID,
		Name:          b.Name,
		TemplateID:    b.TemplateID,
		AudienceType:  string(b.AudienceType),
		Filters:       b.Filters,
		ScheduledFor:  b.ScheduledFor,
		WindowEnd:     b.WindowEnd,
		Status:        b.Status.String(),
		PacingSummary: b.PacingSummary,
		SnapshotCount: b.SnapshotCount,
		ExcludedCount: b.ExcludedCount,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}
