package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zlammie/keepup-mailer/internal/domain"
)

type AutomationService interface {
	CreateRule(ctx context.Context, rule *domain.AutomationRule) (*domain.AutomationRule, error)
	ListRules(ctx context.Context, companyID string) ([]domain.AutomationRule, error)
	SetRuleEnabled(ctx context.Context, companyID, id string, enabled bool) error
	CreateSchedule(ctx context.Context, schedule *domain.FollowUpSchedule) (*domain.FollowUpSchedule, error)
	GetSchedule(ctx context.Context, companyID, id string) (*domain.FollowUpSchedule, error)
}

type automationHandler struct {
	service AutomationService
}

func registerAutomationRoutes(v1 fiber.Router, svc AutomationService) {
	h := &automationHandler{service: svc}

	v1.Post("/automation/rules", h.CreateRule)
	v1.Get("/automation/rules", h.ListRules)
	v1.Post("/automation/rules/:id/enabled", h.SetRuleEnabled)
	v1.Post("/automation/schedules", h.CreateSchedule)
	v1.Get("/automation/schedules/:id", h.GetSchedule)
}

type ruleRequest struct {
	Name            string `json:"name"`
	FromStatus      string `json:"fromStatus"`
	ToStatus        string `json:"toStatus"`
	CommunityID     string `json:"communityId"`
	TemplateID      string `json:"templateId"`
	DelayMinutes    int    `json:"delayMinutes"`
	CooldownMinutes int    `json:"cooldownMinutes"`
	Enabled         *bool  `json:"enabled"`
}

type ruleResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Trigger         string    `json:"trigger"`
	FromStatus      string    `json:"fromStatus"`
	ToStatus        string    `json:"toStatus"`
	CommunityID     string    `json:"communityId,omitempty"`
	TemplateID      string    `json:"templateId"`
	DelayMinutes    int       `json:"delayMinutes"`
	CooldownMinutes int       `json:"cooldownMinutes"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type scheduleRequest struct {
	Name           string                `json:"name"`
	StopOnStatuses []string              `json:"stopOnStatuses"`
	Steps          []domain.ScheduleStep `json:"steps"`
}

type scheduleResponse struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	StopOnStatuses []string              `json:"stopOnStatuses"`
	Steps          []domain.ScheduleStep `json:"steps"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

const ruleTrigger = "contact.status.changed"

func (h *automationHandler) CreateRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	rule := &domain.AutomationRule{
		CompanyID:       companyID(c),
		Name:            strings.TrimSpace(req.Name),
		Enabled:         req.Enabled == nil || *req.Enabled,
		FromStatus:      req.FromStatus,
		ToStatus:        req.ToStatus,
		CommunityID:     strings.TrimSpace(req.CommunityID),
		TemplateID:      strings.TrimSpace(req.TemplateID),
		DelayMinutes:    req.DelayMinutes,
		CooldownMinutes: req.CooldownMinutes,
	}

	created, err := h.service.CreateRule(requestContext(c), rule)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toRuleResponse(created))
}

func (h *automationHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.service.ListRules(requestContext(c), companyID(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		data = append(data, toRuleResponse(&rules[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *automationHandler) SetRuleEnabled(c *fiber.Ctx) error {
	var req enabledRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Enabled == nil {
		return fiber.NewError(fiber.StatusBadRequest, "enabled is required")
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.SetRuleEnabled(requestContext(c), companyID(c), id, *req.Enabled); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ruleId":  id,
		"enabled": *req.Enabled,
	})
}

func (h *automationHandler) CreateSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	created, err := h.service.CreateSchedule(requestContext(c), &domain.FollowUpSchedule{
		CompanyID:      companyID(c),
		Name:           strings.TrimSpace(req.Name),
		StopOnStatuses: req.StopOnStatuses,
		Steps:          req.Steps,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toScheduleResponse(created))
}

func (h *automationHandler) GetSchedule(c *fiber.Ctx) error {
	schedule, err := h.service.GetSchedule(requestContext(c), companyID(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toScheduleResponse(schedule))
}

func toRuleResponse(r *domain.AutomationRule) ruleResponse {
	return ruleResponse{
		ID:              r.ID,
		Name:            r.Name,
		Trigger:         ruleTrigger,
		FromStatus:      r.FromStatus,
		ToStatus:        r.ToStatus,
		CommunityID:     r.CommunityID,
		TemplateID:      r.TemplateID,
		DelayMinutes:    r.DelayMinutes,
		CooldownMinutes: r.CooldownMinutes,
		Enabled:         r.Enabled,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toScheduleResponse(s *domain.FollowUpSchedule) scheduleResponse {
	return scheduleResponse{
		ID:             s.ID,
		Name:           s.Name,
		StopOnStatuses: s.StopOnStatuses,
		Steps:          s.OrderedSteps(),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
