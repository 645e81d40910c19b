package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/zlammie/keepup-mailer/internal/domain"
)

type SettingsService interface {
	Get(ctx context.Context, companyID string) (domain.SendWindowSettings, error)
	Update(ctx context.Context, settings domain.SendWindowSettings) (domain.SendWindowSettings, error)
	PauseSending(ctx context.Context, companyID, reason, by string) (domain.SendWindowSettings, bool, error)
	ResumeSending(ctx context.Context, companyID string) (domain.SendWindowSettings, bool, error)
}

type sendingPauseRequest struct {
	Reason string `json:"reason"`
}

func registerSettingsRoutes(v1 fiber.Router, svc SettingsService) {
	v1.Get("/settings", func(c *fiber.Ctx) error {
		settings, err := svc.Get(requestContext(c), companyID(c))
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusOK).JSON(settings)
	})

	// PUT overlays the body on the stored settings; omitted fields keep their value.
	v1.Put("/settings", func(c *fiber.Ctx) error {
		settings, err := svc.Get(requestContext(c), companyID(c))
		if err != nil {
			return toHTTPError(err)
		}
		if err := parseBody(c, &settings); err != nil {
			return err
		}
		// the header wins over any companyId in the body
		settings.CompanyID = companyID(c)

		updated, err := svc.Update(requestContext(c), settings)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusOK).JSON(updated)
	})

	v1.Post("/settings/sending/pause", func(c *fiber.Ctx) error {
		var req sendingPauseRequest
		if len(c.Body()) > 0 {
			if err := parseBody(c, &req); err != nil {
				return err
			}
		}

		settings, _, err := svc.PauseSending(requestContext(c), companyID(c), strings.TrimSpace(req.Reason), domain.PausedByOperator)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusOK).JSON(settings)
	})

	v1.Post("/settings/sending/resume", func(c *fiber.Ctx) error {
		settings, _, err := svc.ResumeSending(requestContext(c), companyID(c))
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusOK).JSON(settings)
	})
}
