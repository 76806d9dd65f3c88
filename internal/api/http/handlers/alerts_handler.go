package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/service"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util/errorutil"
)

// AlertsHandler serves the monitoring alert endpoints.
type AlertsHandler struct {
	alerts *service.AlertService
}

// NewAlertsHandler constructs handler.
func NewAlertsHandler(alerts *service.AlertService) *AlertsHandler {
	return &AlertsHandler{alerts: alerts}
}

// Current GET /alerts/current?page=&pageSize= or ?take=.
func (h *AlertsHandler) Current(c *fiber.Ctx) error {
	var (
		q   service.PageQuery
		err error
	)
	if q.Page, err = queryInt(c, "page"); err != nil {
		return err
	}
	if q.PageSize, err = queryInt(c, "pageSize"); err != nil {
		return err
	}
	if q.Take, err = queryInt(c, "take"); err != nil {
		return err
	}

	page, err := h.alerts.ListCurrent(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AlertListResponse{
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		Items:    dto.Alerts(page.Items),
	}})
}

// Acknowledge POST /alerts/acknowledge.
func (h *AlertsHandler) Acknowledge(c *fiber.Ctx) error {
	var req dto.AcknowledgeAlertsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.alerts.Acknowledge(c.UserContext(), req.EventIDs, req.User)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AcknowledgeAlertsResponse{Acknowledged: res.Acknowledged}})
}

// Sync POST /alerts/sync.
func (h *AlertsHandler) Sync(c *fiber.Ctx) error {
	var req dto.SyncAlertsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.alerts.Sync(c.UserContext(), req.Alerts())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SyncAlertsResponse{Upserted: res.Upserted, Resolved: res.Resolved}})
}
