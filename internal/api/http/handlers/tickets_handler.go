package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/service"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util/errorutil"
)

// TicketsHandler serves ticket, audit and comment endpoints.
type TicketsHandler struct {
	tickets  *service.TicketService
	comments *service.CommentService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, comments *service.CommentService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, comments: comments}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		DepartmentID: req.DepartmentID,
		CategoryID:   req.CategoryID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.Ticket(*ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	page, err := h.tickets.ListTickets(c.UserContext(), actor, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketListResponse{
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		Items:    dto.Tickets(page.Items),
	}})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	view, err := h.tickets.GetTicket(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketDetailResponse{
		TicketResponse: dto.Ticket(view.Ticket),
		SLA:            view.SLA,
	}})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	update, err := h.tickets.UpdateTicket(c.UserContext(), actor, c.Params("id"), req.Patch())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketUpdated(update.Ticket, update.Audit)})
}

// ListAudit GET /tickets/:id/audit.
func (h *TicketsHandler) ListAudit(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	entries, err := h.tickets.ListAudit(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AuditEntries(entries)})
}

// ListComments GET /tickets/:id/comments.
func (h *TicketsHandler) ListComments(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	comments, err := h.comments.ListComments(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Comments(comments)})
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	var req dto.CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	comment, err := h.comments.AddComment(c.UserContext(), actor, c.Params("id"), service.CommentInput{
		Body:     req.Body,
		Internal: req.Internal,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.Comment(*comment)})
}

func identity(c *fiber.Ctx) (domain.Identity, error) {
	actor, ok := auth.IdentityFromContext(c)
	if !ok {
		return domain.Identity{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{
		AssigneeID:   optionalString(c.Query("assigneeId")),
		DepartmentID: optionalString(c.Query("departmentId")),
		CategoryID:   optionalString(c.Query("categoryId")),
		SearchTerm:   optionalString(c.Query("q")),
	}
	for _, part := range splitList(c.Query("status")) {
		status := domain.TicketStatus(strings.ToUpper(part))
		if !status.Valid() {
			return filter, apperrors.NewValidationError("unknown status", map[string]any{"status": part})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, part := range splitList(c.Query("priority")) {
		priority := domain.TicketPriority(strings.ToUpper(part))
		if !priority.Valid() {
			return filter, apperrors.NewValidationError("unknown priority", map[string]any{"priority": part})
		}
		filter.Priorities = append(filter.Priorities, priority)
	}
	if raw := c.Query("violated"); raw != "" {
		violated, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.NewValidationError("violated must be a boolean", nil)
		}
		filter.Violated = &violated
	}

	page, err := queryInt(c, "page")
	if err != nil {
		return filter, err
	}
	pageSize, err := queryInt(c, "pageSize")
	if err != nil {
		return filter, err
	}
	if page != nil {
		filter.Page = *page
	}
	if pageSize != nil {
		filter.PageSize = *pageSize
	}
	return filter, nil
}

// queryInt parses an optional integer query parameter. Malformed values are
// rejected rather than silently defaulted.
func queryInt(c *fiber.Ctx, key string) (*int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid "+key, map[string]any{key: "must be an integer"})
	}
	return &n, nil
}

func optionalString(val string) *string {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}
	return &val
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
