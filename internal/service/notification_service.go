package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
)

// Notification is an outbound message about a ticket.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
	TicketID  string
	EventType events.EventType
}

// Mailer delivers notifications. Delivery itself lives outside this service.
type Mailer interface {
	Send(ctx context.Context, n Notification) error
}

// LogMailer records notifications instead of delivering them.
type LogMailer struct {
	Logger *zap.Logger
}

// Send logs n.
func (m LogMailer) Send(_ context.Context, n Notification) error {
	m.Logger.Info("notification",
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
		zap.String("ticket_id", n.TicketID),
		zap.String("event_type", string(n.EventType)))
	return nil
}

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	mailer     Mailer
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, mailer Mailer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}
	return &NotificationService{
		dispatcher: dispatcher,
		mailer:     mailer,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketUpdated, n.handleTicketUpdated)
	n.dispatcher.Subscribe(events.EventCommentAdded, n.handleCommentAdded)
	n.dispatcher.Subscribe(events.EventSLABreached, n.handleSLABreached)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return nil
	}
	return n.mailer.Send(ctx, Notification{
		Recipient: payload.Ticket.RequesterID,
		Subject:   fmt.Sprintf("Ticket received: %s", payload.Ticket.Title),
		Body:      fmt.Sprintf("Your ticket was filed with priority %s.", payload.Ticket.Priority),
		TicketID:  event.TicketID,
		EventType: event.Type,
	})
}

// handleTicketUpdated notifies the requester about status changes only.
func (n *NotificationService) handleTicketUpdated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketUpdatedPayload)
	if !ok {
		return nil
	}
	for _, entry := range payload.Audit {
		if entry.Field != "status" || entry.NewValue == nil {
			continue
		}
		return n.mailer.Send(ctx, Notification{
			Recipient: payload.Ticket.RequesterID,
			Subject:   fmt.Sprintf("Ticket %s is now %s", payload.Ticket.Title, *entry.NewValue),
			TicketID:  event.TicketID,
			EventType: event.Type,
		})
	}
	return nil
}

func (n *NotificationService) handleCommentAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CommentAddedPayload)
	if !ok || payload.Comment.Internal || !payload.Comment.AuthorRole.Staff() {
		return nil
	}
	return n.mailer.Send(ctx, Notification{
		Recipient: payload.RequesterID,
		Subject:   fmt.Sprintf("New reply from %s", payload.Comment.AuthorName),
		Body:      stringPreview(payload.Comment.Body, 200),
		TicketID:  event.TicketID,
		EventType: event.Type,
	})
}

func (n *NotificationService) handleSLABreached(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SLABreachedPayload)
	if !ok {
		return nil
	}
	recipient := "escalations"
	if payload.Ticket.AssigneeID != nil {
		recipient = *payload.Ticket.AssigneeID
	}
	return n.mailer.Send(ctx, Notification{
		Recipient: recipient,
		Subject:   fmt.Sprintf("SLA breached on %s ticket: %s", priorityLabel(payload.Ticket.Priority), payload.Ticket.Title),
		TicketID:  event.TicketID,
		EventType: event.Type,
	})
}

func priorityLabel(p domain.TicketPriority) string {
	if p == "" {
		return "unprioritized"
	}
	return string(p)
}

func stringPreview(body string, max int) string {
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}
