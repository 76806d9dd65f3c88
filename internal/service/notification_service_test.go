package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
)

type recordingMailer struct {
	sent []Notification
}

func (m *recordingMailer) Send(_ context.Context, n Notification) error {
	m.sent = append(m.sent, n)
	return nil
}

func strPtr(s string) *string { return &s }

func TestNotificationService_Routing(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	mailer := &recordingMailer{}
	NewNotificationService(dispatcher, mailer, nil).RegisterHandlers()
	ctx := context.Background()
	now := time.Now()
	ticket := domain.Ticket{ID: "t-1", Title: "VPN", RequesterID: "user-1", Priority: domain.TicketPriorityMajor}

	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketUpdated, "t-1", agent, now,
		events.TicketUpdatedPayload{Ticket: ticket, Audit: []domain.AuditEntry{
			{Field: "priority", OldValue: strPtr("MINOR"), NewValue: strPtr("MAJOR")},
		}})))
	assert.Empty(t, mailer.sent, "only status changes notify the requester")

	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketUpdated, "t-1", agent, now,
		events.TicketUpdatedPayload{Ticket: ticket, Audit: []domain.AuditEntry{
			{Field: "status", OldValue: strPtr("OPEN"), NewValue: strPtr("RESOLVED")},
		}})))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "user-1", mailer.sent[0].Recipient)
	assert.Contains(t, mailer.sent[0].Subject, "RESOLVED")

	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventCommentAdded, "t-1", agent, now,
		events.CommentAddedPayload{Comment: domain.Comment{Body: "note", Internal: true, AuthorRole: domain.RoleAgent}, RequesterID: "user-1"})))
	assert.Len(t, mailer.sent, 1, "internal notes are not mailed")

	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventSLABreached, "t-1", agent, now,
		events.SLABreachedPayload{Ticket: ticket})))
	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "escalations", mailer.sent[1].Recipient)
}
