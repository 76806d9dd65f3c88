// Package realtime fans ticket activity out to websocket viewers grouped
// into per-ticket rooms.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
)

// Inbound events.
const (
	EventJoinTicket   = "join-ticket"
	EventLeaveTicket  = "leave-ticket"
	EventTyping       = "typing"
	EventSendComment  = "send-comment"
	EventUpdateTicket = "update-ticket"
)

// Outbound events.
const (
	EventJoined        = "joined"
	EventUserTyping    = "user-typing"
	EventNewComment    = "new-comment"
	EventTicketUpdated = "ticket-updated"
	EventSLAStatus     = "sla-status"
	EventError         = "error"
)

const roomPrefix = "ticket:"

// RoomFor names the room of a ticket. Every spelling of the same uuid maps
// to one room.
func RoomFor(ticketID string) string {
	return roomPrefix + CanonicalTicketID(ticketID)
}

// CanonicalTicketID lower-cases and hyphenates a uuid ticket id. Anything
// that is not a uuid is returned trimmed; the services reject it.
func CanonicalTicketID(ticketID string) string {
	ticketID = strings.TrimSpace(ticketID)
	if parsed, err := uuid.Parse(ticketID); err == nil {
		return parsed.String()
	}
	return ticketID
}

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an encoded outbound frame. Broadcasts encode once and share the bytes.
type Message []byte

// Encode wraps data into a frame for event.
func Encode(event string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return frame, nil
}

// TicketRef addresses a room.
type TicketRef struct {
	TicketID string `json:"ticketId"`
}

// JoinedPayload confirms room membership.
type JoinedPayload struct {
	TicketID string `json:"ticketId"`
	Members  int    `json:"members"`
}

// TypingRequest is sent while a viewer composes a reply.
type TypingRequest struct {
	TicketID string `json:"ticketId"`
	UserName string `json:"userName"`
}

// UserTypingPayload is relayed to the other viewers of the ticket.
type UserTypingPayload struct {
	TicketID string `json:"ticketId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SendCommentRequest posts to the ticket thread.
type SendCommentRequest struct {
	TicketID string `json:"ticketId"`
	dto.CreateCommentRequest
}

// UpdateTicketRequest edits the ticket.
type UpdateTicketRequest struct {
	ID      string                  `json:"id"`
	Changes dto.UpdateTicketRequest `json:"changes"`
}

// ErrorPayload reports a rejected inbound frame to its sender only.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
