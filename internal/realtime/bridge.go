package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/events"
)

// Bridge relays domain events to the rooms of the affected tickets.
// Delivery is best effort: failures are counted and logged, never returned.
type Bridge struct {
	hub      *Hub
	recorder BroadcastRecorder
	logger   *zap.Logger
}

// NewBridge constructs a bridge.
func NewBridge(hub *Hub, recorder BroadcastRecorder, logger *zap.Logger) *Bridge {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{hub: hub, recorder: recorder, logger: logger}
}

// Register subscribes the bridge to the dispatcher.
func (b *Bridge) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventCommentAdded, b.onCommentAdded)
	dispatcher.Subscribe(events.EventTicketUpdated, b.onTicketUpdated)
	dispatcher.Subscribe(events.EventSLABreached, b.onSLABreached)
}

func (b *Bridge) onCommentAdded(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CommentAddedPayload)
	if !ok {
		return nil
	}
	msg, err := Encode(EventNewComment, dto.Comment(payload.Comment))
	if err != nil {
		return err
	}
	room := RoomFor(event.TicketID)
	var res BroadcastResult
	if payload.Comment.Internal {
		res = b.hub.BroadcastWhere(room, msg, func(c Conn) bool { return c.Identity().Role.Staff() })
	} else {
		res = b.hub.Broadcast(room, msg, "")
	}
	b.record(EventNewComment, res)
	return nil
}

func (b *Bridge) onTicketUpdated(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketUpdatedPayload)
	if !ok {
		return nil
	}
	return b.pushTicket(event.TicketID, dto.TicketUpdated(payload.Ticket, payload.Audit))
}

func (b *Bridge) onSLABreached(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SLABreachedPayload)
	if !ok {
		return nil
	}
	return b.pushTicket(event.TicketID, dto.TicketUpdated(payload.Ticket, nil))
}

func (b *Bridge) pushTicket(ticketID string, payload dto.TicketUpdatedResponse) error {
	msg, err := Encode(EventTicketUpdated, payload)
	if err != nil {
		return err
	}
	b.record(EventTicketUpdated, b.hub.Broadcast(RoomFor(ticketID), msg, ""))
	return nil
}

func (b *Bridge) record(event string, res BroadcastResult) {
	b.recorder.RecordBroadcast(event, res.Delivered, res.Dropped)
	if res.Delivered > 0 || res.Dropped > 0 {
		b.logger.Debug("realtime broadcast",
			zap.String("event", event),
			zap.String("room", res.Room),
			zap.Int("delivered", res.Delivered),
			zap.Int("dropped", res.Dropped))
	}
}
