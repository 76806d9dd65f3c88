package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/service"
	"github.com/spec-kit/ticket-sync/internal/worker"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util/errorutil"
)

var (
	// ErrClosed is returned when sending to a closed connection.
	ErrClosed = errors.New("realtime: connection closed")
	// ErrSlowConsumer is returned when a connection's send queue is full.
	ErrSlowConsumer = errors.New("realtime: send queue full")
)

const handlerTimeout = 10 * time.Second

// Client is a websocket viewer. Outbound frames pass through a bounded queue
// drained by a single writer, so per-connection order is preserved.
type Client struct {
	id       string
	identity domain.Identity
	conn     *websocket.Conn
	server   *Server
	send     chan Message
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger

	mu         sync.Mutex
	countdowns map[string]*worker.Task
	closeOnce  sync.Once
}

func newClient(ctx context.Context, s *Server, conn *websocket.Conn, identity domain.Identity) *Client {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	return &Client{
		id:         id,
		identity:   identity,
		conn:       conn,
		server:     s,
		send:       make(chan Message, s.cfg.SendBuffer),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		logger:     s.logger.With(zap.String("conn_id", id), zap.String("user_id", identity.ID)),
		countdowns: make(map[string]*worker.Task),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Identity returns the authenticated viewer.
func (c *Client) Identity() domain.Identity { return c.identity }

// Send queues msg for the writer.
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close tears the connection down. The writer sends the close frame and
// releases the socket. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.mu.Lock()
		for room, task := range c.countdowns {
			task.Stop()
			delete(c.countdowns, room)
		}
		c.mu.Unlock()
	})
}

func (c *Client) drop() {
	c.server.hub.Disconnect(c)
	c.Close()
}

func (c *Client) readPump() {
	defer c.drop()

	cfg := c.server.cfg
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.replyError("", apperrors.NewValidationError("malformed frame", nil))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) writePump() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.drop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(env Envelope) {
	ctx, cancel := context.WithTimeout(c.ctx, handlerTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case EventJoinTicket:
		err = c.handleJoin(ctx, env.Data)
	case EventLeaveTicket:
		err = c.handleLeave(env.Data)
	case EventTyping:
		err = c.handleTyping(env.Data)
	case EventSendComment:
		err = c.handleSendComment(ctx, env.Data)
	case EventUpdateTicket:
		err = c.handleUpdateTicket(ctx, env.Data)
	default:
		err = apperrors.NewValidationError("unknown event", map[string]any{"event": env.Event})
	}
	if err != nil {
		c.replyError(env.Event, err)
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) error {
	var req TicketRef
	if err := decode(data, &req); err != nil {
		return err
	}
	ticketID := CanonicalTicketID(req.TicketID)
	if _, err := c.server.tickets.GetTicket(ctx, c.identity, ticketID); err != nil {
		return err
	}

	room := RoomFor(ticketID)
	c.server.hub.Join(room, c)
	c.startCountdown(ticketID)
	return c.reply(EventJoined, JoinedPayload{TicketID: ticketID, Members: c.server.hub.Members(room)})
}

func (c *Client) handleLeave(data json.RawMessage) error {
	var req TicketRef
	if err := decode(data, &req); err != nil {
		return err
	}
	ticketID := CanonicalTicketID(req.TicketID)
	c.server.hub.Leave(RoomFor(ticketID), c)
	c.stopCountdown(ticketID)
	return nil
}

func (c *Client) handleTyping(data json.RawMessage) error {
	var req TypingRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	ticketID := CanonicalTicketID(req.TicketID)
	room := RoomFor(ticketID)
	if !c.server.hub.InRoom(room, c) {
		return apperrors.NewForbidden("join the ticket first")
	}
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = c.identity.Name
	}
	msg, err := Encode(EventUserTyping, UserTypingPayload{TicketID: ticketID, UserID: c.identity.ID, UserName: name})
	if err != nil {
		return err
	}
	res := c.server.hub.Broadcast(room, msg, c.id)
	c.server.recorder.RecordBroadcast(EventUserTyping, res.Delivered, res.Dropped)
	return nil
}

// Comments and edits go through the services; the resulting events reach the
// room through the bridge, so REST and websocket writers fan out the same way.
func (c *Client) handleSendComment(ctx context.Context, data json.RawMessage) error {
	var req SendCommentRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, err := c.server.comments.AddComment(ctx, c.identity, req.TicketID, service.CommentInput{
		Body:     req.Body,
		Internal: req.Internal,
	})
	return err
}

func (c *Client) handleUpdateTicket(ctx context.Context, data json.RawMessage) error {
	var req UpdateTicketRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, err := c.server.tickets.UpdateTicket(ctx, c.identity, req.ID, req.Changes.Patch())
	return err
}

func (c *Client) startCountdown(ticketID string) {
	every := c.server.cfg.CountdownEvery
	if every <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.countdowns[ticketID]; running {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	c.countdowns[ticketID] = worker.Repeat(c.ctx, every, func(ctx context.Context) {
		c.pushSLAStatus(ctx, ticketID)
	})
}

func (c *Client) stopCountdown(ticketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task, ok := c.countdowns[ticketID]; ok {
		task.Stop()
		delete(c.countdowns, ticketID)
	}
}

func (c *Client) pushSLAStatus(ctx context.Context, ticketID string) {
	status, err := c.server.tickets.SLAStatus(ctx, ticketID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug("sla status unavailable", zap.String("ticket_id", ticketID), zap.Error(err))
		}
		return
	}
	msg, err := Encode(EventSLAStatus, status)
	if err != nil {
		c.logger.Warn("encode sla status", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := c.Send(msg); err != nil {
		c.drop()
	}
}

func (c *Client) reply(event string, data any) error {
	msg, err := Encode(event, data)
	if err != nil {
		return err
	}
	if err := c.Send(msg); err != nil {
		c.drop()
	}
	return nil
}

func (c *Client) replyError(event string, err error) {
	domainErr := apperrors.ToDomainError(err)
	if domainErr.HTTPStatus >= 500 {
		c.logger.Error("realtime handler failed", zap.String("event", event), zap.Error(err))
	}
	_ = c.reply(EventError, ErrorPayload{Event: event, Code: domainErr.Code, Message: domainErr.Message})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperrors.NewValidationError("missing data", nil)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewValidationError("invalid data", nil)
	}
	if ref, ok := v.(*TicketRef); ok && strings.TrimSpace(ref.TicketID) == "" {
		return apperrors.NewValidationError("ticketId is required", nil)
	}
	return nil
}

var _ Conn = (*Client)(nil)
