package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/service"
	"github.com/spec-kit/ticket-sync/internal/sla"
)

// Tickets is the ticket workflow used by viewers.
type Tickets interface {
	GetTicket(ctx context.Context, actor domain.Identity, id string) (*service.TicketView, error)
	UpdateTicket(ctx context.Context, actor domain.Identity, id string, patch domain.TicketPatch) (*service.TicketUpdate, error)
	SLAStatus(ctx context.Context, id string) (sla.Status, error)
}

// Comments posts to ticket threads.
type Comments interface {
	AddComment(ctx context.Context, actor domain.Identity, ticketID string, input service.CommentInput) (*domain.Comment, error)
}

// Authenticator resolves the bearer token presented at upgrade time.
type Authenticator interface {
	Authenticate(token string) (domain.Identity, error)
}

// BroadcastRecorder counts fan-out outcomes.
type BroadcastRecorder interface {
	RecordBroadcast(event string, delivered, dropped int)
}

type nopRecorder struct{}

func (nopRecorder) RecordBroadcast(string, int, int) {}

// Dependencies bundles collaborators for the websocket server.
type Dependencies struct {
	Hub      *Hub
	Tickets  Tickets
	Comments Comments
	Auth     Authenticator
	Recorder BroadcastRecorder
	Logger   *zap.Logger
}

// Server upgrades viewers at /ws and serves them until shutdown.
type Server struct {
	cfg      config.RealtimeConfig
	hub      *Hub
	tickets  Tickets
	comments Comments
	auth     Authenticator
	recorder BroadcastRecorder
	logger   *zap.Logger
	upgrader websocket.Upgrader
	baseCtx  context.Context
	stop     context.CancelFunc
}

// NewServer wires the websocket endpoint.
func NewServer(cfg config.RealtimeConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 16384
	}

	baseCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		hub:      deps.Hub,
		tickets:  deps.Tickets,
		comments: deps.Comments,
		auth:     deps.Auth,
		recorder: recorder,
		logger:   logger,
		baseCtx:  baseCtx,
		stop:     stop,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP mux serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	return mux
}

// ServeHTTP authenticates and upgrades one viewer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(header), "bearer ") {
			token = strings.TrimSpace(header[len("bearer "):])
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	identity, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(s.baseCtx, s, conn, identity)
	client.logger.Debug("viewer connected")
	go func() {
		<-client.ctx.Done()
		client.Close()
	}()
	go client.writePump()
	go client.readPump()
}

// Run listens on the configured address until ctx is cancelled, then closes
// every connection.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("realtime listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
