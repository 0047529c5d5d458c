package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/presence"
)

// Accounts is the account API served under /api. It is optional; without it
// the server only speaks the realtime protocol.
type Accounts interface {
	Register(ctx context.Context, name, email, password string) (*auth.Credentials, error)
	Login(ctx context.Context, email, password string) (*auth.Credentials, error)
	Verify(token string) (*auth.Claims, error)
}

// Server ties together the hub, the presence registry and the HTTP surface.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	registry *presence.Registry
	metrics  *Metrics
	accounts Accounts
	origins  *originPolicy
	upgrader websocket.Upgrader
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAccounts mounts the account endpoints backed by a.
func WithAccounts(a Accounts) Option {
	return func(s *Server) { s.accounts = a }
}

// WithMetrics records to m and exposes it on /metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server. A nil registry gets a fresh case-sensitive one.
func New(cfg Config, registry *presence.Registry, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = discardLogger()
	}
	if registry == nil {
		registry = presence.New()
	}
	s := &Server{
		cfg:      sanitizeConfig(cfg),
		log:      logger,
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(logger, s.metrics)
	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Registry returns the presence registry.
func (s *Server) Registry() *presence.Registry {
	return s.registry
}

// Start launches the hub loop. It must be called before serving /ws.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info("hub started and ready to manage websocket connections")
}

// Shutdown closes every websocket connection and waits for their pumps.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
