package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/voice-bridge/pkg/core/providers/gemini"
	"github.com/vango-go/voice-bridge/pkg/core/speech"
	"github.com/vango-go/voice-bridge/pkg/gateway/config"
	"github.com/vango-go/voice-bridge/pkg/gateway/handlers"
	"github.com/vango-go/voice-bridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voice-bridge/pkg/gateway/metrics"
	"github.com/vango-go/voice-bridge/pkg/gateway/mw"
	"github.com/vango-go/voice-bridge/pkg/gateway/relay/sessions"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	connector speech.Connector
	sessions  *sessions.Registry
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle

	// baseCtx bounds every relay session. cancelSessions ends the ones a
	// drain did not.
	baseCtx        context.Context
	cancelSessions context.CancelFunc
}

type Option func(*Server)

// WithConnector replaces the Gemini Live connector built from config.
func WithConnector(c speech.Connector) Option {
	return func(s *Server) {
		if c != nil {
			s.connector = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		logger:         logger,
		mux:            http.NewServeMux(),
		sessions:       sessions.New(),
		lifecycle:      &lifecycle.Lifecycle{},
		baseCtx:        baseCtx,
		cancelSessions: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New("voice_bridge")
	}
	if s.connector == nil {
		s.connector = gemini.New(cfg.APIKey,
			gemini.WithModel(cfg.AIModel),
			gemini.WithBaseURL(cfg.AIBaseURL),
			gemini.WithOutputSampleRate(cfg.AIOutputSampleRateHz),
			gemini.WithLogger(logger),
		)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	mediaPath := s.cfg.MediaPath
	if mediaPath == "" {
		mediaPath = "/media-stream"
	}
	s.mux.Handle(mediaPath, handlers.MediaStreamHandler{
		Config:      s.cfg,
		Connector:   s.connector,
		Sessions:    s.sessions,
		Metrics:     s.metrics,
		Logger:      s.logger,
		Lifecycle:   s.lifecycle,
		BaseContext: s.baseCtx,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining fails readiness and refuses new media streams. Calls already
// in progress keep running.
func (s *Server) SetDraining() {
	if s.lifecycle.BeginDrain() {
		s.logger.Info("draining", "active_sessions", s.sessions.Count())
	}
}

func (s *Server) ActiveSessions() int {
	return s.sessions.Count()
}

// WaitSessions blocks until every relay session has ended or ctx is done.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CloseSessions ends every remaining call with going-away.
func (s *Server) CloseSessions() int {
	n := s.sessions.CloseAll()
	s.cancelSessions()
	if n > 0 {
		s.logger.Warn("closed relay sessions after drain deadline", "sessions", n)
	}
	return n
}
