package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/voice-bridge/pkg/core/speech"
	"github.com/vango-go/voice-bridge/pkg/gateway/apierror"
	"github.com/vango-go/voice-bridge/pkg/gateway/config"
	"github.com/vango-go/voice-bridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voice-bridge/pkg/gateway/metrics"
	"github.com/vango-go/voice-bridge/pkg/gateway/mw"
	"github.com/vango-go/voice-bridge/pkg/gateway/relay/session"
	"github.com/vango-go/voice-bridge/pkg/gateway/relay/sessions"
)

// MediaStreamHandler accepts telephony media-stream WebSockets and runs one
// relay session per connection until the call ends.
type MediaStreamHandler struct {
	Config    config.Config
	Connector speech.Connector
	Sessions  *sessions.Registry
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle

	// BaseContext bounds every session; cancelling it drains live calls.
	// Request contexts are not used since the connection is hijacked.
	BaseContext context.Context
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID})
		return
	}
	if h.Lifecycle.IsDraining() {
		apierror.Write(w, http.StatusServiceUnavailable, &apierror.Error{Type: apierror.ErrUnavailable, Message: "voice bridge is draining", Code: "draining", RequestID: reqID})
		return
	}
	if !mw.IsWebSocketUpgrade(r) {
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "websocket upgrade required", Code: "upgrade_required", RequestID: reqID})
		return
	}

	// Telephony platforms do not send a browser Origin.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxMessageBytes)
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := "sess_" + uuid.NewString()
	s, err := session.New(session.Dependencies{
		Transport: conn,
		Connector: h.Connector,
		Registry:  h.Sessions,
		Metrics:   h.Metrics,
		Logger:    logger.With("request_id", reqID),
		SessionID: sessionID,
		Config:    sessionConfig(h.Config),
	})
	if err != nil {
		logger.Error("failed to initialize relay session", "request_id", reqID, "error", err)
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal"), deadline)
		return
	}

	ctx := h.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Run(ctx); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		logger.Warn("relay session ended with error",
			"session_id", sessionID,
			"call_id", s.CallID(),
			"request_id", reqID,
			"error", err,
		)
	}
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		AIInputSampleRateHz:  cfg.AIInputSampleRateHz,
		AIOutputSampleRateHz: cfg.AIOutputSampleRateHz,
		DefaultVoice:         cfg.DefaultVoice,
		ConnectTimeout:       cfg.AIConnectTimeout,
		CloseGrace:           cfg.CloseGrace,
		WriteTimeout:         cfg.WSWriteTimeout,
		PingInterval:         cfg.WSPingInterval,
		OutboundQueueSize:    cfg.OutboundQueueSize,
		InboundMaxFPS:        cfg.InboundMaxFPS,
		InboundMaxBPS:        cfg.InboundMaxBPS,
		InboundBurstSeconds:  cfg.InboundBurstSeconds,
		HealthLogEvery:       cfg.HealthLogEvery,
	}
}
