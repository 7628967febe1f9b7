package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/voice-bridge/pkg/gateway/config"
	"github.com/vango-go/voice-bridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voice-bridge/pkg/gateway/relay/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler fails readiness while draining or when no speech-AI
// credential is configured, since every call would then be refused.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ActiveSessions int      `json:"active_sessions"`
		AIModel        string   `json:"ai_model,omitempty"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}
	if h.Config.APIKey == "" {
		issues = append(issues, "speech-ai credential is not configured")
	}
	if h.Config.AIInputSampleRateHz <= 0 || h.Config.AIOutputSampleRateHz <= 0 {
		issues = append(issues, "speech-ai sample rates must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		Draining:       draining,
		ActiveSessions: h.Sessions.Count(),
		AIModel:        h.Config.AIModel,
		Issues:         issues,
	})
}
