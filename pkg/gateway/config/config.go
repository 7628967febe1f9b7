package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr      string
	MediaPath string

	// Speech-AI leg. An empty APIKey is not a load error: the bridge still
	// starts and every call is closed with service-unavailable.
	APIKey               string
	AIModel              string
	AIBaseURL            string
	AIInputSampleRateHz  int
	AIOutputSampleRateHz int
	DefaultVoice         string
	AIConnectTimeout     time.Duration

	// Telephony leg.
	CloseGrace          time.Duration
	WSWriteTimeout      time.Duration
	WSPingInterval      time.Duration
	MaxMessageBytes     int64
	InboundMaxFPS       int
	InboundMaxBPS       int64
	InboundBurstSeconds int
	OutboundQueueSize   int
	HealthLogEvery      int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	LogLevel            slog.Level
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 listenAddr(),
		MediaPath:            envOr("VOICE_BRIDGE_MEDIA_PATH", "/media-stream"),
		APIKey:               envOr("GEMINI_API_KEY", strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))),
		AIModel:              envOr("VOICE_BRIDGE_AI_MODEL", "gemini-2.0-flash-live-001"),
		AIBaseURL:            envOr("VOICE_BRIDGE_AI_BASE_URL", ""),
		AIInputSampleRateHz:  envIntOr("VOICE_BRIDGE_AI_INPUT_RATE", 16000),
		AIOutputSampleRateHz: envIntOr("VOICE_BRIDGE_AI_OUTPUT_RATE", 24000),
		DefaultVoice:         envOr("VOICE_BRIDGE_DEFAULT_VOICE", "Puck"),
		AIConnectTimeout:     envDurationOr("VOICE_BRIDGE_AI_CONNECT_TIMEOUT", 5*time.Second),
		CloseGrace:           envDurationOr("VOICE_BRIDGE_CLOSE_GRACE", 500*time.Millisecond),
		WSWriteTimeout:       envDurationOr("VOICE_BRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:       envDurationOr("VOICE_BRIDGE_WS_PING_INTERVAL", 20*time.Second),
		MaxMessageBytes:      envInt64Or("VOICE_BRIDGE_MAX_MESSAGE_BYTES", 64*1024),
		InboundMaxFPS:        envIntOr("VOICE_BRIDGE_INBOUND_MAX_FPS", 100),
		InboundMaxBPS:        envInt64Or("VOICE_BRIDGE_INBOUND_MAX_BPS", 0),
		InboundBurstSeconds:  envIntOr("VOICE_BRIDGE_INBOUND_BURST_SECONDS", 2),
		OutboundQueueSize:    envIntOr("VOICE_BRIDGE_OUTBOUND_QUEUE", 256),
		HealthLogEvery:       envIntOr("VOICE_BRIDGE_HEALTH_LOG_EVERY", 500),
		ReadHeaderTimeout:    envDurationOr("VOICE_BRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("VOICE_BRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	level, err := parseLevel(envOr("VOICE_BRIDGE_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if !strings.HasPrefix(cfg.MediaPath, "/") {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_MEDIA_PATH must start with /")
	}
	if cfg.AIInputSampleRateHz <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_AI_INPUT_RATE must be > 0")
	}
	if cfg.AIOutputSampleRateHz <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_AI_OUTPUT_RATE must be > 0")
	}
	if cfg.AIConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_AI_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.CloseGrace <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_CLOSE_GRACE must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.InboundMaxFPS < 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_INBOUND_MAX_FPS must be >= 0")
	}
	if cfg.InboundMaxBPS < 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_INBOUND_MAX_BPS must be >= 0")
	}
	if cfg.InboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.InboundMaxFPS > 0 || cfg.InboundMaxBPS > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_INBOUND_BURST_SECONDS must be >= 1 when inbound limits are enabled")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.HealthLogEvery < 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_HEALTH_LOG_EVERY must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICE_BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func listenAddr() string {
	if addr := envOr("VOICE_BRIDGE_ADDR", ""); addr != "" {
		return addr
	}
	if port := envOr("PORT", ""); port != "" {
		return ":" + port
	}
	return ":8080"
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("VOICE_BRIDGE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	return level, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
