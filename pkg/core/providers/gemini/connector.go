// Package gemini implements speech.Connector over the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/voice-bridge/pkg/core/audio"
	"github.com/vango-go/voice-bridge/pkg/core/speech"
)

const (
	// DefaultModel is the live model used when none is configured.
	DefaultModel = "gemini-2.0-flash-live-001"

	// DefaultOutputSampleRate is the rate of Live API audio output.
	DefaultOutputSampleRate = 24000
)

// liveSession is the subset of *genai.Session the connector drives.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type dialFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// Connector opens Gemini Live sessions.
type Connector struct {
	apiKey       string
	model        string
	baseURL      string
	outputRateHz int
	logger       *slog.Logger

	dial dialFunc

	clientMu sync.Mutex
	client   *genai.Client
}

// New creates a Connector. An empty apiKey is accepted; every Connect then
// fails with speech.ErrMissingCredential.
func New(apiKey string, opts ...Option) *Connector {
	c := &Connector{
		apiKey:       strings.TrimSpace(apiKey),
		model:        DefaultModel,
		outputRateHz: DefaultOutputSampleRate,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = c.dialGenAI
	}
	return c
}

// Name returns the provider identifier.
func (c *Connector) Name() string {
	return "gemini"
}

// Connect dials the Live endpoint, sends the setup message and waits for the
// server to acknowledge it. ctx bounds the whole handshake.
func (c *Connector) Connect(ctx context.Context, cfg speech.SetupConfig) (speech.Conn, error) {
	if c.apiKey == "" {
		return nil, speech.ErrMissingCredential
	}
	if cfg.InputEncoding != "" && cfg.InputEncoding != audio.EncodingPCMS16LE {
		return nil, fmt.Errorf("gemini: unsupported input encoding %q", cfg.InputEncoding)
	}

	sess, err := c.dial(ctx, c.model, buildLiveConfig(cfg))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", speech.ErrConnectTimeout, err)
		}
		err = classifyError(err)
		var apiErr *Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("gemini live connect rejected", "type", apiErr.Type, "retryable", apiErr.IsRetryable())
		}
		return nil, fmt.Errorf("gemini: live connect: %w", err)
	}

	pending, err := awaitSetup(ctx, sess)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	return &liveConn{
		sess:         sess,
		outputRateHz: c.outputRateHz,
		logger:       c.logger,
		pending:      pending,
	}, nil
}

func (c *Connector) dialGenAI(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	client, err := c.genaiClient(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Connector) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	c.client = client
	return client, nil
}

func buildLiveConfig(cfg speech.SetupConfig) *genai.LiveConnectConfig {
	live := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
	}
	if cfg.AudioOutputRequested {
		live.ResponseModalities = []genai.Modality{genai.ModalityAudio}
	}
	if voice := strings.TrimSpace(cfg.Voice); voice != "" {
		live.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		live.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	return live
}

type setupResult struct {
	pending []*genai.LiveServerMessage
	err     error
}

// awaitSetup blocks until setupComplete arrives or ctx ends. Content that
// arrives before the acknowledgement also proves the session is live; it is
// kept for the first Receive calls.
func awaitSetup(ctx context.Context, sess liveSession) ([]*genai.LiveServerMessage, error) {
	done := make(chan setupResult, 1)
	go func() {
		for {
			msg, err := sess.Receive()
			if err != nil {
				done <- setupResult{err: fmt.Errorf("gemini: setup: %w", classifyError(err))}
				return
			}
			if msg == nil {
				continue
			}
			if msg.SetupComplete != nil {
				done <- setupResult{}
				return
			}
			if msg.ServerContent != nil {
				done <- setupResult{pending: []*genai.LiveServerMessage{msg}}
				return
			}
		}
	}()

	select {
	case res := <-done:
		return res.pending, res.err
	case <-ctx.Done():
		// Close unblocks the pending Receive so the goroutine exits.
		_ = sess.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: waiting for setupComplete", speech.ErrConnectTimeout)
		}
		return nil, ctx.Err()
	}
}

type liveConn struct {
	sess         liveSession
	outputRateHz int
	logger       *slog.Logger

	// pending is only touched by the Receive caller.
	pending []*genai.LiveServerMessage

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *liveConn) SendAudio(chunk speech.AudioChunk) error {
	if c.closed.Load() {
		return speech.ErrClosed
	}
	if chunk.Encoding != "" && chunk.Encoding != audio.EncodingPCMS16LE {
		return fmt.Errorf("gemini: unsupported chunk encoding %q", chunk.Encoding)
	}
	if len(chunk.PCM) == 0 {
		return nil
	}
	return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			Data:     chunk.PCM,
			MIMEType: pcmMIMEType(chunk.SampleRateHz),
		},
	})
}

// Receive returns the next message. A normal close from either side is
// reported as io.EOF or speech.ErrClosed.
func (c *liveConn) Receive() (speech.Message, error) {
	for {
		var msg *genai.LiveServerMessage
		if len(c.pending) > 0 {
			msg = c.pending[0]
			c.pending = c.pending[1:]
		} else {
			var err error
			msg, err = c.sess.Receive()
			if err != nil {
				return speech.Message{}, c.receiveError(err)
			}
		}
		if msg == nil {
			continue
		}
		if msg.GoAway != nil {
			c.logger.Debug("gemini live go-away received")
			continue
		}
		if msg.ServerContent == nil {
			continue
		}
		return toMessage(msg.ServerContent, c.outputRateHz), nil
	}
}

func (c *liveConn) receiveError(err error) error {
	if c.closed.Load() {
		return speech.ErrClosed
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return classifyError(err)
}

func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.sess.Close()
	})
	return c.closeErr
}

func toMessage(content *genai.LiveServerContent, fallbackRate int) speech.Message {
	out := speech.Message{
		SampleRateHz: fallbackRate,
		TurnComplete: content.TurnComplete,
		Interrupted:  content.Interrupted,
	}
	if content.ModelTurn == nil {
		return out
	}
	for _, part := range content.ModelTurn.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		if !strings.HasPrefix(part.InlineData.MIMEType, "audio/pcm") {
			continue
		}
		out.SampleRateHz = parseRate(part.InlineData.MIMEType, fallbackRate)
		out.Audio = append(out.Audio, part.InlineData.Data...)
	}
	return out
}

func pcmMIMEType(rateHz int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rateHz)
}

// parseRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000".
func parseRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		if hz, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && hz > 0 {
			return hz
		}
	}
	return fallback
}
