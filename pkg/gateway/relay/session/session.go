package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/voice-bridge/pkg/core/audio"
	"github.com/vango-go/voice-bridge/pkg/core/speech"
	"github.com/vango-go/voice-bridge/pkg/gateway/mediastream/protocol"
	"github.com/vango-go/voice-bridge/pkg/gateway/metrics"
	"github.com/vango-go/voice-bridge/pkg/gateway/relay/sessions"
)

// CloseServiceUnavailable is sent to the telephony leg when the AI session
// cannot be opened.
const CloseServiceUnavailable = websocket.CloseTryAgainLater

const (
	outcomeStop            = "stop"
	outcomeTransportClosed = "transport_closed"
	outcomeAIClosed        = "ai_closed"
	outcomeAIError         = "ai_error"
	outcomeAIUnavailable   = "ai_unavailable"
	outcomeInvalidStart    = "invalid_start"
	outcomeDuplicate       = "duplicate_call"
	outcomeRequested       = "closed"
	outcomeShutdown        = "shutdown"
	outcomeWriteError      = "write_error"

	dropMalformed    = "malformed"
	dropNotStreaming = "not_streaming"
	dropRateLimited  = "rate_limited"
	dropAISend       = "ai_send"
	dropBinary       = "binary"
)

// ErrSessionClosed is returned by Run on a session that already ran or was
// closed before it started.
var ErrSessionClosed = errors.New("relay session closed")

type Config struct {
	AIInputSampleRateHz  int
	AIOutputSampleRateHz int
	DefaultVoice         string
	ConnectTimeout       time.Duration
	CloseGrace           time.Duration
	WriteTimeout         time.Duration
	PingInterval         time.Duration
	OutboundQueueSize    int
	InboundMaxFPS        int
	InboundMaxBPS        int64
	InboundBurstSeconds  int
	HealthLogEvery       int
}

type Dependencies struct {
	Transport Transport
	Connector speech.Connector
	Registry  *sessions.Registry
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	SessionID string
	Config    Config
	Now       func() time.Time
}

// Session relays one call between a telephony transport and a speech-AI
// session. The Run goroutine owns the telephony read side and every state
// transition except teardown, which any goroutine may trigger.
type Session struct {
	transport Transport
	connector speech.Connector
	registry  *sessions.Registry
	metrics   *metrics.Metrics
	sessionID string
	cfg       Config
	now       func() time.Time
	limiter   *frameLimiter

	ctx    context.Context
	cancel context.CancelFunc

	outbound   chan outboundFrame
	writerDone chan struct{}
	done       chan struct{}

	frames atomic.Int64

	mu         sync.Mutex
	state      State
	callID     string
	codec      protocol.CodecParams
	ai         speech.Conn
	registered bool
	running    bool
	startedAt  time.Time
	logger     *slog.Logger
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type connectResult struct {
	conn    speech.Conn
	err     error
	elapsed time.Duration
}

func New(deps Dependencies) (*Session, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("speech connector is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		deps.SessionID = uuid.NewString()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.AIInputSampleRateHz <= 0 {
		deps.Config.AIInputSampleRateHz = 16000
	}
	if deps.Config.AIOutputSampleRateHz <= 0 {
		deps.Config.AIOutputSampleRateHz = 24000
	}
	if deps.Config.ConnectTimeout <= 0 {
		deps.Config.ConnectTimeout = 5 * time.Second
	}
	if deps.Config.CloseGrace <= 0 {
		deps.Config.CloseGrace = 500 * time.Millisecond
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		transport:  deps.Transport,
		connector:  deps.Connector,
		registry:   deps.Registry,
		metrics:    deps.Metrics,
		sessionID:  deps.SessionID,
		cfg:        deps.Config,
		now:        deps.Now,
		limiter:    newFrameLimiter(deps.Now, deps.Config.InboundMaxFPS, deps.Config.InboundMaxBPS, deps.Config.InboundBurstSeconds),
		ctx:        ctx,
		cancel:     cancel,
		outbound:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		state:      StateIdle,
		logger:     deps.Logger.With("session_id", deps.SessionID),
	}
	return s, nil
}

func (s *Session) ID() string { return s.sessionID }

// CallID returns the stream id bound by the start event, or "" before it.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FrameCount is the number of inbound media frames seen while streaming.
func (s *Session) FrameCount() int64 {
	return s.frames.Load()
}

// Done is closed once the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down with a normal close code. It is safe to call
// from any goroutine, any number of times.
func (s *Session) Close() error {
	s.teardown(websocket.CloseNormalClosure, "session closed", outcomeRequested)
	return nil
}

// Drain tears the session down with going-away, for server shutdown.
func (s *Session) Drain() error {
	s.teardown(websocket.CloseGoingAway, "server shutting down", outcomeShutdown)
	return nil
}

// Run drives the session until it reaches CLOSED. Cancelling ctx tears the
// session down with going-away. The returned error describes an abnormal
// end; orderly hangups return nil.
func (s *Session) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running || s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.running = true
	s.startedAt = s.now()
	s.mu.Unlock()
	s.metrics.RecordSessionStart()

	stopAfter := context.AfterFunc(ctx, func() {
		s.teardown(websocket.CloseGoingAway, "server shutting down", outcomeShutdown)
	})
	defer stopAfter()

	var g errgroup.Group
	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	g.Go(func() error {
		s.readLoop(readCh)
		return nil
	})
	g.Go(func() error {
		defer close(s.writerDone)
		w := outboundWriter{
			ws:           s.transport,
			ctx:          s.ctx,
			frames:       s.outbound,
			writeTimeout: s.cfg.WriteTimeout,
			pingInterval: s.cfg.PingInterval,
			flushTimeout: s.cfg.CloseGrace,
			onWrite: func(frame outboundFrame) {
				s.metrics.RecordAudio(metrics.DirectionOutbound, frame.audioBytes)
			},
		}
		writerErrCh <- w.Run()
		return nil
	})

	connectCh := make(chan connectResult)
	aiDoneCh := make(chan error, 1)

	var connectTimer *time.Timer
	stopConnectTimer := func() {
		if connectTimer != nil {
			connectTimer.Stop()
			connectTimer = nil
		}
	}
	defer stopConnectTimer()
	connectTimeoutCh := func() <-chan time.Time {
		if connectTimer == nil {
			return nil
		}
		return connectTimer.C
	}

	var runErr error
	for {
		select {
		case <-s.ctx.Done():
			<-s.done
			_ = g.Wait()
			return runErr
		case err := <-writerErrCh:
			if err != nil {
				runErr = fmt.Errorf("telephony write: %w", err)
				s.log().Warn("telephony write failed", "error", err)
				s.teardown(websocket.CloseInternalServerErr, "write failed", outcomeWriteError)
			}
		case frame, ok := <-readCh:
			if !ok {
				readCh = nil
				continue
			}
			if frame.err != nil {
				s.log().Info("telephony transport closed", "error", frame.err)
				s.teardown(websocket.CloseNormalClosure, "", outcomeTransportClosed)
				continue
			}
			if frame.messageType != websocket.TextMessage {
				s.metrics.RecordDroppedFrame(dropBinary)
				continue
			}
			if s.handleMessage(frame.data, connectCh) {
				connectTimer = time.NewTimer(s.cfg.ConnectTimeout)
			}
		case res := <-connectCh:
			stopConnectTimer()
			if err := s.handleConnect(res, aiDoneCh, &g); err != nil {
				runErr = err
			}
		case <-connectTimeoutCh():
			connectTimer = nil
			if s.State() != StateConnectingAI {
				continue
			}
			s.metrics.RecordAIConnect(false, s.cfg.ConnectTimeout)
			s.log().Warn("speech-ai connect timed out", "timeout", s.cfg.ConnectTimeout)
			runErr = fmt.Errorf("speech-ai connect: %w", speech.ErrConnectTimeout)
			s.teardown(CloseServiceUnavailable, "ai unavailable", outcomeAIUnavailable)
		case err := <-aiDoneCh:
			if errors.Is(err, io.EOF) || errors.Is(err, speech.ErrClosed) {
				s.log().Info("speech-ai session ended")
				s.teardown(websocket.CloseNormalClosure, "ai session ended", outcomeAIClosed)
				continue
			}
			runErr = fmt.Errorf("speech-ai receive: %w", err)
			s.log().Warn("speech-ai session failed", "error", err)
			s.teardown(websocket.CloseInternalServerErr, "ai session failed", outcomeAIError)
		}
	}
}

// handleMessage decodes and dispatches one telephony message. It reports
// whether an AI connect attempt was started.
func (s *Session) handleMessage(data []byte, connectCh chan<- connectResult) bool {
	ev, err := protocol.DecodeEvent(data)
	if err != nil {
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) && s.State() == StateIdle && fatalBeforeStart(decErr) {
			s.log().Warn("invalid start event", "error", err)
			s.teardown(websocket.ClosePolicyViolation, "invalid start", outcomeInvalidStart)
			return false
		}
		s.log().Debug("dropping undecodable frame", "error", err)
		s.metrics.RecordDroppedFrame(dropMalformed)
		return false
	}

	switch ev := ev.(type) {
	case protocol.Start:
		return s.handleStart(ev, connectCh)
	case protocol.Media:
		s.handleMedia(ev)
	case protocol.Stop:
		s.log().Info("stop event received")
		s.teardown(websocket.CloseNormalClosure, "stop", outcomeStop)
	default:
		s.log().Debug("ignoring event", "event", ev.EventName())
	}
	return false
}

// fatalBeforeStart reports whether a decode failure in IDLE means the call
// can never start: an unparseable frame or a rejected start event.
func fatalBeforeStart(err *protocol.DecodeError) bool {
	return err.Param == "" || err.Param == "event" || strings.HasPrefix(err.Param, "start")
}

func (s *Session) handleStart(start protocol.Start, connectCh chan<- connectResult) bool {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.log().Warn("ignoring repeated start event", "stream_sid", start.StreamSID)
		return false
	}
	s.callID = start.StreamSID
	s.codec = start.Codec
	s.logger = s.logger.With("call_id", start.StreamSID)
	s.mu.Unlock()

	if err := s.registry.Register(start.StreamSID, s); err != nil {
		s.log().Error("call registration rejected", "error", err)
		s.teardown(websocket.ClosePolicyViolation, "duplicate call", outcomeDuplicate)
		return false
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.registry.Unregister(start.StreamSID)
		return false
	}
	s.registered = true
	s.state = StateConnectingAI
	s.mu.Unlock()

	voice := start.VoiceID
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	setup := speech.SetupConfig{
		AudioOutputRequested: true,
		Voice:                voice,
		SystemInstruction:    start.SystemInstruction,
		InputEncoding:        audio.EncodingPCMS16LE,
		InputSampleRateHz:    s.cfg.AIInputSampleRateHz,
	}
	s.log().Info("call started",
		"call_sid", start.CallSID,
		"encoding", string(start.Codec.Encoding),
		"sample_rate_hz", start.Codec.SampleRateHz,
		"voice", voice,
	)

	go s.connect(setup, connectCh)
	return true
}

func (s *Session) connect(setup speech.SetupConfig, connectCh chan<- connectResult) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()

	started := s.now()
	conn, err := s.connector.Connect(ctx, setup)
	res := connectResult{conn: conn, err: err, elapsed: s.now().Sub(started)}
	if err == nil && conn == nil {
		res.err = fmt.Errorf("speech connector returned no connection")
	}

	select {
	case connectCh <- res:
	case <-s.ctx.Done():
		if conn != nil {
			_ = conn.Close()
		}
	}
}

func (s *Session) handleConnect(res connectResult, aiDoneCh chan<- error, g *errgroup.Group) error {
	if res.err != nil {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		if s.State() != StateConnectingAI {
			return nil
		}
		s.metrics.RecordAIConnect(false, res.elapsed)
		s.log().Warn("speech-ai setup failed", "error", res.err, "elapsed", res.elapsed)
		s.teardown(CloseServiceUnavailable, "ai unavailable", outcomeAIUnavailable)
		return fmt.Errorf("speech-ai connect: %w", res.err)
	}

	s.mu.Lock()
	if s.state != StateConnectingAI {
		s.mu.Unlock()
		_ = res.conn.Close()
		return nil
	}
	s.ai = res.conn
	s.state = StateStreaming
	s.mu.Unlock()

	s.metrics.RecordAIConnect(true, res.elapsed)
	s.log().Info("speech-ai session open", "elapsed", res.elapsed)
	conn := res.conn
	g.Go(func() error {
		s.aiLoop(conn, aiDoneCh)
		return nil
	})
	return nil
}

// handleMedia forwards one inbound frame to the AI. Any failure drops just
// this frame.
func (s *Session) handleMedia(m protocol.Media) {
	s.mu.Lock()
	state, ai, codec := s.state, s.ai, s.codec
	s.mu.Unlock()
	if state != StateStreaming || ai == nil {
		s.metrics.RecordDroppedFrame(dropNotStreaming)
		return
	}

	n := s.frames.Add(1)
	payload, err := m.Audio()
	if err != nil {
		s.log().Debug("dropping media frame", "frame", n, "error", err)
		s.metrics.RecordDroppedFrame(dropMalformed)
		return
	}
	if !s.limiter.Allow(len(payload)) {
		s.metrics.RecordDroppedFrame(dropRateLimited)
		return
	}

	samples := decodeTelephony(payload, codec)
	pcm := audio.SamplesToBytes(audio.Resample(samples, codec.SampleRateHz, s.cfg.AIInputSampleRateHz))
	err = ai.SendAudio(speech.AudioChunk{
		PCM:          pcm,
		Encoding:     audio.EncodingPCMS16LE,
		SampleRateHz: s.cfg.AIInputSampleRateHz,
	})
	if err != nil {
		s.log().Debug("dropping media frame", "frame", n, "error", err)
		s.metrics.RecordDroppedFrame(dropAISend)
		return
	}
	s.metrics.RecordAudio(metrics.DirectionInbound, len(payload))

	if every := int64(s.cfg.HealthLogEvery); every > 0 && n%every == 0 {
		s.log().Info("media stream health",
			"frames", n,
			"frame_ms", audio.DurationMS(len(samples), codec.SampleRateHz),
			"rms", audio.RMSEnergy(samples),
			"peak", audio.PeakAmplitude(samples),
		)
	}
}

func (s *Session) aiLoop(conn speech.Conn, done chan<- error) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			select {
			case done <- err:
			case <-s.ctx.Done():
			}
			return
		}
		if msg.Interrupted {
			s.log().Debug("speech-ai turn interrupted")
		}
		if len(msg.Audio) == 0 {
			continue
		}
		if !s.relayAIAudio(msg) {
			return
		}
	}
}

// relayAIAudio queues one AI chunk for the telephony leg. It reports false
// once the session is no longer streaming; the chunk is then dropped.
func (s *Session) relayAIAudio(msg speech.Message) bool {
	s.mu.Lock()
	state, codec, streamSID := s.state, s.codec, s.callID
	s.mu.Unlock()
	if state != StateStreaming {
		return false
	}

	rate := msg.SampleRateHz
	if rate <= 0 {
		rate = s.cfg.AIOutputSampleRateHz
	}
	samples := audio.Resample(audio.BytesToSamples(msg.Audio), rate, codec.SampleRateHz)
	payload := encodeTelephony(samples, codec)

	frame, err := protocol.EncodeMedia(streamSID, payload)
	if err != nil {
		s.metrics.RecordDroppedFrame(dropMalformed)
		return true
	}
	select {
	case s.outbound <- outboundFrame{payload: frame, audioBytes: len(payload)}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// teardown closes both legs once. The first caller wins; later calls return
// immediately.
func (s *Session) teardown(code int, reason, outcome string) {
	s.mu.Lock()
	if s.state.terminating() {
		s.mu.Unlock()
		return
	}
	prev := s.state
	if prev == StateStreaming {
		s.state = StateClosing
	} else {
		s.state = StateClosed
	}
	ai := s.ai
	s.ai = nil
	running := s.running
	s.mu.Unlock()

	s.cancel()
	if ai != nil {
		_ = ai.Close()
	}
	if running {
		timer := time.NewTimer(s.cfg.CloseGrace)
		select {
		case <-s.writerDone:
		case <-timer.C:
		}
		timer.Stop()
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = s.transport.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.transport.Close()

	s.mu.Lock()
	s.state = StateClosed
	callID, registered := s.callID, s.registered
	s.registered = false
	startedAt := s.startedAt
	s.mu.Unlock()

	if registered {
		s.registry.Unregister(callID)
	}
	if running {
		s.metrics.RecordSessionEnd(outcome, s.now().Sub(startedAt))
	}
	s.log().Info("session closed",
		"outcome", outcome,
		"close_code", code,
		"from_state", prev.String(),
		"frames", s.frames.Load(),
	)
	close(s.done)
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.transport.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

func decodeTelephony(payload []byte, codec protocol.CodecParams) []int16 {
	if codec.Encoding == audio.EncodingMuLaw {
		return audio.DecodeMuLaw(payload)
	}
	return audio.BytesToSamples(payload)
}

func encodeTelephony(samples []int16, codec protocol.CodecParams) []byte {
	if codec.Encoding == audio.EncodingMuLaw {
		return audio.EncodeMuLaw(samples)
	}
	return audio.SamplesToBytes(samples)
}
