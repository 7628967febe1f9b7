package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vango-go/voice-bridge/pkg/core/audio"
)

const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"

	DefaultSampleRateHz = 8000

	// Negotiable telephony-leg rates. Anything outside is refused at start.
	MinSampleRateHz = 8000
	MaxSampleRateHz = 48000
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// CodecParams is the telephony-leg audio format, negotiated once at start.
type CodecParams struct {
	Encoding     audio.Encoding
	SampleRateHz int
}

// Event is one decoded inbound message: Start, Media, Stop or Unknown.
type Event interface {
	EventName() string
}

// Start announces the call and carries its write-once configuration.
type Start struct {
	StreamSID         string
	CallSID           string
	Codec             CodecParams
	SystemInstruction string
	VoiceID           string
	CustomParameters  map[string]string
}

// Media is one frame of inbound telephony audio. Payload is still base64.
type Media struct {
	Payload   string
	Track     string
	Chunk     string
	Timestamp string
}

type Stop struct {
	StreamSID string
}

// Unknown is any event kind this relay does not act on.
type Unknown struct {
	Name string
}

func (Start) EventName() string     { return EventStart }
func (Media) EventName() string     { return EventMedia }
func (Stop) EventName() string      { return EventStop }
func (u Unknown) EventName() string { return u.Name }

// Audio base64-decodes the frame payload.
func (m Media) Audio() ([]byte, error) {
	if strings.TrimSpace(m.Payload) == "" {
		return nil, badRequest("media.payload is empty", "media.payload")
	}
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, badRequest("media.payload is not valid base64", "media.payload")
	}
	return data, nil
}

type wireMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type wireStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]json.RawMessage `json:"customParameters"`
	MediaFormat      *wireMediaFormat           `json:"mediaFormat"`
}

type wireMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type inboundEnvelope struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid"`
	Start     json.RawMessage `json:"start"`
	Media     json.RawMessage `json:"media"`
}

// DecodeEvent parses one inbound transport message. Event kinds other than
// start, media and stop decode to Unknown without error.
func DecodeEvent(data []byte) (Event, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return nil, badRequest("missing event", "event")
	}

	switch name {
	case EventStart:
		var ws wireStart
		if len(env.Start) == 0 {
			return nil, badRequest("start payload is required", "start")
		}
		if err := json.Unmarshal(env.Start, &ws); err != nil {
			return nil, badRequest("invalid start", "start")
		}
		return decodeStart(ws, env.StreamSID)
	case EventMedia:
		var wm wireMedia
		if len(env.Media) == 0 {
			return nil, badRequest("media payload is required", "media")
		}
		if err := json.Unmarshal(env.Media, &wm); err != nil {
			return nil, badRequest("invalid media", "media")
		}
		return Media{Payload: wm.Payload, Track: wm.Track, Chunk: wm.Chunk, Timestamp: wm.Timestamp}, nil
	case EventStop:
		return Stop{StreamSID: strings.TrimSpace(env.StreamSID)}, nil
	default:
		return Unknown{Name: name}, nil
	}
}

func decodeStart(ws wireStart, envelopeSID string) (Start, error) {
	sid := strings.TrimSpace(ws.StreamSID)
	if sid == "" {
		sid = strings.TrimSpace(envelopeSID)
	}
	if sid == "" {
		return Start{}, badRequest("start.streamSid is required", "start.streamSid")
	}

	params := customParams(ws.CustomParameters)

	var instruction string
	if raw := strings.TrimSpace(params["systemInstruction"]); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Start{}, badRequest("systemInstruction must be base64", "start.customParameters.systemInstruction")
		}
		instruction = string(decoded)
	}

	var formatEncoding string
	var formatRate int
	if ws.MediaFormat != nil {
		formatEncoding = ws.MediaFormat.Encoding
		formatRate = ws.MediaFormat.SampleRate
	}
	encoding := strings.TrimSpace(params["codec"])
	if encoding == "" {
		encoding = formatEncoding
	}
	rate := strings.TrimSpace(params["sampleRate"])
	if rate == "" && formatRate > 0 {
		rate = strconv.Itoa(formatRate)
	}
	codec, err := ResolveCodec(encoding, rate)
	if err != nil {
		return Start{}, err
	}

	return Start{
		StreamSID:         sid,
		CallSID:           strings.TrimSpace(ws.CallSID),
		Codec:             codec,
		SystemInstruction: instruction,
		VoiceID:           strings.TrimSpace(params["agentVoice"]),
		CustomParameters:  params,
	}, nil
}

// customParams keeps string and numeric custom parameters as text. Other
// value kinds are skipped.
func customParams(raw map[string]json.RawMessage) map[string]string {
	params := make(map[string]string, len(raw))
	for key, value := range raw {
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			continue
		}
		switch v := v.(type) {
		case string:
			params[key] = v
		case float64:
			params[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			params[key] = strconv.FormatBool(v)
		}
	}
	return params
}

// ResolveCodec maps start metadata to CodecParams. An empty encoding means
// the legacy telephony default, mu-law; an empty rate means 8000 Hz.
func ResolveCodec(encoding, sampleRate string) (CodecParams, error) {
	params := CodecParams{Encoding: audio.EncodingMuLaw, SampleRateHz: DefaultSampleRateHz}

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "mulaw", "ulaw", "pcmu", "audio/x-mulaw":
		params.Encoding = audio.EncodingMuLaw
	case "pcm", "pcm_s16le", "linear16", "l16", "audio/x-l16":
		params.Encoding = audio.EncodingPCMS16LE
	default:
		return CodecParams{}, unsupported("unsupported codec", "start.customParameters.codec")
	}

	if sampleRate = strings.TrimSpace(sampleRate); sampleRate != "" {
		hz, err := strconv.Atoi(sampleRate)
		if err != nil || hz <= 0 {
			return CodecParams{}, badRequest("sampleRate must be a positive integer", "start.customParameters.sampleRate")
		}
		if hz < MinSampleRateHz || hz > MaxSampleRateHz {
			return CodecParams{}, unsupported(fmt.Sprintf("sampleRate must be between %d and %d", MinSampleRateHz, MaxSampleRateHz), "start.customParameters.sampleRate")
		}
		params.SampleRateHz = hz
	}
	return params, nil
}

type outboundMediaPayload struct {
	Payload string `json:"payload"`
}

type OutboundMedia struct {
	Event     string               `json:"event"`
	StreamSID string               `json:"streamSid"`
	Media     outboundMediaPayload `json:"media"`
}

// EncodeMedia serializes the only outbound message kind: a media frame for
// the given stream.
func EncodeMedia(streamSID string, payload []byte) ([]byte, error) {
	return json.Marshal(OutboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     outboundMediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}
