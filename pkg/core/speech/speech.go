// Package speech defines the contract between the relay and a bidirectional
// speech-AI streaming endpoint.
package speech

import (
	"context"
	"errors"

	"github.com/vango-go/voice-bridge/pkg/core/audio"
)

var (
	// ErrConnectTimeout is returned when the endpoint does not finish its
	// setup handshake in time.
	ErrConnectTimeout = errors.New("speech: connect timed out")

	// ErrMissingCredential is returned when no API credential is configured.
	ErrMissingCredential = errors.New("speech: missing api credential")

	// ErrClosed is returned by Conn methods after Close.
	ErrClosed = errors.New("speech: connection closed")
)

// Connector opens AI sessions. Implementations must honor ctx cancellation
// while the handshake is in flight.
type Connector interface {
	Connect(ctx context.Context, cfg SetupConfig) (Conn, error)
}

// Conn is one live AI session. SendAudio and Receive may be called from
// different goroutines; Close unblocks a pending Receive.
type Conn interface {
	SendAudio(chunk AudioChunk) error
	Receive() (Message, error)
	Close() error
}

// SetupConfig is sent once in the session setup handshake.
type SetupConfig struct {
	AudioOutputRequested bool
	Voice                string
	SystemInstruction    string
	InputEncoding        audio.Encoding
	InputSampleRateHz    int
}

// AudioChunk is one realtime audio input chunk.
type AudioChunk struct {
	PCM          []byte
	Encoding     audio.Encoding
	SampleRateHz int
}

// Message is one asynchronous message from the endpoint. Audio is 16-bit
// little-endian PCM at SampleRateHz and may be empty for control-only
// messages.
type Message struct {
	Audio        []byte
	SampleRateHz int
	TurnComplete bool
	Interrupted  bool
}
