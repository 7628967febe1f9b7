package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the telephony leg. *websocket.Conn satisfies it. Only the
// outbound writer calls WriteMessage; WriteControl and Close may be called
// concurrently with it.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outboundFrame struct {
	payload    []byte
	audioBytes int
}

// outboundWriter is the single writer of data frames to the transport. It
// keeps the connection alive with pings and, once ctx ends, flushes what is
// already queued for at most flushTimeout. The close frame is not its job.
type outboundWriter struct {
	ws           Transport
	ctx          context.Context
	frames       <-chan outboundFrame
	writeTimeout time.Duration
	pingInterval time.Duration
	flushTimeout time.Duration
	onWrite      func(frame outboundFrame)
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushOnShutdown(writeTimeout)
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.frames:
			if !ok {
				return nil
			}
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) flushOnShutdown(writeTimeout time.Duration) {
	flushTimeout := w.flushTimeout
	if flushTimeout <= 0 {
		return
	}
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}

	deadline := time.Now().Add(flushTimeout)
	for time.Now().Before(deadline) {
		select {
		case frame, ok := <-w.frames:
			if !ok {
				return
			}
			if err := w.writeFrame(frame, time.Until(deadline)); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame, writeTimeout time.Duration) error {
	if len(frame.payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := w.ws.WriteMessage(websocket.TextMessage, frame.payload); err != nil {
		return err
	}
	if w.onWrite != nil {
		w.onWrite(frame)
	}
	return nil
}
