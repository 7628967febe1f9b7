package sessions

import (
	"context"
	"fmt"
	"sync"
)

// Session is what the registry needs from a live relay session.
type Session interface {
	CallID() string
	Close() error
}

// Drainer is implemented by sessions that close differently when the whole
// process is shutting down.
type Drainer interface {
	Drain() error
}

// DuplicateSessionError is returned by Register when the call id is taken.
type DuplicateSessionError struct {
	CallID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session already registered for call %q", e.CallID)
}

// Registry maps call ids to active sessions. The zero value is not usable;
// a nil *Registry accepts every call and tracks nothing.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	// idle is closed whenever sessions is empty.
	idle chan struct{}
}

func New() *Registry {
	idle := make(chan struct{})
	close(idle)
	return &Registry{
		sessions: make(map[string]Session),
		idle:     idle,
	}
}

// Register binds callID to s. An existing registration is never replaced.
func (r *Registry) Register(callID string, s Session) error {
	if r == nil {
		return nil
	}
	if callID == "" {
		return fmt.Errorf("call id is required")
	}
	if s == nil {
		return fmt.Errorf("session is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[callID]; exists {
		return &DuplicateSessionError{CallID: callID}
	}
	if len(r.sessions) == 0 {
		r.idle = make(chan struct{})
	}
	r.sessions[callID] = s
	return nil
}

func (r *Registry) Lookup(callID string) (Session, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Unregister removes callID. Removing an absent id is a no-op.
func (r *Registry) Unregister(callID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; !ok {
		return
	}
	delete(r.sessions, callID)
	if len(r.sessions) == 0 {
		close(r.idle)
	}
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every registered session outside the lock, draining those
// that support it, and reports how many were closed.
func (r *Registry) CloseAll() (closed int) {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	snapshot := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	for _, s := range snapshot {
		if d, ok := s.(Drainer); ok {
			_ = d.Drain()
		} else {
			_ = s.Close()
		}
		closed++
	}
	return closed
}

// Wait blocks until the registry is empty or ctx ends. It reports whether
// the registry emptied.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		r.mu.Lock()
		idle := r.idle
		empty := len(r.sessions) == 0
		r.mu.Unlock()
		if empty {
			return true
		}

		select {
		case <-idle:
			// a new call may have registered since; re-check
		case <-ctx.Done():
			return false
		}
	}
}
