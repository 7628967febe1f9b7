package lifecycle

import "sync/atomic"

// Lifecycle holds the process drain state shared by the readiness probe and
// the media-stream acceptor.
type Lifecycle struct {
	draining atomic.Bool
}

// BeginDrain marks the process as draining. It reports whether this call
// started the drain.
func (l *Lifecycle) BeginDrain() bool {
	if l == nil {
		return false
	}
	return l.draining.CompareAndSwap(false, true)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
