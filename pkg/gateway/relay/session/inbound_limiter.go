package session

import "time"

// frameLimiter is a token bucket over inbound media frames and their decoded
// byte size. Frames over budget are dropped by the caller; a nil limiter
// allows everything.
type frameLimiter struct {
	now          func() time.Time
	fpsRate      int64
	fpsTokens    int64
	bpsRate      int64
	bpsTokens    int64
	burstSeconds int64
	lastRefill   time.Time
}

func newFrameLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *frameLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &frameLimiter{
		now:          now,
		fpsRate:      int64(fps),
		bpsRate:      bps,
		burstSeconds: int64(burstSeconds),
		lastRefill:   now(),
	}
	if l.fpsRate > 0 {
		l.fpsTokens = l.fpsRate * l.burstSeconds
	}
	if l.bpsRate > 0 {
		l.bpsTokens = l.bpsRate * l.burstSeconds
	}
	return l
}

func (l *frameLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if frameBytes < 0 {
		frameBytes = 0
	}
	if l.fpsRate > 0 && l.fpsTokens < 1 {
		return false
	}
	if l.bpsRate > 0 && l.bpsTokens < int64(frameBytes) {
		return false
	}
	if l.fpsRate > 0 {
		l.fpsTokens--
	}
	if l.bpsRate > 0 {
		l.bpsTokens -= int64(frameBytes)
	}
	return true
}

func (l *frameLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.fpsTokens = refillBucket(l.fpsTokens, l.fpsRate, l.burstSeconds, elapsed)
	l.bpsTokens = refillBucket(l.bpsTokens, l.bpsRate, l.burstSeconds, elapsed)
	l.lastRefill = now
}

func refillBucket(tokens, rate, burstSeconds int64, elapsed time.Duration) int64 {
	if rate <= 0 {
		return tokens
	}
	tokens += (elapsed.Nanoseconds() * rate) / int64(time.Second)
	if limit := rate * burstSeconds; tokens > limit {
		tokens = limit
	}
	return tokens
}
