package ssh

import (
	"sync"
	"time"
)

const idleOperatorTTL = 5 * time.Minute

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// commandLimiter is a per-operator token bucket for console commands.
type commandLimiter struct {
	mu        sync.Mutex
	operators map[string]*bucket
	perSec    float64
	burst     float64 // max tokens (2× perSec)
	now       func() time.Time
}

func newCommandLimiter(perSec float64) *commandLimiter {
	return &commandLimiter{
		operators: make(map[string]*bucket),
		perSec:    perSec,
		burst:     perSec * 2,
		now:       time.Now,
	}
}

// allow consumes one token for user. A nil limiter allows everything.
func (l *commandLimiter) allow(user string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.operators[user]
	if !ok {
		l.operators[user] = &bucket{tokens: l.burst - 1, lastCheck: now}
		return true
	}

	b.tokens = min(b.tokens+now.Sub(b.lastCheck).Seconds()*l.perSec, l.burst)
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// cleanupLoop drops idle operators until done is closed.
func (l *commandLimiter) cleanupLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-done:
			return
		}
	}
}

func (l *commandLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idleOperatorTTL)
	for user, b := range l.operators {
		if b.lastCheck.Before(cutoff) {
			delete(l.operators, user)
		}
	}
}
