package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitReason describes why a stream connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleCutoff      = 10 * time.Minute
)

// ConnectionLimits guards the stream endpoints against resource exhaustion:
// a process-wide cap, a per-IP cap, and a per-IP token-bucket rate on new
// connections. Long-lived SSE/WebSocket connections make these necessary
// even without authentication.
type ConnectionLimits struct {
	current   atomic.Int64
	globalMax int64

	mu        sync.Mutex
	perIP     map[string]int
	perIPMax  int
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(globalMax int64, perIPMax int, connectionsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		globalMax: globalMax,
		perIP:     make(map[string]int),
		perIPMax:  perIPMax,
		limiters:  make(map[string]*rateLimiterEntry),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		cleanupAt: time.Now().Add(limiterCleanupInterval),
	}
}

// Acquire attempts to claim a connection slot for the given IP. On failure
// it returns the reason; nothing is held and Release must not be called.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	// Rate limit first: cheapest check, and it throttles reconnect storms
	// before they touch the slot counters.
	if !l.allowRate(ip) {
		return false, LimitReasonRate
	}

	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}

	l.mu.Lock()
	if l.perIP[ip] >= l.perIPMax {
		l.mu.Unlock()
		l.current.Add(-1) // roll back global
		return false, LimitReasonPerIP
	}
	l.perIP[ip]++
	l.mu.Unlock()

	return true, ""
}

// Release returns the slots claimed by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	if count := l.perIP[ip]; count > 0 {
		if count == 1 {
			delete(l.perIP, ip)
		} else {
			l.perIP[ip] = count - 1
		}
	}
	l.mu.Unlock()

	l.current.Add(-1)
}

// Current returns the number of held connection slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) acquireGlobal() bool {
	for {
		current := l.current.Load()
		if current >= l.globalMax {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *ConnectionLimits) allowRate(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		for addr, entry := range l.limiters {
			if entry.lastSeen.Before(now.Add(-limiterIdleCutoff)) {
				delete(l.limiters, addr)
			}
		}
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}
