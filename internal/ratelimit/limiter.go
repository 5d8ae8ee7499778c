// Package ratelimit implements client-keyed token bucket rate limiting for
// the API route classes.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Route classes with independent budgets. Analysis kickoff is the expensive
// path and gets the strictest budget; validation is cheap and permissive.
const (
	ClassAnalysis   = "analysis"
	ClassValidation = "validation"
	ClassExport     = "export"
)

// ClassConfig holds the budget for one route class.
type ClassConfig struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration per route class.
type Config struct {
	Analysis   ClassConfig
	Validation ClassConfig
	Export     ClassConfig
}

// Decision is the outcome of a rate limit check, carrying everything the
// HTTP boundary needs for the X-RateLimit-* headers and the 429 body.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages per-class, per-client token buckets. Safe for concurrent
// use from many simultaneous requests.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clients map[string]*clientLimiter
}

const pruneAfter = 10 * time.Minute

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientLimiter),
	}
}

// Check consumes one token for the client in the given class and reports
// the decision. Unknown classes are never limited.
func (l *Limiter) Check(class, clientKey string) Decision {
	classCfg, ok := l.classConfig(class)
	if !ok || classCfg.RPS <= 0 {
		return Decision{Allowed: true, Limit: 0, Remaining: 0}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	key := class + "|" + clientKey
	cl, exists := l.clients[key]
	if !exists {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(classCfg.RPS), classCfg.Burst),
		}
		l.clients[key] = cl
		l.pruneLocked(now)
	}
	cl.lastSeen = now

	reservation := cl.limiter.Reserve()
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return Decision{
			Allowed:    false,
			Limit:      classCfg.Burst,
			Remaining:  0,
			Reset:      now.Add(delay),
			RetryAfter: delay,
		}
	}

	remaining := int(math.Floor(cl.limiter.Tokens()))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     classCfg.Burst,
		Remaining: remaining,
		Reset:     now.Add(time.Duration(float64(time.Second) / classCfg.RPS)),
	}
}

func (l *Limiter) classConfig(class string) (ClassConfig, bool) {
	switch class {
	case ClassAnalysis:
		return l.cfg.Analysis, true
	case ClassValidation:
		return l.cfg.Validation, true
	case ClassExport:
		return l.cfg.Export, true
	default:
		return ClassConfig{}, false
	}
}

// pruneLocked drops buckets idle long enough to be full again.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, cl := range l.clients {
		if now.Sub(cl.lastSeen) > pruneAfter {
			delete(l.clients, key)
		}
	}
}
