// Package ratelimit paces page fetches so a survey never hammers the site
// it is sampling.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter applies a global rate plus one limiter per host. A nil *Limiter
// never blocks.
type Limiter struct {
	mu           sync.RWMutex
	global       *rate.Limiter
	perHost      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter. A non-positive rate disables limiting and
// returns nil.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		global:       rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		perHost:      make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
	}
}

// WaitURL blocks until both the global limiter and the limiter for rawURL's
// host admit a request.
func (l *Limiter) WaitURL(ctx context.Context, rawURL string) error {
	if l == nil {
		return ctx.Err()
	}
	if err := l.global.Wait(ctx); err != nil {
		return err
	}
	return l.hostLimiter(hostOf(rawURL)).Wait(ctx)
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	hl, ok := l.perHost[host]
	l.mu.RUnlock()
	if ok {
		return hl
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if hl, ok = l.perHost[host]; !ok {
		hl = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.perHost[host] = hl
	}
	return hl
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}

// SetRate updates the global and every per-host rate.
func (l *Limiter) SetRate(requestsPerSecond float64) {
	if l == nil {
		return
	}
	limit := rate.Limit(requestsPerSecond)
	l.global.SetLimit(limit)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaultRate = limit
	for _, hl := range l.perHost {
		hl.SetLimit(limit)
	}
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	if l == nil {
		return LimiterStats{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LimiterStats{
		HostCount: len(l.perHost),
		Rate:      float64(l.global.Limit()),
		Burst:     l.defaultBurst,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	HostCount int     `json:"host_count"`
	Rate      float64 `json:"rate"`
	Burst     int     `json:"burst"`
}

// AdaptiveLimiter slows down when the site starts answering with 429 or 5xx
// and creeps back toward the configured rate once it recovers.
type AdaptiveLimiter struct {
	*Limiter
	mu           sync.Mutex
	minRate      float64
	maxRate      float64
	currentRate  float64
	errorCount   int
	successCount int
	windowSize   int
}

// NewAdaptiveLimiter creates an adaptive limiter starting at maxRate. It
// returns nil when maxRate disables limiting.
func NewAdaptiveLimiter(minRate, maxRate float64, burst, windowSize int) *AdaptiveLimiter {
	base := NewLimiter(maxRate, burst)
	if base == nil {
		return nil
	}
	if minRate <= 0 || minRate > maxRate {
		minRate = maxRate / 10
	}
	if windowSize < 1 {
		windowSize = 20
	}
	return &AdaptiveLimiter{
		Limiter:     base,
		minRate:     minRate,
		maxRate:     maxRate,
		currentRate: maxRate,
		windowSize:  windowSize,
	}
}

// RecordSuccess records a request the site served normally.
func (a *AdaptiveLimiter) RecordSuccess() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successCount++
	a.adjust()
}

// RecordThrottle records a 429 or 5xx answer.
func (a *AdaptiveLimiter) RecordThrottle() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorCount++
	a.adjust()
}

func (a *AdaptiveLimiter) adjust() {
	total := a.successCount + a.errorCount
	if total < a.windowSize {
		return
	}

	errorRate := float64(a.errorCount) / float64(total)
	switch {
	case errorRate > 0.1:
		a.currentRate *= 0.5
		if a.currentRate < a.minRate {
			a.currentRate = a.minRate
		}
	case errorRate < 0.01:
		a.currentRate *= 1.25
		if a.currentRate > a.maxRate {
			a.currentRate = a.maxRate
		}
	}
	a.SetRate(a.currentRate)

	a.successCount = 0
	a.errorCount = 0
}

// CurrentRate returns the current rate.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// WaitURL is nil-safe on the adaptive wrapper as well.
func (a *AdaptiveLimiter) WaitURL(ctx context.Context, rawURL string) error {
	if a == nil {
		return ctx.Err()
	}
	return a.Limiter.WaitURL(ctx, rawURL)
}
