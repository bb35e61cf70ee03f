// Package ratelimit throttles backend calls issued by the console, both in
// total and per subsystem.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter applies a global token bucket plus one bucket per subsystem.
// A nil *Limiter or one built with a non-positive rate never throttles.
type Limiter struct {
	global     *rate.Limiter
	subsystems map[string]*rate.Limiter
	mu         sync.RWMutex

	requestsPerSecond float64
	burst             int
}

// New creates a Limiter. requestsPerSecond <= 0 disables throttling.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		global:            rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		subsystems:        make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Allow reports whether a call for subsystem may proceed now.
func (l *Limiter) Allow(subsystem string) bool {
	if l == nil {
		return true
	}
	if !l.global.Allow() {
		return false
	}
	return l.limiter(subsystem).Allow()
}

// Wait blocks until a call for subsystem may proceed.
func (l *Limiter) Wait(ctx context.Context, subsystem string) error {
	if l == nil {
		return nil
	}
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}
	if err := l.limiter(subsystem).Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", subsystem, err)
	}
	return nil
}

// SetLimit overrides the rate of one subsystem.
func (l *Limiter) SetLimit(subsystem string, requestsPerSecond float64, burst int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subsystems[subsystem] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (l *Limiter) limiter(subsystem string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.subsystems[subsystem]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.subsystems[subsystem]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.requestsPerSecond), l.burst)
	l.subsystems[subsystem] = limiter
	return limiter
}
