package backoff

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/matthieugras/pos-client/internal/config"
)

// GlobalBackoff pauses every request of a client after the server signals
// overload (429 or 5xx), growing the pause exponentially until a streak
// of successes resets it.
type GlobalBackoff struct {
	mu              sync.RWMutex
	backoffUntil    time.Time
	currentInterval time.Duration
	successStreak   int
	config          config.BackoffConfig

	// onChange is told when a pause starts (active=true) and ends
	onChange func(active bool, d time.Duration)
	endTimer *time.Timer
}

// successesToReset is how many consecutive successes restore the initial interval
const successesToReset = 3

// New creates a new global backoff coordinator
func New(cfg config.BackoffConfig) *GlobalBackoff {
	return &GlobalBackoff{
		currentInterval: cfg.InitialInterval,
		config:          cfg,
	}
}

// OnChange registers a callback for pause start/end, used by the progress UI
func (g *GlobalBackoff) OnChange(fn func(active bool, d time.Duration)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// WaitIfNeeded blocks while a pause is active
func (g *GlobalBackoff) WaitIfNeeded(ctx context.Context) error {
	if g == nil {
		return nil
	}
	wait := g.Remaining()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReportError starts a pause. retryAfter is the server's Retry-After hint
// (zero if absent); the pause is never shorter than it.
func (g *GlobalBackoff) ReportError(retryAfter time.Duration) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.successStreak = 0

	jitter := time.Duration(rand.Float64() * g.config.RandomizationFactor * float64(g.currentInterval))
	pause := max(g.currentInterval+jitter, retryAfter)

	g.backoffUntil = time.Now().Add(pause)

	// Increase interval for next time (exponential)
	next := time.Duration(float64(g.currentInterval) * g.config.Multiplier)
	if g.config.MaxInterval > 0 {
		next = min(next, g.config.MaxInterval)
	}
	g.currentInterval = next

	if g.onChange == nil {
		return
	}
	g.onChange(true, pause)
	if g.endTimer != nil {
		g.endTimer.Stop()
	}
	cb := g.onChange
	g.endTimer = time.AfterFunc(pause, func() { cb(false, 0) })
}

// ReportSuccess records a successful request
func (g *GlobalBackoff) ReportSuccess() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.successStreak++
	if g.successStreak >= successesToReset {
		g.currentInterval = g.config.InitialInterval
	}
}

// IsBackingOff returns true if a pause is currently active
func (g *GlobalBackoff) IsBackingOff() bool {
	return g.Remaining() > 0
}

// Remaining returns how long the current pause still lasts
func (g *GlobalBackoff) Remaining() time.Duration {
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return max(time.Until(g.backoffUntil), 0)
}

// CurrentInterval returns the base interval of the next pause
func (g *GlobalBackoff) CurrentInterval() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.currentInterval
}
