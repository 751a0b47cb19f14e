// Package replay rejects stale and repeated command payloads.
//
// A payload is fresh when its timestamp lies within Tolerance of the host
// clock, and unique when its nonce has not been accepted during the last
// Retention. Retention must cover twice the tolerance: a timestamp may be up
// to Tolerance ahead or behind, so a captured payload stays fresh for that
// whole span after it was first seen.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/handset/host/internal/envelope"
	apperrors "github.com/handset/host/internal/errors"
	"github.com/handset/host/internal/logging"
)

// Defaults for Config.
const (
	DefaultTolerance     = 60 * time.Second
	DefaultRetention     = 120 * time.Second
	DefaultSweepInterval = 10 * time.Second
)

// Config holds configuration for a Guard.
type Config struct {
	// Tolerance is the largest accepted distance between payload timestamp and now.
	// Default: 60 seconds.
	Tolerance time.Duration

	// Retention is how long an accepted nonce is remembered.
	// Default: 2 × Tolerance.
	Retention time.Duration

	// SweepInterval throttles the opportunistic sweep done inside Validate.
	// Default: 10 seconds.
	SweepInterval time.Duration

	// Store holds accepted nonces. Shared by every transport.
	// Default: a new MemoryStore.
	Store NonceStore

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Guard admits each fresh nonce once. It is safe for concurrent use.
type Guard struct {
	config Config

	mu        sync.Mutex
	lastSweep time.Time
}

// NewGuard creates a Guard, applying defaults to zero fields.
func NewGuard(config Config) (*Guard, error) {
	if config.Tolerance == 0 {
		config.Tolerance = DefaultTolerance
	}
	if config.Retention == 0 {
		config.Retention = 2 * config.Tolerance
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	if config.Tolerance < 0 || config.SweepInterval < 0 {
		return nil, apperrors.InvalidConfig("replay", "durations must be positive")
	}
	if config.Retention < 2*config.Tolerance {
		return nil, apperrors.InvalidConfig("replay_retention_ms",
			fmt.Sprintf("(%s) must be at least twice the tolerance (%s)", config.Retention, config.Tolerance))
	}

	return &Guard{
		config:    config,
		lastSweep: config.TimeNow(),
	}, nil
}

// Validate admits p or fails with replay.expired or replay.duplicate.
// On success the nonce is recorded and any later payload carrying it is
// rejected until the record is swept.
func (g *Guard) Validate(p *envelope.Payload) error {
	now := g.config.TimeNow()
	g.maybeSweep(now)

	if p.Timestamp <= 0 {
		return apperrors.Expired("payload has no timestamp")
	}
	// Compare in milliseconds; Duration arithmetic saturates for far-future values.
	nowMs := now.UnixMilli()
	tolMs := g.config.Tolerance.Milliseconds()
	if p.Timestamp > nowMs+tolMs || p.Timestamp < nowMs-tolMs {
		return apperrors.Expired(fmt.Sprintf("timestamp is outside ±%s of host time", g.config.Tolerance))
	}

	if !g.config.Store.Insert(Record{Nonce: p.Nonce, FirstSeenAt: now, Timestamp: p.Timestamp}) {
		return apperrors.Duplicate()
	}
	return nil
}

// Sweep removes records older than the retention window and returns how many.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	g.lastSweep = now
	g.mu.Unlock()

	return g.config.Store.DeleteBefore(now.Add(-g.config.Retention))
}

// Run sweeps every SweepInterval until ctx is done.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(g.config.TimeNow()); n > 0 {
				logging.Infof("replay: swept %d nonces (%d retained)", n, g.config.Store.Len())
			}
		}
	}
}

// Len returns the number of remembered nonces.
func (g *Guard) Len() int {
	return g.config.Store.Len()
}

// Tolerance returns the configured freshness tolerance.
func (g *Guard) Tolerance() time.Duration {
	return g.config.Tolerance
}

func (g *Guard) maybeSweep(now time.Time) {
	g.mu.Lock()
	due := now.Sub(g.lastSweep) >= g.config.SweepInterval
	if due {
		g.lastSweep = now
	}
	g.mu.Unlock()

	if due {
		g.config.Store.DeleteBefore(now.Add(-g.config.Retention))
	}
}
