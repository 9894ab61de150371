package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// CycleFunc runs one poll cycle. Errors are logged and the poller keeps going.
type CycleFunc func(ctx context.Context) error

// Poller invokes a cycle function at a fixed interval. A tick that
// arrives while a cycle is still running is skipped, so cycles never
// overlap.
type Poller struct {
	interval time.Duration
	cycle    CycleFunc

	// ticks overrides the interval ticker when set. Tests feed it
	// directly to drive cycles without waiting on wall-clock time.
	ticks <-chan time.Time
}

func NewPoller(interval time.Duration, cycle CycleFunc) *Poller {
	return &Poller{interval: interval, cycle: cycle}
}

// NewManualPoller builds a poller driven by an external tick channel
// instead of a timer.
func NewManualPoller(ticks <-chan time.Time, cycle CycleFunc) *Poller {
	return &Poller{ticks: ticks, cycle: cycle}
}

// Run blocks until ctx is cancelled. The first cycle fires immediately;
// an in-flight cycle is allowed to finish before Run returns.
func (p *Poller) Run(ctx context.Context) {
	ticks := p.ticks
	if ticks == nil {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := p.cycle(ctx)
	if err == nil {
		return
	}
	// A cycle cut short by shutdown is a clean stop, not a failure.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Debug().Dur("elapsed", time.Since(start)).Msg("poll cycle interrupted by shutdown")
		return
	}
	log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("poll cycle failed")
}
