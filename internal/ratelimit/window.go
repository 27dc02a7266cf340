// Package ratelimit implements sliding-window admission control for outbound
// provider requests. Unlike a token bucket, the window guarantees the
// trailing-interval count never exceeds the ceiling at the moment a request
// is admitted.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config controls the window limiter.
type Config struct {
	// MaxRequests is the admission ceiling within any trailing Window.
	// Default: 50.
	MaxRequests int

	// Window is the trailing interval the ceiling applies to. Default: 1m.
	Window time.Duration

	// Slack pads each computed wait so the oldest timestamp has actually
	// left the window by the time the sleeper wakes. Default: 50ms.
	Slack time.Duration
}

// Window admits requests only while the trailing-interval count stays at or
// below the ceiling. Safe for concurrent admission from many in-flight
// batches.
type Window struct {
	cfg Config

	mu     sync.Mutex
	stamps []time.Time

	// nowFunc and sleepFunc allow test injection of time.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a sliding-window limiter.
func New(cfg Config) *Window {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Slack <= 0 {
		cfg.Slack = 50 * time.Millisecond
	}
	return &Window{
		cfg:       cfg,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Admit blocks until recording one more request keeps the trailing count at
// or below the ceiling, then records it. The wait is sized off the oldest
// in-window timestamp and re-checked after waking, since concurrent
// admissions interleave. Returns early only when ctx is done.
func (w *Window) Admit(ctx context.Context) error {
	for {
		wait, ok := w.tryAdmit()
		if ok {
			return nil
		}

		zap.L().Debug("ratelimit: window full, waiting",
			zap.Duration("wait", wait),
			zap.Int("ceiling", w.cfg.MaxRequests),
		)
		if err := w.sleepFunc(ctx, wait); err != nil {
			return eris.Wrap(err, "ratelimit: admission wait")
		}
	}
}

// Count reports the in-window request count after pruning.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFunc())
	return len(w.stamps)
}

// tryAdmit prunes stale timestamps, then either records now and admits, or
// reports how long to wait for the oldest in-window timestamp to age out.
// One mutex covers the check and the record, so interleaved admissions can
// never push the count past the ceiling.
func (w *Window) tryAdmit() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFunc()
	w.prune(now)

	if len(w.stamps) < w.cfg.MaxRequests {
		w.stamps = append(w.stamps, now)
		return 0, true
	}

	wait := w.cfg.Window - now.Sub(w.stamps[0]) + w.cfg.Slack
	if wait < w.cfg.Slack {
		wait = w.cfg.Slack
	}
	return wait, false
}

// prune drops timestamps older than the window. Stamps are appended in time
// order, so the stale prefix is contiguous.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.cfg.Window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
