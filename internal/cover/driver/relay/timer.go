package relay

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// MotionTimer counts down a fixed number of ticks at a fixed interval,
// reporting the remaining tick count after each one. A cover owns at most
// one at a time; a new motion cancels and replaces the previous timer.
//
// Cancellation is a token checked before every delivery. A tick racing
// with Cancel is discarded by the owner, which compares timer handles
// under its own lock before applying a tick.
type MotionTimer struct {
	clock    clock.Clock
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMotionTimer(parent context.Context, clk clock.Clock, interval time.Duration) *MotionTimer {
	ctx, cancel := context.WithCancel(parent)
	return &MotionTimer{clock: clk, interval: interval, ctx: ctx, cancel: cancel}
}

// Start runs the countdown on the calling goroutine. onTick fires with
// totalTicks-1 down to 0, one interval apart. totalTicks <= 0 fires
// onTick(0) immediately without scheduling anything.
func (t *MotionTimer) Start(totalTicks int, onTick func(remaining int)) {
	if totalTicks <= 0 {
		if t.ctx.Err() == nil {
			onTick(0)
		}
		return
	}

	ticker := t.clock.Ticker(t.interval)
	defer ticker.Stop()

	for remaining := totalTicks - 1; remaining >= 0; remaining-- {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}
		if t.ctx.Err() != nil {
			return
		}
		onTick(remaining)
	}
}

// Cancel stops the countdown. Idempotent.
func (t *MotionTimer) Cancel() {
	t.cancel()
}

// Context expires when the timer is cancelled. The owning cover passes it
// to the relay pulse preceding the countdown so a stop aborts both.
func (t *MotionTimer) Context() context.Context {
	return t.ctx
}
