package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Relay triggers an edge-triggered actuator input. The motor electronics
// latch on the pulse edge, so the coil is only held for the pulse width.
type Relay interface {
	// Pulse asserts the active level, holds it for duration and restores
	// the idle level. Cancelling ctx releases the relay early; the idle
	// level is always restored.
	Pulse(ctx context.Context, duration time.Duration) error

	// Idle forces the output to the idle level without pulsing.
	Idle() error
}

// Wired is a relay behind a single output pin. With Invert set the active
// level is low and the idle level is high, uniformly for both operations.
type Wired struct {
	Pin    SetPin
	Invert bool
}

func (r *Wired) Pulse(ctx context.Context, duration time.Duration) error {
	if err := r.active(); err != nil {
		return err
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		logrus.Debug("wired relay pulse cut short")
	}

	return r.Idle()
}

func (r *Wired) Idle() error {
	if r.Invert {
		return r.Pin.High()
	}
	return r.Pin.Low()
}

func (r *Wired) active() error {
	if r.Invert {
		return r.Pin.Low()
	}
	return r.Pin.High()
}

// Dumb is a relay that only logs, for dry runs without hardware.
type Dumb struct {
	Name string

	pulses int32
}

func (r *Dumb) Pulse(ctx context.Context, duration time.Duration) error {
	atomic.AddInt32(&r.pulses, 1)
	logrus.Warnf("%s: dumb relay pulse (for %s)", r.Name, duration.String())

	select {
	case <-time.After(duration):
		logrus.Warnf("%s: dumb relay released", r.Name)
		return nil
	case <-ctx.Done():
		logrus.Warnf("%s: dumb relay pulse cut short", r.Name)
		return ctx.Err()
	}
}

func (r *Dumb) Idle() error {
	logrus.Debugf("%s: dumb relay idle", r.Name)
	return nil
}

// Pulses returns how many times the relay has been pulsed.
func (r *Dumb) Pulses() int {
	return int(atomic.LoadInt32(&r.pulses))
}

// PoolProxy bounds how many relay coils are energized at once across all
// covers, protecting a shared relay board power supply.
type PoolProxy struct {
	r Relay
	c chan struct{}
}

func NewPoolProxy(r Relay, pool chan struct{}) *PoolProxy {
	return &PoolProxy{r: r, c: pool}
}

func (p *PoolProxy) Pulse(ctx context.Context, duration time.Duration) error {
	p.c <- struct{}{}
	defer func() {
		<-p.c
	}()

	return p.r.Pulse(ctx, duration)
}

func (p *PoolProxy) Idle() error {
	return p.r.Idle()
}
