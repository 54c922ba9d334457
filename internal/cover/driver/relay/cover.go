package relay

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vvchens/ha-opi-gpio/internal/cover"
)

const (
	DefaultRelayPulse        = time.Second
	DefaultIntermediatePulse = 5 * time.Second
	DefaultTravel            = 5 * time.Second
)

// Config describes one relay-driven cover.
type Config struct {
	Name        string
	UniqueID    string
	DeviceClass string

	// Full-travel durations. Zero means the travel is instantaneous.
	OpenDuration  time.Duration
	CloseDuration time.Duration

	// RelayPulse is how long a relay coil is held per trigger.
	RelayPulse time.Duration

	// IntermediateMode reuses the stop relay with a longer pulse to open
	// covers that have no dedicated open relay.
	IntermediateMode  bool
	IntermediatePulse time.Duration
}

// Cover drives a motorized cover through open/close/stop relays and
// simulates its position over time, since the hardware reports nothing
// back. All commands and timer ticks serialize on one mutex; the active
// timer handle is part of that critical section, so a stopped or
// superseded motion can never apply a stale tick.
type Cover struct {
	cfg Config

	rOpen  Relay
	rClose Relay
	rStop  Relay

	clock        clock.Clock
	tickInterval time.Duration

	mu            sync.Mutex
	currentState  string
	position      int
	timer         *MotionTimer
	updateHandler cover.UpdateHandler
}

type motion struct {
	start    int
	target   int
	total    int
	needStop bool
}

// NewCover validates the config, drives all relays to their idle level and
// returns a cover in the closed state. Restore a persisted position with
// ResetPosition before issuing commands.
func NewCover(cfg Config, open, close, stop Relay) (*Cover, error) {
	if cfg.Name == "" {
		return nil, errors.New("cover name is required")
	}
	if open == nil || close == nil || stop == nil {
		return nil, errors.Errorf("%s: all three relays are required", cfg.Name)
	}
	if cfg.OpenDuration < 0 || cfg.CloseDuration < 0 {
		return nil, errors.Errorf("%s: travel durations must not be negative", cfg.Name)
	}
	if cfg.RelayPulse <= 0 {
		cfg.RelayPulse = DefaultRelayPulse
	}
	if cfg.IntermediatePulse <= 0 {
		cfg.IntermediatePulse = DefaultIntermediatePulse
	}

	c := &Cover{
		cfg:          cfg,
		rOpen:        open,
		rClose:       close,
		rStop:        stop,
		clock:        clock.New(),
		tickInterval: time.Second,
		currentState: cover.StateClosed,
	}

	// No relay may be asserted at boot, whatever the previous process did.
	for _, r := range []Relay{open, close, stop} {
		if err := r.Idle(); err != nil {
			logrus.Errorf("%s: relay idle init failed: %s", cfg.Name, err)
		}
	}

	return c, nil
}

func (c *Cover) Name() string        { return c.cfg.Name }
func (c *Cover) UniqueID() string    { return c.cfg.UniqueID }
func (c *Cover) DeviceClass() string { return c.cfg.DeviceClass }

func (c *Cover) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Cover) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState
}

func (c *Cover) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState == cover.StateClosed
}

func (c *Cover) IsOpening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState == cover.StateOpening
}

func (c *Cover) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState == cover.StateClosing
}

func (c *Cover) OnUpdate(h cover.UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateHandler = h
}

// ResetPosition seeds the simulated position from persisted state.
func (c *Cover) ResetPosition(position int) error {
	if position < 0 || position > 100 {
		return errors.Errorf("%s: %d is out of position range 0..100", c.cfg.Name, position)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = position
	c.currentState = stateAt(position)
	logrus.Infof("%s: position restored to %d", c.cfg.Name, position)
	return nil
}

// Open runs the cover to fully open. Only valid from the closed state;
// a cover that is moving or partially open ignores it, partial positions
// are reached with SetPosition instead.
func (c *Cover) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logrus.Infof("%s: open", c.cfg.Name)
	if c.currentState != cover.StateClosed {
		logrus.Debugf("%s: not closed, open ignored", c.cfg.Name)
		return nil
	}

	c.currentState = cover.StateOpening
	r, pulse := c.rOpen, c.cfg.RelayPulse
	if c.cfg.IntermediateMode {
		r, pulse = c.rStop, c.cfg.IntermediatePulse
	}

	c.beginMotion(ctx, r, pulse, motion{
		start:  c.position,
		target: 100,
		total:  TicksForDelta(100-c.position, c.cfg.OpenDuration),
	})
	return nil
}

// Close runs the cover to fully closed. No-op when already closed.
func (c *Cover) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logrus.Infof("%s: close", c.cfg.Name)
	if c.currentState == cover.StateClosed {
		logrus.Debugf("%s: already closed, close ignored", c.cfg.Name)
		return nil
	}

	c.currentState = cover.StateClosing
	c.beginMotion(ctx, c.rClose, c.cfg.RelayPulse, motion{
		start:  c.position,
		target: 0,
		total:  TicksForDelta(c.position, c.cfg.CloseDuration),
	})
	return nil
}

// Stop always pulses the stop relay, cancels any active motion and
// freezes the position at its current estimate.
func (c *Cover) Stop(ctx context.Context) error {
	c.mu.Lock()
	logrus.Infof("%s: stop", c.cfg.Name)
	if c.timer != nil {
		c.timer.Cancel()
		c.timer = nil
	}
	c.currentState = stateAt(c.position)
	c.notifyLocked()
	c.mu.Unlock()

	if err := c.rStop.Pulse(ctx, c.cfg.RelayPulse); err != nil && err != context.Canceled {
		logrus.Errorf("%s: stop relay pulse failed: %s", c.cfg.Name, err)
	}
	return nil
}

// SetPosition moves the cover to target percent, superseding any motion
// in flight. The stop relay is pulsed on arrival so the motor is never
// left energized past a target with no mechanical end-stop.
func (c *Cover) SetPosition(ctx context.Context, target int) error {
	if target < 0 || target > 100 {
		return errors.Errorf("%s: %d is out of position range 0..100", c.cfg.Name, target)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logrus.Infof("%s: set position to %d", c.cfg.Name, target)
	if target == c.position {
		logrus.Debugf("%s: already on position %d", c.cfg.Name, target)
		return nil
	}

	var r Relay
	var pulse time.Duration
	var total int
	if target > c.position {
		c.currentState = cover.StateOpening
		r, pulse = c.rOpen, c.cfg.RelayPulse
		if c.cfg.IntermediateMode {
			r, pulse = c.rStop, c.cfg.IntermediatePulse
		}
		total = TicksForDelta(target-c.position, c.cfg.OpenDuration)
	} else {
		c.currentState = cover.StateClosing
		r, pulse = c.rClose, c.cfg.RelayPulse
		total = TicksForDelta(c.position-target, c.cfg.CloseDuration)
	}

	c.beginMotion(ctx, r, pulse, motion{
		start:    c.position,
		target:   target,
		total:    total,
		needStop: true,
	})
	return nil
}

// beginMotion supersedes the active timer and launches the pulse-then-
// countdown goroutine. Callers hold c.mu.
func (c *Cover) beginMotion(ctx context.Context, r Relay, pulse time.Duration, m motion) {
	if c.timer != nil {
		logrus.Debugf("%s: superseding active motion", c.cfg.Name)
		c.timer.Cancel()
	}

	t := NewMotionTimer(ctx, c.clock, c.tickInterval)
	c.timer = t
	c.notifyLocked()

	go func() {
		// releases the child context on normal completion too
		defer t.Cancel()

		// The pulse must finish before travel time starts counting, so
		// actuation latency never eats into the simulated travel.
		if err := r.Pulse(t.Context(), pulse); err != nil && err != context.Canceled {
			logrus.Errorf("%s: relay pulse failed: %s", c.cfg.Name, err)
		}
		if t.Context().Err() != nil {
			return
		}

		logrus.Debugf("%s: move from %d to %d over %d ticks", c.cfg.Name, m.start, m.target, m.total)
		t.Start(m.total, func(remaining int) {
			c.onTick(ctx, t, m, remaining)
		})
	}()
}

func (c *Cover) onTick(ctx context.Context, t *MotionTimer, m motion, remaining int) {
	c.mu.Lock()
	if c.timer != t {
		// Stopped or superseded while this tick was in flight.
		c.mu.Unlock()
		return
	}

	elapsed := m.total - remaining
	c.position = PositionBetween(m.start, m.target, elapsed, m.total)

	final := remaining == 0
	if final {
		c.position = m.target
		c.currentState = stateAt(c.position)
		c.timer = nil
		logrus.Infof("%s: motion done, state %s, position %d", c.cfg.Name, c.currentState, c.position)
	}
	c.notifyLocked()
	c.mu.Unlock()

	if final && m.needStop {
		if err := c.Stop(ctx); err != nil {
			logrus.Errorf("%s: stop after move failed: %s", c.cfg.Name, err)
		}
	}
}

func (c *Cover) notifyLocked() {
	if c.updateHandler != nil {
		c.updateHandler(c.currentState, c.position)
	}
}

func stateAt(position int) string {
	switch position {
	case 0:
		return cover.StateClosed
	case 100:
		return cover.StateOpen
	default:
		return cover.StateStopped
	}
}
