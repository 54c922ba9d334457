package relay

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvchens/ha-opi-gpio/internal/cover"
)

type update struct {
	state    string
	position int
}

type coverFixture struct {
	c       *Cover
	open    *Dumb
	close   *Dumb
	stop    *Dumb
	clk     *clock.Mock
	updates chan update
}

func newCoverFixture(t *testing.T, cfg Config) *coverFixture {
	t.Helper()

	f := &coverFixture{
		open:    &Dumb{Name: "open"},
		close:   &Dumb{Name: "close"},
		stop:    &Dumb{Name: "stop"},
		clk:     clock.NewMock(),
		updates: make(chan update, 64),
	}

	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.RelayPulse == 0 {
		cfg.RelayPulse = time.Millisecond
	}

	c, err := NewCover(cfg, f.open, f.close, f.stop)
	require.NoError(t, err)

	c.clock = f.clk
	c.OnUpdate(func(state string, position int) {
		f.updates <- update{state, position}
	})

	f.c = c
	return f
}

func (f *coverFixture) waitUpdate(t *testing.T) update {
	t.Helper()
	select {
	case u := <-f.updates:
		return u
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
		return update{}
	}
}

func (f *coverFixture) assertNoUpdate(t *testing.T) {
	t.Helper()
	select {
	case u := <-f.updates:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

// settle waits for the relay pulse to finish and the countdown ticker to
// register on the mock clock.
func (f *coverFixture) settle() {
	time.Sleep(20 * time.Millisecond)
}

func TestCoverOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("full open ends at 100", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Open(ctx))
		assert.Equal(t, update{cover.StateOpening, 0}, f.waitUpdate(t))
		assert.True(t, f.c.IsOpening())
		f.settle()

		for _, want := range []update{
			{cover.StateOpening, 20},
			{cover.StateOpening, 40},
			{cover.StateOpening, 60},
			{cover.StateOpening, 80},
			{cover.StateOpen, 100},
		} {
			f.clk.Add(time.Second)
			assert.Equal(t, want, f.waitUpdate(t))
		}

		assert.Equal(t, 100, f.c.Position())
		assert.Equal(t, cover.StateOpen, f.c.State())
		assert.Equal(t, 1, f.open.Pulses())
		assert.Equal(t, 0, f.stop.Pulses())
	})

	t.Run("open while already opening does not re-pulse or restart", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Open(ctx))
		assert.Equal(t, update{cover.StateOpening, 0}, f.waitUpdate(t))

		// position is still 0, no tick has elapsed yet
		require.NoError(t, f.c.Open(ctx))
		f.assertNoUpdate(t)
		assert.Equal(t, 1, f.open.Pulses())
		f.settle()

		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateOpening, 20}, f.waitUpdate(t))
	})

	t.Run("completed motion releases its timer context", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 2 * time.Second, CloseDuration: 2 * time.Second})

		require.NoError(t, f.c.Open(ctx))
		f.waitUpdate(t)

		f.c.mu.Lock()
		tm := f.c.timer
		f.c.mu.Unlock()
		require.NotNil(t, tm)

		f.settle()
		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateOpening, 50}, f.waitUpdate(t))
		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateOpen, 100}, f.waitUpdate(t))

		assert.Eventually(t, func() bool {
			return tm.Context().Err() != nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("open when not fully closed is a no-op", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})
		require.NoError(t, f.c.ResetPosition(40))

		require.NoError(t, f.c.Open(ctx))
		f.assertNoUpdate(t)
		assert.Equal(t, 40, f.c.Position())
		assert.Equal(t, 0, f.open.Pulses())
	})

	t.Run("zero duration opens instantly without a tick", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 0, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Open(ctx))
		assert.Equal(t, update{cover.StateOpening, 0}, f.waitUpdate(t))
		assert.Equal(t, update{cover.StateOpen, 100}, f.waitUpdate(t))
		assert.Equal(t, 100, f.c.Position())
	})

	t.Run("intermediate mode substitutes the stop relay", func(t *testing.T) {
		f := newCoverFixture(t, Config{
			OpenDuration:      0,
			CloseDuration:     5 * time.Second,
			IntermediateMode:  true,
			IntermediatePulse: time.Millisecond,
		})

		require.NoError(t, f.c.Open(ctx))
		assert.Equal(t, update{cover.StateOpening, 0}, f.waitUpdate(t))
		assert.Equal(t, update{cover.StateOpen, 100}, f.waitUpdate(t))
		assert.Equal(t, 0, f.open.Pulses())
		assert.Equal(t, 1, f.stop.Pulses())
	})
}

func TestCoverClose(t *testing.T) {
	ctx := context.Background()

	t.Run("close from open reads 60 after 2s of 5s travel and ends closed", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})
		require.NoError(t, f.c.ResetPosition(100))

		require.NoError(t, f.c.Close(ctx))
		assert.Equal(t, update{cover.StateClosing, 100}, f.waitUpdate(t))
		assert.True(t, f.c.IsClosing())
		f.settle()

		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateClosing, 80}, f.waitUpdate(t))
		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateClosing, 60}, f.waitUpdate(t))

		for i := 0; i < 3; i++ {
			f.clk.Add(time.Second)
			f.waitUpdate(t)
		}

		assert.Equal(t, 0, f.c.Position())
		assert.True(t, f.c.IsClosed())
		assert.Equal(t, 1, f.close.Pulses())
	})

	t.Run("close when already closed is a no-op", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Close(ctx))
		f.assertNoUpdate(t)
		assert.Equal(t, 0, f.close.Pulses())
	})
}

func TestCoverStop(t *testing.T) {
	ctx := context.Background()

	t.Run("stop mid-motion freezes the position", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Open(ctx))
		f.waitUpdate(t)
		f.settle()

		f.clk.Add(time.Second)
		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateOpening, 20}, f.waitUpdate(t))
		assert.Equal(t, update{cover.StateOpening, 40}, f.waitUpdate(t))

		require.NoError(t, f.c.Stop(ctx))
		assert.Equal(t, update{cover.StateStopped, 40}, f.waitUpdate(t))
		assert.Equal(t, 1, f.stop.Pulses())

		f.clk.Add(5 * time.Second)
		f.assertNoUpdate(t)
		assert.Equal(t, 40, f.c.Position())
		assert.Equal(t, cover.StateStopped, f.c.State())
	})

	t.Run("stop with no motion still pulses the stop relay", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Stop(ctx))
		assert.Equal(t, update{cover.StateClosed, 0}, f.waitUpdate(t))
		assert.Equal(t, 1, f.stop.Pulses())
	})

	t.Run("a completion tick in flight never overrides stop", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Open(ctx))
		f.waitUpdate(t)
		f.settle()

		for i := 0; i < 4; i++ {
			f.clk.Add(time.Second)
			f.waitUpdate(t)
		}
		require.Equal(t, 80, f.c.Position())

		require.NoError(t, f.c.Stop(ctx))
		assert.Equal(t, update{cover.StateStopped, 80}, f.waitUpdate(t))

		// the would-be final tick must be discarded
		f.clk.Add(time.Second)
		f.assertNoUpdate(t)
		assert.Equal(t, 80, f.c.Position())
		assert.Equal(t, cover.StateStopped, f.c.State())
	})

	t.Run("stop racing completion keeps the position consistent", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})
		f.c.clock = clock.New()
		f.c.tickInterval = 2 * time.Millisecond

		require.NoError(t, f.c.Open(ctx))
		time.Sleep(9 * time.Millisecond)
		require.NoError(t, f.c.Stop(ctx))

		pos := f.c.Position()
		assert.GreaterOrEqual(t, pos, 0)
		assert.LessOrEqual(t, pos, 100)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, pos, f.c.Position(), "position changed after stop")
	})
}

func TestCoverSetPosition(t *testing.T) {
	ctx := context.Background()

	t.Run("partial move lands on target and pulses stop", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.SetPosition(ctx, 60))
		assert.Equal(t, update{cover.StateOpening, 0}, f.waitUpdate(t))
		f.settle()

		for _, want := range []update{
			{cover.StateOpening, 19},
			{cover.StateOpening, 39},
			{cover.StateStopped, 60},
		} {
			f.clk.Add(time.Second)
			assert.Equal(t, want, f.waitUpdate(t))
		}

		// the follow-up stop de-energizes the drive
		assert.Equal(t, update{cover.StateStopped, 60}, f.waitUpdate(t))
		assert.Equal(t, 1, f.stop.Pulses())
		assert.Equal(t, 60, f.c.Position())
	})

	t.Run("target equal to current position is a no-op", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})
		require.NoError(t, f.c.ResetPosition(30))

		require.NoError(t, f.c.SetPosition(ctx, 30))
		f.assertNoUpdate(t)
		assert.Equal(t, 0, f.open.Pulses())
		assert.Equal(t, 0, f.close.Pulses())
	})

	t.Run("out-of-range target is rejected without state change", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		assert.Error(t, f.c.SetPosition(ctx, 101))
		assert.Error(t, f.c.SetPosition(ctx, -1))
		assert.Equal(t, 0, f.c.Position())
		assert.Equal(t, cover.StateClosed, f.c.State())
	})

	t.Run("a new target supersedes the motion in flight", func(t *testing.T) {
		f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

		require.NoError(t, f.c.Open(ctx))
		f.waitUpdate(t)
		f.settle()

		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateOpening, 20}, f.waitUpdate(t))

		require.NoError(t, f.c.SetPosition(ctx, 10))
		assert.Equal(t, update{cover.StateClosing, 20}, f.waitUpdate(t))
		f.settle()

		f.clk.Add(time.Second)
		assert.Equal(t, update{cover.StateStopped, 10}, f.waitUpdate(t))
		assert.Equal(t, update{cover.StateStopped, 10}, f.waitUpdate(t)) // follow-up stop

		f.clk.Add(5 * time.Second)
		f.assertNoUpdate(t)
		assert.Equal(t, 10, f.c.Position())
	})
}

func TestNewCover(t *testing.T) {
	t.Run("drives every relay to idle", func(t *testing.T) {
		pins := []*FakePin{{}, {}, {}}
		_, err := NewCover(Config{Name: "boot"},
			&Wired{Pin: pins[0]},
			&Wired{Pin: pins[1]},
			&Wired{Pin: pins[2], Invert: true},
		)
		require.NoError(t, err)

		assert.Equal(t, 0, pins[0].Last())
		assert.Equal(t, 0, pins[1].Last())
		assert.Equal(t, 1, pins[2].Last())
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		_, err := NewCover(Config{}, &Dumb{}, &Dumb{}, &Dumb{})
		assert.Error(t, err)

		_, err = NewCover(Config{Name: "x"}, nil, &Dumb{}, &Dumb{})
		assert.Error(t, err)

		_, err = NewCover(Config{Name: "x", OpenDuration: -time.Second}, &Dumb{}, &Dumb{}, &Dumb{})
		assert.Error(t, err)
	})
}

func TestCoverResetPosition(t *testing.T) {
	f := newCoverFixture(t, Config{OpenDuration: 5 * time.Second, CloseDuration: 5 * time.Second})

	require.NoError(t, f.c.ResetPosition(100))
	assert.Equal(t, cover.StateOpen, f.c.State())

	require.NoError(t, f.c.ResetPosition(55))
	assert.Equal(t, cover.StateStopped, f.c.State())

	require.NoError(t, f.c.ResetPosition(0))
	assert.True(t, f.c.IsClosed())

	assert.Error(t, f.c.ResetPosition(180))
}
