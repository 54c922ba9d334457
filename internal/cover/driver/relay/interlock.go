package relay

import (
	"context"
	"sync"
	"time"
)

// NewInterlock wraps a cover's relays with a shared mutex so no two coils
// of the same motor are ever energized at once. The returned slice is in
// the order of the arguments.
func NewInterlock(relays ...Relay) []Relay {
	l := &sync.Mutex{}

	out := make([]Relay, len(relays))
	for i, r := range relays {
		out[i] = &interlocked{l: l, r: r}
	}
	return out
}

type interlocked struct {
	l *sync.Mutex
	r Relay
}

func (r *interlocked) Pulse(ctx context.Context, duration time.Duration) error {
	r.l.Lock()
	defer r.l.Unlock()

	return r.r.Pulse(ctx, duration)
}

func (r *interlocked) Idle() error {
	return r.r.Idle()
}
