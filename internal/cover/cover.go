package cover

import (
	"context"
)

const (
	StateOpen    = "open"
	StateClosed  = "closed"
	StateOpening = "opening"
	StateClosing = "closing"
	StateStopped = "stopped"
)

// UpdateHandler receives every state or position change of a cover.
type UpdateHandler func(state string, position int)

// Cover is a motorized cover with a simulated position in [0,100].
// 0 is fully closed, 100 is fully open.
type Cover interface {
	Name() string
	UniqueID() string
	DeviceClass() string

	Position() int
	State() string
	IsClosed() bool
	IsOpening() bool
	IsClosing() bool

	OnUpdate(h UpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error
}

// PositionRestorer is implemented by covers that cannot read their real
// position and accept a last-known one at startup instead.
type PositionRestorer interface {
	Cover

	ResetPosition(position int) error
}
