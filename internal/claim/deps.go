package claim

import (
	"context"
	"time"
)

// Resolver maps a human readable name within a namespace to an address.
// It returns an error wrapping ErrNotFound when nothing is bound.
type Resolver interface {
	Resolve(ctx context.Context, name, namespace string) (string, error)
}

// FeeOracle reports whether current network fees allow a payout.
type FeeOracle interface {
	FeeAcceptable(ctx context.Context) (bool, error)
}

// Sender broadcasts a value transfer and returns its identifier.
type Sender interface {
	Send(ctx context.Context, address string, amount uint64) (string, error)
}

// Clock returns the current Unix time in seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 { return f() }

// Deps are the external collaborators of a Service.
type Deps struct {
	Resolver  Resolver
	FeeOracle FeeOracle
	Sender    Sender
	Clock     Clock // nil means SystemClock

	// AuditErrorHandler observes audit writes that failed. It never
	// influences the claim result.
	AuditErrorHandler func(error)
}
