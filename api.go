// Package reactor is a single-goroutine event loop that merges descriptor
// readiness with deadline callbacks.
//
// A host registers watches (interest in a descriptor becoming readable or
// writable) and timeouts (absolute deadlines), then calls Run. All callbacks
// run synchronously on the goroutine that called Run and may freely create,
// update or remove any watch or timeout, including the one being dispatched.
package reactor

import (
	"time"

	"github.com/legamerdc/reactor/poller"
)

// Interest is a set of readiness directions.
type Interest = poller.Interest

const (
	None     = poller.None
	Readable = poller.Readable
	Writable = poller.Writable
	Both     = poller.Both
)

// WatchFunc is invoked once per ready direction; ev is either Readable or
// Writable, never both.
type WatchFunc func(r *Reactor, w Watch, fd int, ev Interest, ctx any)

// TimeoutFunc is invoked when a timeout expires. The timeout is already
// disarmed; call UpdateTimeout to fire again.
type TimeoutFunc func(r *Reactor, t Timeout, ctx any)

// Watch is an opaque handle to a descriptor registration. The zero value is
// never valid.
type Watch struct {
	slot uint32
	gen  uint32
}

// Valid reports whether w was ever issued. A removed watch still reports
// true; the reactor rejects it with ErrInvalidHandle.
func (w Watch) Valid() bool { return w.gen != 0 }

// Timeout is an opaque handle to a pending deadline.
type Timeout struct {
	t *timeout
}

func (t Timeout) Valid() bool { return t.t != nil }

// EventManager is the capability set handed to a host protocol engine.
type EventManager interface {
	NewWatch(fd int, mask Interest, cb WatchFunc, ctx any) (Watch, error)
	UpdateWatch(w Watch, mask Interest) error
	RemoveWatch(w Watch) error
	NewTimeout(at time.Time, cb TimeoutFunc, ctx any) (Timeout, error)
	UpdateTimeout(t Timeout, at time.Time) error
	RemoveTimeout(t Timeout) error
	Stop()
}

var _ EventManager = (*Reactor)(nil)
