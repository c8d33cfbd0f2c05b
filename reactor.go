package reactor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/legamerdc/reactor/poller"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is the lifecycle of a Reactor.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Reactor owns one backend, the watch table, the timeout list and the
// deferred reclamation buffer. Only Stop and State may be called from a
// goroutine other than the one running the loop.
type Reactor struct {
	cfg      Config
	log      *zap.Logger
	poller   poller.Poller
	watches  watchTable
	timeouts timeoutList
	orphans  *reclaimer
	events   []poller.Event

	stop  atomic.Bool
	state atomic.Int32

	mu     sync.Mutex // orders Wake against closing the backend
	closed bool
}

// Stats is a snapshot of the registries.
type Stats struct {
	Watches        int
	Timeouts       int
	PendingReclaim int
}

// New opens the configured backend. Nothing is leaked on failure.
func New(cfg Config) (*Reactor, error) {
	cfg = cfg.withDefaults()
	p, err := poller.New(poller.Config{
		Kind:      cfg.Backend,
		MaxEvents: cfg.MaxEvents,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("reactor: open backend: %w", err)
	}
	return newReactor(cfg, p), nil
}

func newReactor(cfg Config, p poller.Poller) *Reactor {
	return &Reactor{
		cfg:     cfg,
		log:     cfg.Logger.Named("reactor"),
		poller:  p,
		watches: newWatchTable(),
		orphans: newReclaimer(),
		events:  make([]poller.Event, cfg.MaxEvents),
	}
}

func (r *Reactor) State() State { return State(r.state.Load()) }

// Backend reports which strategy the reactor was built with.
func (r *Reactor) Backend() poller.Kind { return r.poller.Kind() }

func (r *Reactor) Stats() Stats {
	return Stats{
		Watches:        r.watches.live(),
		Timeouts:       r.timeouts.len(),
		PendingReclaim: r.orphans.pending(),
	}
}

func (r *Reactor) usable() error {
	if r.State() == StateStopped {
		return ErrClosed
	}
	return nil
}

// NewWatch registers interest in fd. An empty mask is allowed and touches
// no backend state until the first UpdateWatch. The backend error of the
// initial registration is returned as is, wrapped.
func (r *Reactor) NewWatch(fd int, mask Interest, cb WatchFunc, ctx any) (Watch, error) {
	if err := r.usable(); err != nil {
		return Watch{}, err
	}
	if fd < 0 || cb == nil || mask&^Both != 0 {
		return Watch{}, ErrInvalidArgument
	}
	if _, ok := r.watches.byFD[fd]; ok {
		return Watch{}, ErrWatchExists
	}
	slot, w := r.watches.alloc(fd)
	w.cb, w.ctx = cb, ctx
	if mask != None {
		if err := r.poller.Register(fd, tokenFor(slot, w.gen), mask); err != nil {
			r.watches.release(slot)
			return Watch{}, fmt.Errorf("reactor: register fd %d: %w", fd, err)
		}
	}
	w.mask = mask
	return Watch{slot: slot, gen: w.gen}, nil
}

// UpdateWatch moves the watch to mask. An unchanged mask issues no backend
// call. When the backend rejects the change the new mask is recorded anyway
// and the error is logged and returned.
func (r *Reactor) UpdateWatch(h Watch, mask Interest) error {
	if err := r.usable(); err != nil {
		return err
	}
	if mask&^Both != 0 {
		return ErrInvalidArgument
	}
	w := r.watches.get(h)
	if w == nil {
		return ErrInvalidHandle
	}
	old := w.mask
	if mask == old {
		return nil
	}
	var err error
	switch {
	case old == None:
		err = r.poller.Register(w.fd, tokenFor(h.slot, h.gen), mask)
	case mask == None:
		err = r.poller.Unregister(w.fd, old)
	default:
		err = r.poller.Modify(w.fd, tokenFor(h.slot, h.gen), old, mask)
	}
	w.mask = mask
	if err != nil {
		r.log.Warn("backend rejected interest change",
			zap.Int("fd", w.fd),
			zap.Stringer("from", old),
			zap.Stringer("to", mask),
			zap.Error(err),
		)
		return fmt.Errorf("reactor: update fd %d: %w", w.fd, err)
	}
	return nil
}

// RemoveWatch deregisters the watch at once and marks it dead. Its slot is
// reclaimed after the current dispatch pass, so removing the watch being
// dispatched, or a sibling later in the batch, is safe.
func (r *Reactor) RemoveWatch(h Watch) error {
	if err := r.usable(); err != nil {
		return err
	}
	w := r.watches.get(h)
	if w == nil {
		return ErrInvalidHandle
	}
	if w.mask != None {
		if err := r.poller.Unregister(w.fd, w.mask); err != nil {
			r.log.Warn("backend rejected deregistration",
				zap.Int("fd", w.fd),
				zap.Stringer("mask", w.mask),
				zap.Error(err),
			)
		}
	}
	w.dead = true
	w.mask = None
	r.watches.forget(w, h.slot)
	r.orphans.hold(h.slot)
	return nil
}

// NewTimeout appends a timeout firing at at. A zero at creates it disarmed.
func (r *Reactor) NewTimeout(at time.Time, cb TimeoutFunc, ctx any) (Timeout, error) {
	if err := r.usable(); err != nil {
		return Timeout{}, err
	}
	if cb == nil {
		return Timeout{}, ErrInvalidArgument
	}
	t := &timeout{at: at, cb: cb, ctx: ctx}
	r.timeouts.push(t)
	return Timeout{t: t}, nil
}

// UpdateTimeout rearms the timeout at at, or disarms it when at is zero.
// Its position in the list does not change.
func (r *Reactor) UpdateTimeout(h Timeout, at time.Time) error {
	if err := r.usable(); err != nil {
		return err
	}
	if h.t == nil || h.t.list != &r.timeouts {
		return ErrInvalidHandle
	}
	h.t.at = at
	return nil
}

func (r *Reactor) DisarmTimeout(h Timeout) error {
	return r.UpdateTimeout(h, time.Time{})
}

// RemoveTimeout unlinks the timeout. The handle is invalid afterwards.
func (r *Reactor) RemoveTimeout(h Timeout) error {
	if err := r.usable(); err != nil {
		return err
	}
	if h.t == nil || h.t.list != &r.timeouts {
		return ErrInvalidHandle
	}
	r.timeouts.remove(h.t)
	return nil
}

// Run drives the loop on the calling goroutine until Stop is observed or the
// backend fails. The backend is released before Run returns, and the
// reactor cannot be run again.
func (r *Reactor) Run() (err error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if r.State() == StateStopped {
			return ErrClosed
		}
		return ErrRunning
	}
	if r.stop.Load() {
		r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	}
	r.log.Debug("loop started", zap.Stringer("backend", r.poller.Kind()))
	defer func() {
		r.reclaim()
		if cerr := r.release(); cerr != nil && err == nil {
			err = fmt.Errorf("reactor: close backend: %w", cerr)
		}
		r.state.Store(int32(StateStopped))
		r.log.Debug("loop stopped", zap.Error(err))
	}()
	for !r.stop.Load() {
		if err := r.iterate(); err != nil {
			return err
		}
	}
	return nil
}

// Stop asks the loop to exit once the current iteration has finished its
// dispatch and reclamation. It can be called from a callback or from any
// goroutine.
func (r *Reactor) Stop() {
	r.stop.Store(true)
	r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.poller.Wake(); err != nil {
		r.log.Warn("wake backend", zap.Error(err))
	}
}

// Close releases a reactor that was never run. Closing a stopped reactor is
// a no-op; closing a running one fails with ErrRunning.
func (r *Reactor) Close() error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		if r.State() == StateStopped {
			return nil
		}
		return ErrRunning
	}
	r.reclaim()
	return r.release()
}

func (r *Reactor) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.poller.Close()
}

// waitBudget is how long the next wait may block.
func (r *Reactor) waitBudget(now time.Time) time.Duration {
	at, ok := r.timeouts.earliest()
	if !ok {
		return r.cfg.IdleTimeout
	}
	if !at.After(now) {
		return 0
	}
	return at.Sub(now)
}

func (r *Reactor) iterate() error {
	n, err := r.poller.Wait(r.events, r.waitBudget(r.cfg.Now()))
	if err != nil {
		if errors.Is(err, poller.ErrInterrupted) {
			return nil
		}
		r.log.Error("wait failed", zap.Error(err))
		r.stop.Store(true)
		return fmt.Errorf("reactor: wait: %w", err)
	}
	if n == 0 {
		r.timeouts.fireExpired(r.cfg.Now(), r.fire)
	}
	for _, ev := range r.events[:n] {
		r.dispatch(ev)
	}
	r.reclaim()
	return nil
}

func (r *Reactor) fire(t *timeout) {
	t.cb(r, Timeout{t: t}, t.ctx)
}

func (r *Reactor) dispatch(ev poller.Event) {
	slot, w := r.watches.resolve(ev.Token)
	if w == nil {
		return
	}
	ready := ev.Ready
	if ev.Failed {
		ready |= w.mask
	}
	h := Watch{slot: slot, gen: w.gen}
	// the read callback may remove the watch, so check again before writing
	if !w.dead && ready&Readable != 0 {
		w.cb(r, h, w.fd, Readable, w.ctx)
	}
	if !w.dead && ready&Writable != 0 {
		w.cb(r, h, w.fd, Writable, w.ctx)
	}
}

func (r *Reactor) reclaim() {
	r.orphans.drain(r.watches.release)
}
