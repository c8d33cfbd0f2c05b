package reactor

import (
	"errors"
	"testing"
	"time"

	"github.com/legamerdc/reactor/poller"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type call struct {
	op        string
	fd        int
	old, mask Interest
}

type reg struct {
	token poller.Token
	mask  Interest
}

var errTooManyWaits = errors.New("fake: too many waits")

// fakePoller replays scripted batches. A Wait with nothing scripted behaves
// like an elapsed timeout: it advances the clock by the budget.
type fakePoller struct {
	clock    *fakeClock
	calls    []call
	regs     map[int]reg
	batches  [][]poller.Event
	errs     []error
	budgets  []time.Duration
	failNext error
	woken    int
	closed   bool
}

func newFakePoller(clock *fakeClock) *fakePoller {
	return &fakePoller{clock: clock, regs: make(map[int]reg)}
}

func (p *fakePoller) fail() error {
	err := p.failNext
	p.failNext = nil
	return err
}

func (p *fakePoller) Register(fd int, token poller.Token, mask Interest) error {
	p.calls = append(p.calls, call{"register", fd, None, mask})
	if err := p.fail(); err != nil {
		return err
	}
	p.regs[fd] = reg{token, mask}
	return nil
}

func (p *fakePoller) Modify(fd int, token poller.Token, old, mask Interest) error {
	p.calls = append(p.calls, call{"modify", fd, old, mask})
	if err := p.fail(); err != nil {
		return err
	}
	p.regs[fd] = reg{token, mask}
	return nil
}

func (p *fakePoller) Unregister(fd int, old Interest) error {
	p.calls = append(p.calls, call{"unregister", fd, old, None})
	if err := p.fail(); err != nil {
		return err
	}
	delete(p.regs, fd)
	return nil
}

func (p *fakePoller) Wait(events []poller.Event, timeout time.Duration) (int, error) {
	p.budgets = append(p.budgets, timeout)
	if len(p.budgets) > 1000 {
		return 0, errTooManyWaits
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return 0, err
	}
	if len(p.batches) > 0 {
		b := p.batches[0]
		p.batches = p.batches[1:]
		return copy(events, b), nil
	}
	p.clock.advance(timeout)
	return 0, nil
}

func (p *fakePoller) Wake() error { p.woken++; return nil }

func (p *fakePoller) Close() error { p.closed = true; return nil }

func (p *fakePoller) Kind() poller.Kind { return poller.Epoll }

// ready builds an event for the current registration of fd.
func (p *fakePoller) ready(t *testing.T, fd int, ready Interest) poller.Event {
	t.Helper()
	r, ok := p.regs[fd]
	require.True(t, ok, "fd %d not registered", fd)
	return poller.Event{Token: r.token, Ready: ready}
}

func (p *fakePoller) script(batch ...poller.Event) {
	p.batches = append(p.batches, batch)
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestReactor(t *testing.T) (*Reactor, *fakePoller, *fakeClock) {
	return newTestReactorLogger(t, zaptest.NewLogger(t))
}

func newTestReactorLogger(t *testing.T, log *zap.Logger) (*Reactor, *fakePoller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: epoch}
	fp := newFakePoller(clock)
	cfg := Config{Logger: log, Now: clock.Now}
	return newReactor(cfg.withDefaults(), fp), fp, clock
}

func noopWatch(*Reactor, Watch, int, Interest, any) {}

func stopAfter(r *Reactor, clock *fakeClock, d time.Duration) {
	_, _ = r.NewTimeout(clock.Now().Add(d), func(r *Reactor, _ Timeout, _ any) { r.Stop() }, nil)
}
