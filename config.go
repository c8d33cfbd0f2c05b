package reactor

import (
	"time"

	"github.com/legamerdc/reactor/poller"
	"go.uber.org/zap"
)

// Config tunes a Reactor.
type Config struct {
	Backend     poller.Kind      // backend strategy, poller.Auto picks the native one
	MaxEvents   int              // readiness events collected per wait
	IdleTimeout time.Duration    // wait budget when no timeout is armed
	Logger      *zap.Logger      // nil means no logging
	Now         func() time.Time // clock, time.Now unless overridden
}

// DefaultConfig returns the values New falls back to for zero fields.
//
// IdleTimeout only bounds how long an idle loop sleeps; a Stop from another
// goroutine wakes the backend immediately regardless.
func DefaultConfig() Config {
	return Config{
		Backend:     poller.Auto,
		MaxEvents:   128,
		IdleTimeout: time.Second,
		Logger:      zap.NewNop(),
		Now:         time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}
