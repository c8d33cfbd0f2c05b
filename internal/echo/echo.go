//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package echo is a framed TCP echo service driven by a reactor. Every
// callback runs on the reactor's loop goroutine.
package echo

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/eapache/queue"
	"github.com/legamerdc/reactor"
	"github.com/legamerdc/reactor/internal/netutil"
	"github.com/legamerdc/reactor/internal/ring"
	"github.com/legamerdc/reactor/protocol"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var ErrIdleTimeout = errors.New("echo: idle timeout")

type Config struct {
	Addr     string
	Backlog  int
	Idle     time.Duration // zero keeps idle connections open
	MaxInput int           // bytes of unparsed input held per connection
	Logger   *zap.Logger
	Now      func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxInput <= 0 {
		c.MaxInput = 16 << 20
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type conn struct {
	fd     int
	w      reactor.Watch
	idle   reactor.Timeout
	mask   reactor.Interest
	in     *ring.Buffer
	out    *queue.Queue // encoded frames waiting for the socket
	off    int          // bytes of the head frame already written
	closed bool
}

type Server struct {
	em      reactor.EventManager
	cfg     Config
	log     *zap.Logger
	lfd     int
	port    int
	lw      reactor.Watch
	conns   map[int]*conn
	scratch []byte // read buffer shared by every connection
	closed  bool
}

// New listens on cfg.Addr and registers the listener with em. The caller
// runs the reactor.
func New(em reactor.EventManager, cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	lfd, err := netutil.Listen(cfg.Addr, cfg.Backlog)
	if err != nil {
		return nil, fmt.Errorf("echo: listen: %w", err)
	}
	port, err := netutil.LocalPort(lfd)
	if err != nil {
		unix.Close(lfd)
		return nil, fmt.Errorf("echo: listen: %w", err)
	}
	s := &Server{
		em:      em,
		cfg:     cfg,
		log:     cfg.Logger.Named("echo"),
		lfd:     lfd,
		port:    port,
		conns:   make(map[int]*conn),
		scratch: make([]byte, 64<<10),
	}
	if s.lw, err = em.NewWatch(lfd, reactor.Readable, s.onAccept, nil); err != nil {
		unix.Close(lfd)
		return nil, fmt.Errorf("echo: watch listener: %w", err)
	}
	s.log.Info("listening", zap.Int("port", port))
	return s, nil
}

func (s *Server) Port() int { return s.port }

// Conns is the number of open connections. Loop goroutine only.
func (s *Server) Conns() int { return len(s.conns) }

// Close drops the listener and every connection. Call it from the loop
// goroutine or after the reactor has stopped.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.em.RemoveWatch(s.lw); err != nil {
		s.log.Debug("remove listener watch", zap.Error(err))
	}
	for _, c := range s.conns {
		s.drop(c, nil)
	}
	return os.NewSyscallError("close", unix.Close(s.lfd))
}

func (s *Server) onAccept(_ *reactor.Reactor, _ reactor.Watch, _ int, _ reactor.Interest, _ any) {
	for {
		fd, err := netutil.Accept(s.lfd)
		if err != nil {
			if !netutil.Temporary(err) {
				s.log.Warn("accept", zap.Error(err))
			}
			return
		}
		s.open(fd)
	}
}

func (s *Server) open(fd int) {
	if err := netutil.SetNoDelay(fd, true); err != nil {
		s.log.Debug("set nodelay", zap.Int("fd", fd), zap.Error(err))
	}
	c := &conn{
		fd:   fd,
		mask: reactor.Readable,
		in:   ring.New(4<<10, s.cfg.MaxInput),
		out:  queue.New(),
	}
	w, err := s.em.NewWatch(fd, reactor.Readable, s.onConn, c)
	if err != nil {
		s.log.Warn("watch connection", zap.Int("fd", fd), zap.Error(err))
		unix.Close(fd)
		return
	}
	c.w = w
	if s.cfg.Idle > 0 {
		if c.idle, err = s.em.NewTimeout(s.cfg.Now().Add(s.cfg.Idle), s.onIdle, c); err != nil {
			s.log.Warn("arm idle timeout", zap.Int("fd", fd), zap.Error(err))
		}
	}
	s.conns[fd] = c
	s.log.Debug("accepted", zap.Int("fd", fd), zap.Int("open", len(s.conns)))
}

func (s *Server) onConn(_ *reactor.Reactor, _ reactor.Watch, _ int, ev reactor.Interest, ctx any) {
	c := ctx.(*conn)
	if ev == reactor.Readable {
		s.read(c)
	} else {
		s.flush(c)
	}
	if !c.closed {
		s.sync(c)
	}
}

func (s *Server) onIdle(_ *reactor.Reactor, _ reactor.Timeout, ctx any) {
	s.drop(ctx.(*conn), ErrIdleTimeout)
}

func (s *Server) read(c *conn) {
	for {
		n, err := unix.Read(c.fd, s.scratch)
		if n > 0 {
			if _, werr := c.in.Write(s.scratch[:n]); werr != nil {
				s.drop(c, werr)
				return
			}
		}
		if err != nil {
			if netutil.Temporary(err) {
				break
			}
			s.drop(c, os.NewSyscallError("read", err))
			return
		}
		if n == 0 {
			s.drop(c, nil)
			return
		}
	}
	if c.idle.Valid() {
		if err := s.em.UpdateTimeout(c.idle, s.cfg.Now().Add(s.cfg.Idle)); err != nil {
			s.log.Debug("rearm idle timeout", zap.Error(err))
		}
	}
	used, err := protocol.Parse(c.in.Bytes(), func(f protocol.Frame) error {
		frame, err := protocol.AppendFrame(nil, f.Payload, f.Compressed)
		if err != nil {
			return err
		}
		c.out.Add(frame)
		return nil
	})
	c.in.Discard(used)
	if err != nil {
		s.drop(c, err)
		return
	}
	s.flush(c)
}

// flush writes queued frames until the socket pushes back.
func (s *Server) flush(c *conn) {
	for c.out.Length() > 0 {
		head := c.out.Peek().([]byte)
		n, err := unix.Write(c.fd, head[c.off:])
		if n > 0 {
			c.off += n
			if c.off == len(head) {
				c.out.Remove()
				c.off = 0
			}
			continue
		}
		if err == nil || netutil.Temporary(err) {
			return
		}
		s.drop(c, os.NewSyscallError("write", err))
		return
	}
}

// sync asks for writability only while output is queued.
func (s *Server) sync(c *conn) {
	want := reactor.Readable
	if c.out.Length() > 0 {
		want = reactor.Both
	}
	if want == c.mask {
		return
	}
	c.mask = want
	if err := s.em.UpdateWatch(c.w, want); err != nil {
		s.log.Warn("update connection interest", zap.Int("fd", c.fd), zap.Error(err))
	}
}

func (s *Server) drop(c *conn, cause error) {
	if c.closed {
		return
	}
	c.closed = true
	if err := s.em.RemoveWatch(c.w); err != nil {
		s.log.Debug("remove connection watch", zap.Int("fd", c.fd), zap.Error(err))
	}
	if c.idle.Valid() {
		if err := s.em.RemoveTimeout(c.idle); err != nil {
			s.log.Debug("remove idle timeout", zap.Int("fd", c.fd), zap.Error(err))
		}
	}
	unix.Close(c.fd)
	delete(s.conns, c.fd)
	s.log.Debug("closed", zap.Int("fd", c.fd), zap.Int("pending", c.out.Length()), zap.Error(cause))
}
