//go:build linux

package poller

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func open(cfg Config) (Poller, error) {
	switch cfg.Kind {
	case Auto, Epoll:
		return newEpoll(cfg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Kind)
}

// epollPoller 是 readiness-set 后端：每个描述符一条水平触发注册，携带完整 mask。
type epollPoller struct {
	efd    int
	wfd    int // 唤醒用 eventfd
	buf    []unix.EpollEvent
	log    *zap.Logger
	closed bool
}

func newEpoll(cfg Config) (*epollPoller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	setToken(&ev, wakeToken)
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	return &epollPoller{
		efd: efd,
		wfd: wfd,
		buf: make([]unix.EpollEvent, cfg.MaxEvents),
		log: cfg.Logger.Named("poller").With(zap.Stringer("backend", Epoll)),
	}, nil
}

const wakeToken Token = 0

// token 放在 64 位 epoll_data 中：低 32 位在 Fd，高 32 位在 Pad。
func setToken(ev *unix.EpollEvent, t Token) {
	ev.Fd = int32(uint32(t))
	ev.Pad = int32(uint32(t >> 32))
}

func tokenOf(ev *unix.EpollEvent) Token {
	return Token(uint32(ev.Fd)) | Token(uint32(ev.Pad))<<32
}

func epollMask(mask Interest) uint32 {
	var flag uint32
	if mask&Readable != 0 {
		flag |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask&Writable != 0 {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) Kind() Kind { return Epoll }

func (p *epollPoller) Register(fd int, token Token, mask Interest) error {
	return p.ctl(fd, token, None, mask)
}

func (p *epollPoller) Modify(fd int, token Token, old, mask Interest) error {
	return p.ctl(fd, token, old, mask)
}

func (p *epollPoller) Unregister(fd int, old Interest) error {
	return p.ctl(fd, 0, old, None)
}

func (p *epollPoller) ctl(fd int, token Token, old, mask Interest) error {
	if p.closed {
		return ErrClosed
	}
	var op int
	switch readinessOp(old, mask) {
	case opNone:
		return nil
	case opAdd:
		op = unix.EPOLL_CTL_ADD
	case opMod:
		op = unix.EPOLL_CTL_MOD
	case opDel:
		// 2.6.9 起 DEL 忽略 event 参数
		if err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return os.NewSyscallError("epoll_ctl del", err)
		}
		return nil
	}
	ev := unix.EpollEvent{Events: epollMask(mask)}
	setToken(&ev, token)
	if err := unix.EpollCtl(p.efd, op, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl "+readinessOp(old, mask).String(), err)
	}
	return nil
}

func (p *epollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	buf := p.buf
	if len(events) < len(buf) {
		buf = buf[:len(events)]
	}
	n, err := unix.EpollWait(p.efd, buf, waitMsec(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrInterrupted
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		ev := &buf[i]
		t := tokenOf(ev)
		if t == wakeToken {
			p.drainWake()
			continue
		}
		var ready Interest
		if ev.Events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
			ready |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		events[out] = Event{
			Token:  t,
			Ready:  ready,
			Failed: ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		}
		out++
	}
	return out, nil
}

// waitMsec 向上取整，避免不足 1ms 的预算变成忙轮询。
func waitMsec(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func (p *epollPoller) drainWake() {
	var b [8]byte
	if _, err := unix.Read(p.wfd, b[:]); err != nil && err != unix.EAGAIN {
		p.log.Warn("drain wakeup eventfd", zap.Error(err))
	}
}

func (p *epollPoller) Wake() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return os.NewSyscallError("write", err)
}

func (p *epollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	unix.Close(p.wfd)
	return os.NewSyscallError("close", unix.Close(p.efd))
}
