//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package poller

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func open(cfg Config) (Poller, error) {
	switch cfg.Kind {
	case Auto, Kqueue:
		return newKqueue(cfg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Kind)
}

// kqueuePoller 是 edge-list 后端：读写是两个独立的 filter，分别添加或删除。
type kqueuePoller struct {
	kq     int
	rfd    int // 唤醒管道读端，注册在 kqueue 中
	wfd    int // 唤醒管道写端，供 Wake 使用
	buf    []unix.Kevent_t
	tokens map[int]Token
	log    *zap.Logger
	closed bool
}

func newKqueue(cfg Config) (*kqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kq)
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, os.NewSyscallError("pipe", err)
	}
	rfd, wfd := fds[0], fds[1]
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		// 阻塞的唤醒管道会让 drainWake 卡住事件循环
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(rfd)
			unix.Close(wfd)
			unix.Close(kq)
			return nil, os.NewSyscallError("fcntl", err)
		}
	}
	var kev unix.Kevent_t
	unix.SetKevent(&kev, rfd, unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, os.NewSyscallError("kevent", err)
	}
	return &kqueuePoller{
		kq:     kq,
		rfd:    rfd,
		wfd:    wfd,
		buf:    make([]unix.Kevent_t, cfg.MaxEvents),
		tokens: make(map[int]Token),
		log:    cfg.Logger.Named("poller").With(zap.Stringer("backend", Kqueue)),
	}, nil
}

func (p *kqueuePoller) Kind() Kind { return Kqueue }

func (p *kqueuePoller) Register(fd int, token Token, mask Interest) error {
	p.tokens[fd] = token
	if err := p.apply(fd, None, mask); err != nil {
		delete(p.tokens, fd)
		return err
	}
	return nil
}

func (p *kqueuePoller) Modify(fd int, token Token, old, mask Interest) error {
	p.tokens[fd] = token
	return p.apply(fd, old, mask)
}

func (p *kqueuePoller) Unregister(fd int, old Interest) error {
	delete(p.tokens, fd)
	return p.apply(fd, old, None)
}

// apply 在一次 kevent 调用中提交 old -> mask 的全部 filter 变更。
func (p *kqueuePoller) apply(fd int, old, mask Interest) error {
	if p.closed {
		return ErrClosed
	}
	changes := filterChanges(old, mask)
	if len(changes) == 0 {
		return nil
	}
	set := make([]unix.Kevent_t, len(changes))
	for i, c := range changes {
		flt := unix.EVFILT_READ
		if c.filter == writeFilter {
			flt = unix.EVFILT_WRITE
		}
		flags := unix.EV_DELETE
		if c.add {
			flags = unix.EV_ADD
		}
		unix.SetKevent(&set[i], fd, flt, flags)
	}
	if _, err := unix.Kevent(p.kq, set, nil, nil); err != nil {
		p.rollback(fd, changes)
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

// rollback 撤销一次失败的 kevent 中可能已生效的 EV_ADD。
// 内核逐条处理变更，前面的 filter 可能已注册而后面的失败；
// 不撤销的话该 filter 会一直就绪却找不到 token，循环空转。
func (p *kqueuePoller) rollback(fd int, changes []filterChange) {
	for _, c := range changes {
		if !c.add {
			continue
		}
		flt := unix.EVFILT_READ
		if c.filter == writeFilter {
			flt = unix.EVFILT_WRITE
		}
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, flt, unix.EV_DELETE)
		if _, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil); err != nil && err != unix.ENOENT {
			p.log.Warn("rollback kevent filter", zap.Int("fd", fd), zap.Stringer("filter", c.filter), zap.Error(err))
		}
	}
}

func (p *kqueuePoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	buf := p.buf
	if len(events) < len(buf) {
		buf = buf[:len(events)]
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrInterrupted
		}
		return 0, os.NewSyscallError("kevent", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		ev := &buf[i]
		fd := int(ev.Ident)
		if fd == p.rfd {
			p.drainWake()
			continue
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			p.log.Warn("kevent reported error", zap.Int("fd", fd), zap.Error(unix.Errno(ev.Data)))
			continue
		}
		t, ok := p.tokens[fd]
		if !ok {
			continue
		}
		var ready Interest
		switch ev.Filter {
		case unix.EVFILT_READ:
			ready = Readable
		case unix.EVFILT_WRITE:
			ready = Writable
		}
		// 同一描述符的读写 filter 各自上报，这里合并成一个事件，与 epoll 一致
		out = mergeEvent(events, out, Event{Token: t, Ready: ready, Failed: ev.Flags&unix.EV_EOF != 0})
	}
	return out, nil
}

func (p *kqueuePoller) drainWake() {
	var b [16]byte
	for {
		n, err := unix.Read(p.rfd, b[:])
		if err == nil && n > 0 {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			p.log.Warn("drain wakeup pipe", zap.Error(err))
		}
		return
	}
}

func (p *kqueuePoller) Wake() error {
	_, err := unix.Write(p.wfd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return os.NewSyscallError("write", err)
}

func (p *kqueuePoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return os.NewSyscallError("close", unix.Close(p.kq))
}
