// Package poller 把操作系统的多路复用器适配给上层事件循环。
// 两种策略：readiness-set（epoll），每个描述符一条合并注册；
// edge-list（kqueue），读写方向各自独立的 filter。
package poller

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Interest 是就绪方向的集合。
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable

	None Interest = 0
	Both          = Readable | Writable
)

func (i Interest) String() string {
	switch i {
	case None:
		return "none"
	case Readable:
		return "r"
	case Writable:
		return "w"
	case Both:
		return "rw"
	}
	return fmt.Sprintf("Interest(%d)", uint8(i))
}

// Token 由后端随注册保存，并在每个就绪事件中原样返回。
// Token 0 保留给唤醒源。
type Token uint64

// Event 是一条已解析到 token 的就绪通知。
type Event struct {
	Token Token
	Ready Interest
	// Failed 表示描述符出错或对端挂断
	Failed bool
}

// Poller 是事件循环对后端要求的能力集合。
//
// 调用方保证：Register 的 mask 非空，Unregister 的 old 非空，
// Modify 的两个 mask 都非空且不同。后端不再重复检查。
type Poller interface {
	Register(fd int, token Token, mask Interest) error
	Modify(fd int, token Token, old, mask Interest) error
	Unregister(fd int, old Interest) error
	// Wait 最多阻塞 timeout 并填充 events；timeout 为负时一直阻塞到有事件或 Wake
	Wait(events []Event, timeout time.Duration) (int, error)
	// Wake 打断阻塞中的 Wait，可在任意 goroutine 调用
	Wake() error
	Close() error
	Kind() Kind
}

// Kind 选择后端策略。
type Kind int

const (
	// Auto 使用平台原生后端
	Auto Kind = iota
	// Epoll readiness-set 后端（Linux）
	Epoll
	// Kqueue edge-list 后端（Darwin 与各 BSD）
	Kqueue
)

func (k Kind) String() string {
	switch k {
	case Auto:
		return "auto"
	case Epoll:
		return "epoll"
	case Kqueue:
		return "kqueue"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind 把后端名称解析为 Kind。
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "auto":
		return Auto, nil
	case "epoll":
		return Epoll, nil
	case "kqueue":
		return Kqueue, nil
	}
	return Auto, fmt.Errorf("%w: %q", ErrUnsupported, s)
}

var (
	// ErrUnsupported 当前平台没有所请求的后端
	ErrUnsupported = errors.New("poller: backend not supported on this platform")
	// ErrInterrupted Wait 被信号打断
	ErrInterrupted = errors.New("poller: wait interrupted")
	// ErrClosed Close 之后的任何调用
	ErrClosed = errors.New("poller: closed")
)

// Config 后端配置。
type Config struct {
	Kind Kind
	// MaxEvents 单次 Wait 最多收集的内核事件数
	MaxEvents int
	Logger    *zap.Logger
}

const defaultMaxEvents = 128

// New 打开 cfg.Kind 指定的后端。
func New(cfg Config) (Poller, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return open(cfg)
}
