//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package netutil 为 reactor 驱动的服务创建并调整非阻塞原始 TCP socket。
package netutil

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listen 在 addr（"host:port"，host 为空时监听所有 IPv4 地址）上打开非阻塞监听 socket，返回 fd。
func Listen(addr string, backlog int) (int, error) {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, err
	}
	var (
		fam int
		sa  unix.Sockaddr
	)
	if ip4 := tcp.IP.To4(); ip4 != nil || tcp.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: tcp.Port}
		copy(sa4.Addr[:], ip4)
		fam, sa = unix.AF_INET, sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: tcp.Port}
		copy(sa6.Addr[:], tcp.IP.To16())
		fam, sa = unix.AF_INET6, sa6
	}
	fd, err := socket(fam)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err := SetReuseAddr(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr, err)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("listen", err)
	}
	return fd, nil
}

// LocalPort 返回 socket 绑定的端口。
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, os.NewSyscallError("getsockname", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, fmt.Errorf("netutil: unexpected socket address %T", sa)
}

// Temporary 判断 err 是否只是“就绪后重试”。
func Temporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func SetReuseAddr(fd int, enable bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, enable, "SO_REUSEADDR")
}

func SetNoDelay(fd int, enable bool) error {
	return setBool(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, enable, "TCP_NODELAY")
}

func setBool(fd, level, opt int, enable bool, name string) error {
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, level, opt, v); err != nil {
		return os.NewSyscallError("setsockopt "+name, err)
	}
	return nil
}
