//go:build linux

package netutil

import (
	"os"

	"golang.org/x/sys/unix"
)

func socket(fam int) (int, error) {
	return unix.Socket(fam, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// Accept 从非阻塞监听 socket 取出一个连接，新 fd 为非阻塞且 close-on-exec。
func Accept(lfd int) (int, error) {
	fd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("accept4", err)
	}
	return fd, nil
}
