//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package netutil

import (
	"os"

	"golang.org/x/sys/unix"
)

func socket(fam int) (int, error) {
	fd, err := unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := setup(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func setup(fd int) error {
	unix.CloseOnExec(fd)
	return unix.SetNonblock(fd, true)
}

// Accept 从非阻塞监听 socket 取出一个连接，新 fd 为非阻塞且 close-on-exec。
func Accept(lfd int) (int, error) {
	fd, _, err := unix.Accept(lfd)
	if err != nil {
		return -1, os.NewSyscallError("accept", err)
	}
	if err := setup(fd); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("fcntl", err)
	}
	return fd, nil
}
