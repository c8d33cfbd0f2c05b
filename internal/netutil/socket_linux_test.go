//go:build linux

package netutil

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenAccept(t *testing.T) {
	lfd, err := Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer unix.Close(lfd)

	port, err := LocalPort(lfd)
	require.NoError(t, err)
	require.NotZero(t, port)

	_, err = Accept(lfd)
	assert.True(t, Temporary(err), "nothing pending on a non-blocking listener: %v", err)

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Close()

	var fd int
	require.Eventually(t, func() bool {
		fd, err = Accept(lfd)
		return err == nil
	}, time.Second, time.Millisecond)
	defer unix.Close(fd)

	require.NoError(t, SetNoDelay(fd, true))
	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.NotZero(t, v)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestListenBadAddress(t *testing.T) {
	_, err := Listen("not-an-address", 0)
	assert.Error(t, err)
}
