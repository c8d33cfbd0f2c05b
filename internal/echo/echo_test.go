//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package echo

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/legamerdc/reactor"
	"github.com/legamerdc/reactor/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	srv  *Server
	addr string
	done chan error
	r    *reactor.Reactor
}

func start(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	r, err := reactor.New(reactor.Config{Logger: log, IdleTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	cfg.Addr = "127.0.0.1:0"
	cfg.Logger = log
	srv, err := New(r, cfg)
	require.NoError(t, err)

	h := &harness{
		srv:  srv,
		addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port())),
		done: make(chan error, 1),
		r:    r,
	}
	go func() { h.done <- r.Run() }()
	return h
}

// stop ends the loop and closes the service from the test goroutine, which
// owns it once Run has returned.
func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.r.Stop()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reactor did not stop")
	}
	require.NoError(t, h.srv.Close())
	assert.Zero(t, h.srv.Conns())
}

func readFrames(t *testing.T, c net.Conn, want int) []protocol.Frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(10*time.Second)))
	var (
		buf   []byte
		got   []protocol.Frame
		chunk = make([]byte, 64<<10)
	)
	for len(got) < want {
		n, err := c.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
		used, err := protocol.Parse(buf, func(f protocol.Frame) error {
			got = append(got, protocol.Frame{Payload: bytes.Clone(f.Payload), Compressed: f.Compressed})
			return nil
		})
		require.NoError(t, err)
		buf = buf[used:]
	}
	return got
}

func frame(t *testing.T, payload []byte, compressed bool) []byte {
	t.Helper()
	b, err := protocol.AppendFrame(nil, payload, compressed)
	require.NoError(t, err)
	return b
}

func TestEchoFrames(t *testing.T) {
	h := start(t, Config{})
	defer h.stop(t)

	c, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer c.Close()

	text := bytes.Repeat([]byte("compress me "), 1000)
	msg := append(frame(t, []byte("hello"), false), frame(t, text, true)...)
	_, err = c.Write(msg)
	require.NoError(t, err)

	got := readFrames(t, c, 2)
	assert.Equal(t, []byte("hello"), got[0].Payload)
	assert.False(t, got[0].Compressed)
	assert.Equal(t, text, got[1].Payload)
	assert.True(t, got[1].Compressed, "compressed frames come back compressed")
}

func TestEchoSplitWrites(t *testing.T) {
	h := start(t, Config{})
	defer h.stop(t)

	c, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer c.Close()

	msg := frame(t, []byte("one byte at a time"), false)
	for i := range msg {
		_, err := c.Write(msg[i : i+1])
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	got := readFrames(t, c, 1)
	assert.Equal(t, []byte("one byte at a time"), got[0].Payload)
}

func TestEchoLargePayload(t *testing.T) {
	h := start(t, Config{})
	defer h.stop(t)

	c, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer c.Close()

	// larger than the socket buffers, so the reply has to wait for writability
	payload := make([]byte, 4<<20)
	for i := range payload {
		payload[i] = byte(i*7 + i>>11)
	}
	msg := frame(t, payload, false)
	wrote := make(chan error, 1)
	go func() {
		_, err := c.Write(msg)
		wrote <- err
	}()

	got := readFrames(t, c, 1)
	require.NoError(t, <-wrote)
	assert.True(t, bytes.Equal(payload, got[0].Payload))
}

func TestEchoIdleClose(t *testing.T) {
	h := start(t, Config{Idle: 50 * time.Millisecond})
	defer h.stop(t)

	c, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestEchoIdleRearmedByTraffic(t *testing.T) {
	h := start(t, Config{Idle: 200 * time.Millisecond})
	defer h.stop(t)

	c, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer c.Close()

	begin := time.Now()
	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		_, err := c.Write(frame(t, []byte("ping"), false))
		require.NoError(t, err)
		readFrames(t, c, 1)
	}
	assert.Greater(t, time.Since(begin), 400*time.Millisecond, "outlived a single idle period")
}

func TestEchoProtocolError(t *testing.T) {
	h := start(t, Config{})
	defer h.stop(t)

	c, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte{0x40, 0x00})
	require.NoError(t, err)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err, "the server hangs up on a bad header")
}

func TestEchoManyClients(t *testing.T) {
	h := start(t, Config{})

	var clients []net.Conn
	for i := 0; i < 8; i++ {
		c, err := net.Dial("tcp", h.addr)
		require.NoError(t, err)
		defer c.Close()
		clients = append(clients, c)
	}
	for i, c := range clients {
		_, err := c.Write(frame(t, []byte(strconv.Itoa(i)), i%2 == 0))
		require.NoError(t, err)
	}
	for i, c := range clients {
		got := readFrames(t, c, 1)
		assert.Equal(t, strconv.Itoa(i), string(got[0].Payload))
	}

	h.r.Stop()
	require.NoError(t, <-h.done)
	assert.Equal(t, 8, h.srv.Conns())
	require.NoError(t, h.srv.Close())
	assert.Zero(t, h.srv.Conns())
}
