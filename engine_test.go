//go:build linux || darwin || dragonfly || freebsd || openbsd

package ncproxy

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
	"github.com/ncproxy/ncproxy/pkg/logging"
)

const streamLen = 1024 * 1024

type echoServer struct {
	BuiltinEventEngine

	async    bool
	opened   int32
	closed   int32
	shutdown int32
}

func (s *echoServer) OnOpen(Conn) ([]byte, Action) {
	atomic.AddInt32(&s.opened, 1)
	return nil, None
}

func (s *echoServer) OnClose(Conn, error) Action {
	atomic.AddInt32(&s.closed, 1)
	return None
}

func (s *echoServer) OnShutdown(*Engine) {
	atomic.StoreInt32(&s.shutdown, 1)
}

func (s *echoServer) OnTraffic(c Conn, data []byte) ([]byte, Action) {
	if !s.async {
		return data, None
	}
	// data is a private copy in async mode, hand it back as is.
	_ = c.AsyncWrite(data)
	return nil, None
}

// startEngine runs an engine on a random local port, the engine is stopped
// when the test ends.
func startEngine(t *testing.T, handler EventHandler, opts ...Option) (*Engine, <-chan error) {
	t.Helper()
	eng, err := NewEngine(handler, "tcp://127.0.0.1:0", opts...)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Start(context.Background()) }()
	t.Cleanup(func() {
		_ = eng.Stop()
		<-eng.Done()
	})
	return eng, errCh
}

func TestServer(t *testing.T) {
	t.Run("sync", func(t *testing.T) {
		runEchoServer(t, false, 10)
	})
	t.Run("async", func(t *testing.T) {
		runEchoServer(t, true, 10)
	})
}

func runEchoServer(t *testing.T, async bool, clients int) {
	handler := &echoServer{async: async}
	eng, errCh := startEngine(t, handler, WithAsyncHandler(async), WithLogger(logging.GetDefaultLogger()))

	var g errgroup.Group
	for i := 0; i < clients; i++ {
		g.Go(func() error {
			return startClient(eng.Addr().String())
		})
	}
	require.NoError(t, g.Wait())

	assert.Eventually(t, func() bool {
		return eng.CountConnections() == 0 && atomic.LoadInt32(&handler.closed) == int32(clients)
	}, 3*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, clients, atomic.LoadInt32(&handler.opened))

	require.NoError(t, eng.Stop())
	require.NoError(t, <-errCh)
	<-eng.Done()
	assert.EqualValues(t, 1, atomic.LoadInt32(&handler.shutdown))
}

// startClient pipes random data of random sizes through the echo server
// and checks what comes back. Large payloads make the server queue output.
func startClient(addr string) error {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer c.Close()

	for i := 0; i < 5; i++ {
		payload := make([]byte, 1+rand.Intn(streamLen))
		if _, err = crand.Read(payload); err != nil {
			return err
		}

		var g errgroup.Group
		got := make([]byte, len(payload))
		g.Go(func() error {
			_, err := io.ReadFull(c, got)
			return err
		})
		if _, err = c.Write(payload); err != nil {
			return err
		}
		if err = g.Wait(); err != nil {
			return err
		}
		if !bytes.Equal(payload, got) {
			return errors.New("echoed data mismatch")
		}
	}
	return nil
}

type actionServer struct {
	BuiltinEventEngine

	onOpen    func(c Conn) ([]byte, Action)
	onTraffic func(c Conn, data []byte) ([]byte, Action)
	closeErr  chan error
}

func (s *actionServer) OnOpen(c Conn) ([]byte, Action) {
	if s.onOpen != nil {
		return s.onOpen(c)
	}
	return nil, None
}

func (s *actionServer) OnTraffic(c Conn, data []byte) ([]byte, Action) {
	if s.onTraffic != nil {
		return s.onTraffic(c, data)
	}
	return nil, None
}

func (s *actionServer) OnClose(_ Conn, err error) Action {
	if s.closeErr != nil {
		s.closeErr <- err
	}
	return None
}

func TestCloseActionOnOpen(t *testing.T) {
	handler := &actionServer{
		onOpen: func(Conn) ([]byte, Action) { return []byte("bye"), Close },
	}
	eng, _ := startEngine(t, handler)

	c, err := net.Dial("tcp", eng.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))
}

func TestShutdownActionOnTraffic(t *testing.T) {
	handler := &actionServer{
		onTraffic: func(c Conn, data []byte) ([]byte, Action) {
			if string(data) == "shutdown" {
				return nil, Shutdown
			}
			return data, None
		},
	}
	eng, errCh := startEngine(t, handler)

	c, err := net.Dial("tcp", eng.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("shutdown"))
	require.NoError(t, err)

	select {
	case err = <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not shut down")
	}
	<-eng.Done()
	assert.ErrorIs(t, eng.Stop(), errorx.ErrEngineInShutdown)
}

func TestPeerCloseIsReported(t *testing.T) {
	handler := &actionServer{closeErr: make(chan error, 1)}
	eng, _ := startEngine(t, handler)

	c, err := net.Dial("tcp", eng.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return eng.CountConnections() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err = <-handler.closeErr:
		assert.NoError(t, err, "an orderly close carries no error")
	case <-time.After(3 * time.Second):
		t.Fatal("OnClose was not called")
	}
	assert.Zero(t, eng.CountConnections())
}

func TestAsyncWriteAndClose(t *testing.T) {
	conns := make(chan Conn, 1)
	handler := &actionServer{
		onOpen: func(c Conn) ([]byte, Action) {
			conns <- c
			return nil, None
		},
		closeErr: make(chan error, 1),
	}
	eng, _ := startEngine(t, handler)

	client, err := net.Dial("tcp", eng.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	c := <-conns

	require.NoError(t, c.AsyncWrite([]byte("pushed")))
	buf := make([]byte, 6)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "pushed", string(buf))

	require.NoError(t, c.Close())
	<-handler.closeErr
	assert.ErrorIs(t, c.AsyncWrite([]byte("late")), errorx.ErrConnClosed)
	assert.ErrorIs(t, c.Close(), errorx.ErrConnClosed)
}

func TestAsyncTrafficKeepsContextAfterClose(t *testing.T) {
	started := make(chan struct{})
	seen := make(chan interface{}, 1)
	var handler *actionServer
	handler = &actionServer{
		onOpen: func(c Conn) ([]byte, Action) {
			c.SetContext("session")
			return nil, None
		},
		onTraffic: func(c Conn, _ []byte) ([]byte, Action) {
			close(started)
			<-handler.closeErr
			// Let the reactor finish releasing the connection.
			time.Sleep(50 * time.Millisecond)
			seen <- c.Context()
			return nil, None
		},
		closeErr: make(chan error, 1),
	}
	eng, _ := startEngine(t, handler, WithAsyncHandler(true))

	client, err := net.Dial("tcp", eng.Addr().String())
	require.NoError(t, err)
	_, err = client.Write([]byte("x"))
	require.NoError(t, err)
	<-started
	require.NoError(t, client.Close())

	select {
	case v := <-seen:
		assert.Equal(t, "session", v)
	case <-time.After(3 * time.Second):
		t.Fatal("OnTraffic did not finish")
	}
}

func TestEngineStopsWithContext(t *testing.T) {
	handler := &echoServer{}
	eng, err := NewEngine(handler, "127.0.0.1:0", WithTimeout(-1), WithLockOSThread(true))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Start(ctx) }()

	c, err := net.Dial("tcp", eng.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return eng.CountConnections() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.EqualValues(t, 1, atomic.LoadInt32(&handler.closed), "open connections are closed on shutdown")
	assert.ErrorIs(t, eng.Start(context.Background()), errorx.ErrEngineStarted)
}

func TestBadAddresses(t *testing.T) {
	_, err := NewEngine(&echoServer{}, "")
	assert.ErrorIs(t, err, errorx.ErrInvalidNetworkAddress)
	_, err = NewEngine(&echoServer{}, "tcp://")
	assert.ErrorIs(t, err, errorx.ErrInvalidNetworkAddress)
	_, err = NewEngine(&echoServer{}, "udp://127.0.0.1:0")
	assert.Error(t, err)
	_, err = NewEngine(&echoServer{}, "tcp://127.0.0.1:0", WithCapacity(-1))
	assert.ErrorIs(t, err, errorx.ErrInvalidCapacity)
}

func TestShutdownOnBoot(t *testing.T) {
	handler := &bootShutdown{}
	eng, err := NewEngine(handler, "tcp://127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	<-eng.Done()
	assert.True(t, handler.shutdown)
}

type bootShutdown struct {
	BuiltinEventEngine
	shutdown bool
}

func (*bootShutdown) OnBoot(*Engine) Action { return Shutdown }

func (s *bootShutdown) OnShutdown(*Engine) { s.shutdown = true }
