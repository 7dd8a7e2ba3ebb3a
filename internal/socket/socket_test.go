//go:build linux || darwin || dragonfly || freebsd || openbsd

package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
)

func TestTCPListenerAccept(t *testing.T) {
	fd, bound, err := TCPListener("tcp", "127.0.0.1:0", Option{SetSockopt: SetReuseAddr, Opt: 1})
	require.NoError(t, err)
	defer unix.Close(fd)

	addr, ok := bound.(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)
	assert.True(t, addr.IP.Equal(net.IPv4(127, 0, 0, 1)))

	_, _, err = Accept(fd)
	assert.ErrorIs(t, err, unix.EAGAIN, "listener must be non-blocking")

	c, err := net.Dial("tcp", bound.String())
	require.NoError(t, err)
	defer c.Close()

	var nfd int
	var remote net.Addr
	require.Eventually(t, func() bool {
		nfd, remote, err = Accept(fd)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	defer unix.Close(nfd)
	assert.Equal(t, c.LocalAddr().String(), remote.String())
}

func TestTCPListenerRejectsBadAddress(t *testing.T) {
	_, _, err := TCPListener("tcp", "127.0.0.1:http-nope")
	assert.Error(t, err)

	_, _, err = TCPListener("udp", "127.0.0.1:0")
	assert.Error(t, err)
}

func TestTCPVersion(t *testing.T) {
	_, _, _, err := tcpSockaddr("unix", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errorx.ErrUnsupportedProtocol, "resolution fails first")

	assert.Equal(t, "tcp4", tcpVersion("tcp", &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1)}))
	assert.Equal(t, "tcp6", tcpVersion("tcp", &net.TCPAddr{IP: net.IPv6loopback}))
	assert.Equal(t, "tcp", tcpVersion("tcp", &net.TCPAddr{}))
}
