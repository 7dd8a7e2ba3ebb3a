// Copyright (c) 2026 The Ncproxy Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux || darwin || dragonfly || freebsd || openbsd

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ncproxy/ncproxy/pkg/netpoll"
)

func socketPair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestKernelConnectionLifecycle(t *testing.T) {
	var seen []delivery
	ctx, err := New(1024, func(c *Conn, mask netpoll.Mask) {
		seen = append(seen, delivery{c, mask})
	})
	require.NoError(t, err)
	defer ctx.Close()

	local, peer := socketPair(t)
	a := &Conn{FD: local}
	require.NoError(t, ctx.AddConn(a))

	// A fresh socket is writable right away.
	n, err := ctx.Wait(100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Same(t, a, seen[0].c)
	assert.True(t, seen[0].mask.IsWritable())

	require.NoError(t, ctx.DelOut(a))
	_, err = unix.Write(peer, []byte("ping"))
	require.NoError(t, err)

	seen = nil
	n, err = ctx.Wait(100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, []delivery{{a, netpoll.Readable}}, seen)

	require.NoError(t, ctx.DelConn(a))
	_, err = unix.Write(peer, []byte("pong"))
	require.NoError(t, err)
	seen = nil
	n, err = ctx.Wait(50)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, seen)
}

func TestKernelStaticDescriptor(t *testing.T) {
	var seen []delivery
	ctx, err := New(16, func(c *Conn, mask netpoll.Mask) {
		seen = append(seen, delivery{c, mask})
	})
	require.NoError(t, err)
	defer ctx.Close()

	local, peer := socketPair(t)
	require.NoError(t, ctx.AddStatic(local))
	_, err = unix.Write(peer, []byte("x"))
	require.NoError(t, err)

	// Level-triggered: reported again while the data stays unread.
	for i := 0; i < 2; i++ {
		seen = nil
		n, err := ctx.Wait(100)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		assert.Equal(t, []delivery{{nil, netpoll.Readable}}, seen)
	}
}
