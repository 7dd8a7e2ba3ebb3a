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

package ncproxy

import (
	"net"
	"sync"
	"sync/atomic"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
	"github.com/ncproxy/ncproxy/pkg/event"
	"github.com/ncproxy/ncproxy/pkg/pool/bytebuffer"
)

type conn struct {
	event.Conn                        // registration state, Context points back to the conn
	eng        *Engine                // owning engine
	ctx        interface{}            // user-defined context
	localAddr  net.Addr               // local addr
	remoteAddr net.Addr               // remote addr
	outbound   *bytebuffer.ByteBuffer // data the socket did not take yet
	opened     bool                   // registered with the event context, reactor only
	closed     int32                  // mirrors !opened for other goroutines
	inbound    asyncInbound           // data waiting for the goroutine pool
}

// asyncInbound collects the data read while a worker runs OnTraffic.
type asyncInbound struct {
	sync.Mutex
	data     []byte
	running  bool
	released bool // the reactor is done with the conn
}

type asyncWriteArg struct {
	c    *conn
	data []byte
}

func newConn(eng *Engine, fd int, remoteAddr net.Addr) *conn {
	c := &conn{
		eng:        eng,
		localAddr:  eng.addr,
		remoteAddr: remoteAddr,
		outbound:   bytebuffer.Get(),
	}
	c.FD = fd
	c.Conn.Context = c
	return c
}

// release runs on the reactor once c is closed. A worker still in OnTraffic
// keeps the user context and drops it when it stops.
func (c *conn) release() {
	in := &c.inbound
	in.Lock()
	if !in.running {
		c.ctx = nil
	}
	in.data, in.released = nil, true
	in.Unlock()
	bytebuffer.Put(c.outbound)
	c.outbound = nil
}

func (c *conn) markClosed() {
	atomic.StoreInt32(&c.closed, 1)
}

func (c *conn) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *conn) Fd() int { return c.FD }

func (c *conn) Context() interface{} { return c.ctx }

func (c *conn) SetContext(ctx interface{}) { c.ctx = ctx }

func (c *conn) LocalAddr() net.Addr { return c.localAddr }

func (c *conn) RemoteAddr() net.Addr { return c.remoteAddr }

func (c *conn) AsyncWrite(buf []byte) error {
	if c.isClosed() {
		return errorx.ErrConnClosed
	}
	if c.eng.isInShutdown() {
		return errorx.ErrEngineInShutdown
	}
	c.eng.trigger(c.eng.asyncWrite, &asyncWriteArg{c, buf})
	return nil
}

func (c *conn) Close() error {
	if c.isClosed() {
		return errorx.ErrConnClosed
	}
	c.eng.trigger(c.eng.asyncClose, c)
	return nil
}
