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

package event

import (
	"unsafe"

	"github.com/ncproxy/ncproxy/pkg/netpoll"
)

// Conn is the part of a connection the event context works with.
//
// RecvActive is true iff the registration of FD includes Readable,
// SendActive is true iff it includes Writable. Both flags are only
// changed by the Context methods below, on success.
//
// The context keeps no reference to a Conn: whoever owns it must keep it
// reachable from AddConn until DelConn returns.
type Conn struct {
	FD         int
	RecvActive bool
	SendActive bool

	// Context is free for the owner of the connection.
	Context interface{}
}

func (c *Conn) pointer() unsafe.Pointer {
	return unsafe.Pointer(c)
}

// registered returns the directions the flags of c report as registered.
func (c *Conn) registered() (mask netpoll.Mask) {
	if c.RecvActive {
		mask |= netpoll.Readable
	}
	if c.SendActive {
		mask |= netpoll.Writable
	}
	return
}

func mustValid(c *Conn) {
	if c == nil || c.FD <= 0 {
		panic("event: invalid connection")
	}
}

// AddConn registers c for both directions, edge-triggered.
// On success both RecvActive and SendActive are set.
func (ctx *Context) AddConn(c *Conn) error {
	mustValid(c)
	err := ctx.backend.Register(c.FD, netpoll.Readable|netpoll.Writable, netpoll.None, true, c.pointer())
	if err == nil {
		c.RecvActive, c.SendActive = true, true
	}
	return err
}

// DelConn removes the registration of c entirely, only the directions its
// flags report as registered are unregistered.
// On success both RecvActive and SendActive are cleared, and no event
// still pending for c in the current batch is dispatched.
func (ctx *Context) DelConn(c *Conn) error {
	mustValid(c)
	mask := c.registered()
	if mask == netpoll.None {
		return nil
	}
	err := ctx.backend.Unregister(c.FD, mask, netpoll.None, c.pointer())
	if err == nil {
		c.RecvActive, c.SendActive = false, false
	}
	return err
}

// AddOut adds output interest to the registration of c, it's a no-op when
// SendActive is already set. On success SendActive is set.
func (ctx *Context) AddOut(c *Conn) error {
	mustValid(c)
	if !c.RecvActive {
		panic("event: output interest without a read registration")
	}
	if c.SendActive {
		return nil
	}
	err := ctx.backend.Register(c.FD, netpoll.Readable|netpoll.Writable, netpoll.Readable, true, c.pointer())
	if err == nil {
		c.SendActive = true
	}
	return err
}

// DelOut drops output interest from the registration of c, it's a no-op when
// SendActive is already cleared. On success SendActive is cleared.
func (ctx *Context) DelOut(c *Conn) error {
	mustValid(c)
	if !c.RecvActive {
		panic("event: output interest without a read registration")
	}
	if !c.SendActive {
		return nil
	}
	err := ctx.backend.Unregister(c.FD, netpoll.Writable, netpoll.Readable, c.pointer())
	if err == nil {
		c.SendActive = false
	}
	return err
}

// AddStatic registers fd, a descriptor meant to live as long as the
// process such as a listener, for readability, level-triggered. Its events
// reach the handler with a nil *Conn: the caller tells such descriptors
// apart on its own.
func (ctx *Context) AddStatic(fd int) error {
	if fd <= 0 {
		panic("event: invalid descriptor")
	}
	return ctx.backend.Register(fd, netpoll.Readable, netpoll.None, false, nil)
}
