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

// Package event is the event context of the ncproxy reactor: it owns one
// netpoll.Backend and its readiness handler, and translates the lifecycle of
// a connection (accepted, output pending, output drained, closed) into
// backend registrations.
//
// A Context belongs to a single goroutine, the reactor. The handler runs on
// that goroutine inside Wait, once per ready event, and may itself call any
// method of the Context.
package event

import (
	"unsafe"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
	"github.com/ncproxy/ncproxy/pkg/logging"
	"github.com/ncproxy/ncproxy/pkg/netpoll"
)

// Handler is invoked for every ready event. c is nil for events of
// descriptors registered with AddStatic.
type Handler func(c *Conn, mask netpoll.Mask)

// Context is the event context.
type Context struct {
	capacity int
	backend  netpoll.Backend
	handler  Handler
	dispatch netpoll.Handler
	logger   logging.Logger
}

// New creates an event context able to report up to capacity events per Wait.
// A failure here is fatal to the reactor, which is expected to abort startup.
func New(capacity int, handler Handler, opts ...Option) (*Context, error) {
	options := loadOptions(opts...)
	logger := options.Logger
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if capacity <= 0 {
		logger.Errorf("create event of size %d failed: %v", capacity, errorx.ErrInvalidCapacity)
		return nil, errorx.ErrInvalidCapacity
	}

	backend := options.Backend
	if backend == nil {
		var err error
		if backend, err = netpoll.OpenBackend(capacity, logger); err != nil {
			logger.Errorf("event create of size %d failed: %v", capacity, err)
			return nil, err
		}
	}

	ctx := &Context{
		capacity: capacity,
		backend:  backend,
		handler:  handler,
		logger:   logger,
	}
	ctx.dispatch = func(ud unsafe.Pointer, mask netpoll.Mask) {
		if ctx.handler != nil {
			ctx.handler((*Conn)(ud), mask)
		}
	}
	return ctx, nil
}

// Close releases the backend. Failures are logged by the backend and
// returned, the context is unusable afterwards either way.
func (ctx *Context) Close() error {
	return ctx.backend.Close()
}

// Wait blocks for at most msec milliseconds (-1 blocks indefinitely, 0 polls)
// and dispatches the ready events to the handler. It returns the number of
// events dispatched.
func (ctx *Context) Wait(msec int) (int, error) {
	return ctx.backend.Wait(msec, ctx.dispatch)
}

// Capacity returns the maximum number of events dispatched by a single Wait.
func (ctx *Context) Capacity() int {
	return ctx.capacity
}

// Backend returns the underlying backend.
func (ctx *Context) Backend() netpoll.Backend {
	return ctx.backend
}
