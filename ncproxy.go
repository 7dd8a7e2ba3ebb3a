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

// Package ncproxy is the reactor of a twemproxy-style proxy: a single
// goroutine owns an event context (epoll on Linux, kqueue on the BSDs),
// accepts TCP connections and drives their reads and writes through the
// readiness callbacks of that context.
//
//	type echo struct{ ncproxy.BuiltinEventEngine }
//
//	func (echo) OnTraffic(c ncproxy.Conn, data []byte) ([]byte, ncproxy.Action) {
//		return data, ncproxy.None
//	}
//
//	err := ncproxy.Run(echo{}, "tcp://127.0.0.1:22121")
package ncproxy

import (
	"context"
	"net"
	"strings"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
)

// Action is an action that occurs after the completion of an event.
type Action int

const (
	// None indicates that no action should occur following an event.
	None Action = iota

	// Close closes the connection.
	Close

	// Shutdown shutdowns the engine.
	Shutdown
)

// Conn is a client connection of the engine.
//
// Unless noted otherwise its methods must only be called from the event
// handler, on the reactor goroutine.
type Conn interface {
	// Fd returns the underlying file descriptor.
	Fd() int

	// Context returns a user-defined context.
	Context() interface{}

	// SetContext sets a user-defined context.
	SetContext(ctx interface{})

	// LocalAddr is the connection's local socket address.
	LocalAddr() net.Addr

	// RemoteAddr is the connection's remote peer address.
	RemoteAddr() net.Addr

	// AsyncWrite queues buf to be written by the reactor. It's safe to call
	// from any goroutine, buf must not be modified afterwards.
	AsyncWrite(buf []byte) error

	// Close closes the connection on the reactor. It's safe to call from any
	// goroutine.
	Close() error
}

// EventHandler represents the engine events' callbacks for the Run call.
// Each event has an Action return value that is used manage the state
// of the connection and engine.
type EventHandler interface {
	// OnBoot fires when the engine is ready for accepting connections.
	OnBoot(eng *Engine) (action Action)

	// OnShutdown fires when the engine is being shut down, it is called right
	// after all connections have been closed.
	OnShutdown(eng *Engine)

	// OnOpen fires when a new connection has been opened.
	// The parameter out is the return value which is going to be sent back to the peer.
	OnOpen(c Conn) (out []byte, action Action)

	// OnClose fires when a connection has been closed.
	// The parameter err is the last known connection error, nil when the peer
	// closed the connection or it was closed by an action.
	OnClose(c Conn, err error) (action Action)

	// OnTraffic fires when data arrived on a connection. data is only valid
	// until OnTraffic returns, unless the engine runs with an async handler.
	OnTraffic(c Conn, data []byte) (out []byte, action Action)
}

// BuiltinEventEngine is a built-in implementation of EventHandler which sets up
// each method with a default implementation, you can compose it with your own
// implementation of EventHandler when you don't want to implement all methods.
type BuiltinEventEngine struct{}

// OnBoot fires when the engine is ready for accepting connections.
func (BuiltinEventEngine) OnBoot(_ *Engine) (action Action) {
	return
}

// OnShutdown fires when the engine is being shut down.
func (BuiltinEventEngine) OnShutdown(_ *Engine) {
}

// OnOpen fires when a new connection has been opened.
func (BuiltinEventEngine) OnOpen(_ Conn) (out []byte, action Action) {
	return
}

// OnClose fires when a connection has been closed.
func (BuiltinEventEngine) OnClose(_ Conn, _ error) (action Action) {
	return
}

// OnTraffic fires when data arrived on a connection.
func (BuiltinEventEngine) OnTraffic(_ Conn, _ []byte) (out []byte, action Action) {
	return
}

// Run starts handling events on the specified address and blocks until the
// engine is shut down.
//
// Address should use a scheme prefix and be formatted
// like `tcp://192.168.0.10:9851`, valid networks are "tcp", "tcp4" and "tcp6".
// Without a prefix "tcp" is assumed.
func Run(eventHandler EventHandler, protoAddr string, opts ...Option) error {
	eng, err := NewEngine(eventHandler, protoAddr, opts...)
	if err != nil {
		return err
	}
	return eng.Start(context.Background())
}

func parseProtoAddr(protoAddr string) (network, address string, err error) {
	network, address = "tcp", protoAddr
	if i := strings.Index(protoAddr, "://"); i >= 0 {
		network, address = strings.ToLower(protoAddr[:i]), protoAddr[i+3:]
	}
	if network == "" || address == "" {
		return "", "", errorx.ErrInvalidNetworkAddress
	}
	return
}
