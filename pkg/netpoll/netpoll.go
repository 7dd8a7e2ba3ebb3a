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

/*
Package netpoll provides the readiness-notification backend of ncproxy.

The underlying facility of event notification is OS-specific and chosen at build time:
  - epoll on Linux - https://man7.org/linux/man-pages/man7/epoll.7.html
  - kqueue on *BSD/Darwin - https://man.freebsd.org/cgi/man.cgi?kqueue

Exactly one implementation of Backend is compiled into a binary. OpenBackend
creates it with a fixed number of event slots that are reused by every Wait call:

	b, err := netpoll.OpenBackend(1024, nil)
	if err != nil {
		// abort startup
	}
	defer b.Close()

	// Register a connection socket for both directions, edge-triggered.
	if err := b.Register(fd, netpoll.Readable|netpoll.Writable, netpoll.None, true, unsafe.Pointer(c)); err != nil {
		// close the connection
	}

	n, err := b.Wait(100, func(ud unsafe.Pointer, mask netpoll.Mask) {
		c := (*conn)(ud)
		// react to mask
	})

The user data handed to Register is stored in the kernel's per-event payload and
given back verbatim to the Handler. The backend never keeps it alive: the caller
must keep the referenced object reachable for as long as it stays registered.

A Backend is owned by a single goroutine; none of its methods are safe for
concurrent use. The Handler may call Register and Unregister for any descriptor,
including ones that still have entries pending in the batch being dispatched.
A full Unregister discards those pending entries.
*/
package netpoll

import (
	"strings"
	"unsafe"
)

// Mask is a set of readiness conditions.
type Mask uint8

const (
	// None is the empty mask, it stands for "not registered".
	None Mask = 0
	// Readable reports that a descriptor can be read without blocking, or that the peer hung up.
	Readable Mask = 1
	// Writable reports that a descriptor can be written without blocking.
	Writable Mask = 2
	// Error reports an error condition pending on a descriptor.
	Error Mask = 4
)

// IsReadable reports whether m contains Readable.
func (m Mask) IsReadable() bool {
	return m&Readable != 0
}

// IsWritable reports whether m contains Writable.
func (m Mask) IsWritable() bool {
	return m&Writable != 0
}

// IsError reports whether m contains Error.
func (m Mask) IsError() bool {
	return m&Error != 0
}

func (m Mask) String() string {
	if m == None {
		return "none"
	}
	var parts []string
	if m.IsReadable() {
		parts = append(parts, "R")
	}
	if m.IsWritable() {
		parts = append(parts, "W")
	}
	if m.IsError() {
		parts = append(parts, "E")
	}
	return strings.Join(parts, "|")
}

// Handler is invoked synchronously by Backend.Wait once per delivered event,
// in the order the kernel reported them. ud is the user data given at registration,
// it is nil for descriptors registered without one.
type Handler func(ud unsafe.Pointer, mask Mask)

// Backend is the contract every kernel event facility implements.
type Backend interface {
	// Register subscribes fd to the conditions in mask. When prior is None it
	// is a fresh registration, otherwise the existing registration, currently
	// subscribed to prior, is modified into mask.
	Register(fd int, mask, prior Mask, edgeTriggered bool, ud unsafe.Pointer) error

	// Unregister drops the conditions in mask from fd. When remaining is None
	// the registration is removed entirely, otherwise it is modified down to remaining.
	Unregister(fd int, mask, remaining Mask, ud unsafe.Pointer) error

	// Wait blocks for at most msec milliseconds (-1 blocks indefinitely, 0 polls)
	// and dispatches every ready event to handler. It returns the number of
	// handler invocations. Signal interruptions are retried transparently.
	Wait(msec int, handler Handler) (int, error)

	// Close releases the kernel facility and the event buffer.
	Close() error

	// Capacity returns the number of event slots, i.e. the maximum number
	// of events a single Wait call can deliver.
	Capacity() int

	// Name returns the name of the kernel facility, "epoll" or "kqueue".
	Name() string

	// Fd returns the descriptor of the kernel facility.
	Fd() int
}
