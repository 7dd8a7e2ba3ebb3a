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

//go:build linux

package netpoll

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
	"github.com/ncproxy/ncproxy/pkg/logging"
)

// epoll represents the epoll(7) backend.
type epoll struct {
	fd      int               // epoll fd
	events  []unix.EpollEvent // event slots, reused by every wait
	pending []unix.EpollEvent // not yet dispatched part of the current batch
	logger  logging.Logger
}

// OpenBackend instantiates the epoll backend with capacity event slots.
// A nil logger selects the default logger.
func OpenBackend(capacity int, logger logging.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if capacity <= 0 {
		logger.Errorf("epoll create of size %d failed: %v", capacity, errorx.ErrInvalidCapacity)
		return nil, errorx.ErrInvalidCapacity
	}
	fd, err := epollCreate(unix.EPOLL_CLOEXEC)
	if err != nil {
		err = os.NewSyscallError("epoll_create1", err)
		logger.Errorf("epoll create of size %d failed: %v", capacity, err)
		return nil, fmt.Errorf("%w: %w", errorx.ErrBackendCreate, err)
	}
	logger.Debugf("e %d with nevent %d", fd, capacity)
	return &epoll{
		fd:     fd,
		events: make([]unix.EpollEvent, capacity),
		logger: logger,
	}, nil
}

func (p *epoll) Name() string { return "epoll" }

func (p *epoll) Fd() int { return p.fd }

func (p *epoll) Capacity() int { return len(p.events) }

// Close closes the epoll fd. A failure is logged and reported but leaves
// the backend released either way.
func (p *epoll) Close() error {
	if p.fd < 0 {
		return nil
	}
	fd := p.fd
	p.fd, p.events, p.pending = -1, nil, nil
	if err := sysClose(fd); err != nil {
		err = os.NewSyscallError("close", err)
		p.logger.Errorf("close e %d failed, ignored: %v", fd, err)
		return err
	}
	return nil
}

func toEpollEvents(mask Mask, edgeTriggered bool) (ev uint32) {
	if edgeTriggered {
		ev = unix.EPOLLET
	}
	if mask.IsReadable() {
		ev |= unix.EPOLLIN
	}
	if mask.IsWritable() {
		ev |= unix.EPOLLOUT
	}
	return
}

func (p *epoll) ctl(op, fd int, ev *unix.EpollEvent, opName string) error {
	if err := epollCtl(p.fd, op, fd, ev); err != nil {
		err = os.NewSyscallError(opName, err)
		p.logger.Errorf("epoll ctl on e %d sd %d failed: %v", p.fd, fd, err)
		return fmt.Errorf("%w: %w", errorx.ErrRegistration, err)
	}
	return nil
}

// Register adds fd when prior is None, otherwise it renews the registration with mask.
func (p *epoll) Register(fd int, mask, prior Mask, edgeTriggered bool, ud unsafe.Pointer) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask, edgeTriggered)}
	setUserData(&ev, ud)
	if prior == None {
		return p.ctl(unix.EPOLL_CTL_ADD, fd, &ev, "epoll_ctl add")
	}
	return p.ctl(unix.EPOLL_CTL_MOD, fd, &ev, "epoll_ctl mod")
}

// Unregister deletes fd when remaining is None, otherwise it renews the registration
// with remaining. Only connection sockets are ever partially unregistered, so the
// renewed registration is edge-triggered.
func (p *epoll) Unregister(fd int, _, remaining Mask, ud unsafe.Pointer) error {
	if remaining != None {
		ev := unix.EpollEvent{Events: toEpollEvents(remaining, true)}
		setUserData(&ev, ud)
		return p.ctl(unix.EPOLL_CTL_MOD, fd, &ev, "epoll_ctl mod")
	}
	if err := p.ctl(unix.EPOLL_CTL_DEL, fd, nil, "epoll_ctl del"); err != nil {
		return err
	}
	p.discardPending(ud)
	return nil
}

// discardPending drops the entries of the batch in dispatch that still refer to ud.
// A zero event mask is never reported by the kernel, it marks a dropped entry.
func (p *epoll) discardPending(ud unsafe.Pointer) {
	if ud == nil {
		return
	}
	for i := range p.pending {
		if ev := &p.pending[i]; ev.Events != 0 && getUserData(ev) == ud {
			ev.Events = 0
			setUserData(ev, nil)
		}
	}
}

func fromEpollEvents(ev uint32) (mask Mask) {
	if ev&unix.EPOLLERR != 0 {
		mask |= Error
	}
	if ev&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
		mask |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		mask |= Writable
	}
	return
}

// Wait blocks on epoll_wait and dispatches the ready events to handler.
func (p *epoll) Wait(msec int, handler Handler) (int, error) {
	for {
		n, err := epollWait(p.fd, p.events, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			err = os.NewSyscallError("epoll_wait", err)
			p.logger.Errorf("epoll wait on e %d with %d events failed: %v", p.fd, len(p.events), err)
			return -1, fmt.Errorf("%w: %w", errorx.ErrEventWait, err)
		}
		if n == 0 {
			if msec < 0 {
				p.logger.Errorf("epoll wait on e %d with %d events and %d timeout returned no events",
					p.fd, len(p.events), msec)
				return -1, errorx.ErrAnomalousEmptyWait
			}
			return 0, nil
		}
		return p.dispatch(n, handler), nil
	}
}

func (p *epoll) dispatch(n int, handler Handler) (delivered int) {
	events := p.events[:n]
	defer func() { p.pending = nil }()
	for i := range events {
		ev := &events[i]
		p.pending = events[i+1:]
		if ev.Events == 0 {
			continue
		}
		if handler != nil {
			handler(getUserData(ev), fromEpollEvents(ev.Events))
		}
		delivered++
	}
	return
}
