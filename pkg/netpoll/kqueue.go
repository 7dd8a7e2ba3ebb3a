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

//go:build darwin || dragonfly || freebsd || openbsd

package netpoll

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
	"github.com/ncproxy/ncproxy/pkg/logging"
)

// kqueue represents the kqueue(2) backend.
//
// Unlike epoll, the readable and writable conditions of a descriptor are two
// independent kernel subscriptions (filters), each one added and deleted by
// its own kevent call.
type kqueue struct {
	fd      int
	events  []unix.Kevent_t // event slots, reused by every wait
	pending []unix.Kevent_t // not yet dispatched part of the current batch
	logger  logging.Logger
}

// OpenBackend instantiates the kqueue backend with capacity event slots.
// A nil logger selects the default logger.
func OpenBackend(capacity int, logger logging.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if capacity <= 0 {
		logger.Errorf("kqueue create of size %d failed: %v", capacity, errorx.ErrInvalidCapacity)
		return nil, errorx.ErrInvalidCapacity
	}
	fd, err := kqueueCreate()
	if err != nil {
		err = os.NewSyscallError("kqueue", err)
		logger.Errorf("kqueue create of size %d failed: %v", capacity, err)
		return nil, fmt.Errorf("%w: %w", errorx.ErrBackendCreate, err)
	}
	unix.CloseOnExec(fd)
	logger.Debugf("kq %d with nevent %d", fd, capacity)
	return &kqueue{
		fd:     fd,
		events: make([]unix.Kevent_t, capacity),
		logger: logger,
	}, nil
}

func (p *kqueue) Name() string { return "kqueue" }

func (p *kqueue) Fd() int { return p.fd }

func (p *kqueue) Capacity() int { return len(p.events) }

// Close closes the kqueue fd. A failure is logged and reported but leaves
// the backend released either way.
func (p *kqueue) Close() error {
	if p.fd < 0 {
		return nil
	}
	fd := p.fd
	p.fd, p.events, p.pending = -1, nil, nil
	if err := sysClose(fd); err != nil {
		err = os.NewSyscallError("close", err)
		p.logger.Errorf("close kq %d failed, ignored: %v", fd, err)
		return err
	}
	return nil
}

// change applies exactly one filter change to the kqueue.
func (p *kqueue) change(fd, filter, flags int, ud unsafe.Pointer) error {
	var ke unix.Kevent_t
	unix.SetKevent(&ke, fd, filter, flags)
	ke.Udata = (*byte)(ud)
	if _, err := kevent(p.fd, []unix.Kevent_t{ke}, nil, nil); err != nil {
		op := "kevent add"
		if flags&unix.EV_DELETE != 0 {
			op = "kevent delete"
		}
		err = os.NewSyscallError(op, err)
		p.logger.Errorf("kqueue ctl on kq %d sd %d failed: %v", p.fd, fd, err)
		return fmt.Errorf("%w: %w", errorx.ErrRegistration, err)
	}
	return nil
}

func (p *kqueue) add(fd, filter int, edgeTriggered bool, ud unsafe.Pointer) error {
	flags := unix.EV_ADD
	if edgeTriggered {
		flags |= unix.EV_CLEAR
	}
	return p.change(fd, filter, flags, ud)
}

func (p *kqueue) delete(fd, filter int) error {
	if err := p.change(fd, filter, unix.EV_DELETE, nil); err != nil {
		return err
	}
	p.discardPending(fd, filter)
	return nil
}

// Register adds the filters of mask that prior lacks and deletes the filters
// of prior that mask lacks. Filters present in both are left untouched.
func (p *kqueue) Register(fd int, mask, prior Mask, edgeTriggered bool, ud unsafe.Pointer) error {
	if add := mask &^ prior; add != None {
		if add.IsReadable() {
			if err := p.add(fd, unix.EVFILT_READ, edgeTriggered, ud); err != nil {
				return err
			}
		}
		if add.IsWritable() {
			if err := p.add(fd, unix.EVFILT_WRITE, edgeTriggered, ud); err != nil {
				return err
			}
		}
	}
	if del := prior &^ mask; del != None {
		return p.deleteFilters(fd, del)
	}
	return nil
}

// Unregister deletes the filters of mask that remaining does not keep.
func (p *kqueue) Unregister(fd int, mask, remaining Mask, _ unsafe.Pointer) error {
	return p.deleteFilters(fd, mask&^remaining)
}

func (p *kqueue) deleteFilters(fd int, del Mask) error {
	if del.IsReadable() {
		if err := p.delete(fd, unix.EVFILT_READ); err != nil {
			return err
		}
	}
	if del.IsWritable() {
		if err := p.delete(fd, unix.EVFILT_WRITE); err != nil {
			return err
		}
	}
	return nil
}

// discardPending drops the entries of the batch in dispatch that refer to the
// deleted filter of fd. Filter 0 does not exist, it marks a dropped entry.
func (p *kqueue) discardPending(fd, filter int) {
	for i := range p.pending {
		if ev := &p.pending[i]; int(ev.Ident) == fd && int(ev.Filter) == filter {
			ev.Filter = 0
			ev.Udata = nil
		}
	}
}

// isStale reports whether an EV_ERROR entry refers to a descriptor that was
// closed (EBADF), closed and reopened (ENOENT), or deleted by an earlier
// handler of the same batch (ENOENT). Some kernels report EINVAL there too.
func isStale(errno unix.Errno) bool {
	switch errno {
	case unix.EBADF, unix.ENOENT, unix.EINVAL:
		return true
	}
	return false
}

func fromKevent(ev *unix.Kevent_t) (mask Mask, ok bool) {
	if ev.Flags&unix.EV_ERROR != 0 {
		if isStale(unix.Errno(ev.Data)) {
			return None, false
		}
		mask |= Error
	}
	switch int(ev.Filter) {
	case unix.EVFILT_READ:
		mask |= Readable
	case unix.EVFILT_WRITE:
		mask |= Writable
	case 0:
		return None, false
	}
	// A pending socket error comes along with EV_EOF in fflags.
	if ev.Flags&unix.EV_EOF != 0 && ev.Fflags != 0 {
		mask |= Error
	}
	return mask, true
}

// Wait blocks on kevent and dispatches the ready events to handler.
func (p *kqueue) Wait(msec int, handler Handler) (int, error) {
	var tsp *unix.Timespec
	if msec >= 0 {
		ts := unix.NsecToTimespec(int64(msec) * int64(time.Millisecond))
		tsp = &ts
	}
	for {
		n, err := kevent(p.fd, nil, p.events, tsp)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			err = os.NewSyscallError("kevent wait", err)
			p.logger.Errorf("kevent on kq %d with %d events failed: %v", p.fd, len(p.events), err)
			return -1, fmt.Errorf("%w: %w", errorx.ErrEventWait, err)
		}
		if n == 0 {
			if msec < 0 {
				p.logger.Errorf("kqueue on kq %d with %d events and %d timeout returned no events",
					p.fd, len(p.events), msec)
				return -1, errorx.ErrAnomalousEmptyWait
			}
			return 0, nil
		}
		return p.dispatch(n, handler), nil
	}
}

func (p *kqueue) dispatch(n int, handler Handler) (delivered int) {
	events := p.events[:n]
	defer func() { p.pending = nil }()
	for i := range events {
		ev := &events[i]
		p.pending = events[i+1:]
		mask, ok := fromKevent(ev)
		if !ok {
			continue
		}
		if handler != nil {
			handler(unsafe.Pointer(ev.Udata), mask)
		}
		delivered++
	}
	return
}
