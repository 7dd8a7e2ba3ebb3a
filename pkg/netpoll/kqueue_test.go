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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
)

type change struct {
	fd     int
	filter int
	flags  int
}

type filterKey struct {
	fd     int
	filter int
}

// fakeKqueue stands in for the kernel: it records every changelist and
// answers event waits from a script of steps.
type fakeKqueue struct {
	regs    map[filterKey]unsafe.Pointer
	calls   [][]change
	steps   []func(events []unix.Kevent_t) (int, error)
	waits   int
	buffers []*unix.Kevent_t
}

func installFakeKqueue(t *testing.T) *fakeKqueue {
	k := &fakeKqueue{regs: make(map[filterKey]unsafe.Pointer)}
	create, kev, closeFn := kqueueCreate, kevent, sysClose
	kqueueCreate = func() (int, error) { return 1000, nil }
	kevent = k.kevent
	sysClose = func(int) error { return nil }
	t.Cleanup(func() {
		kqueueCreate, kevent, sysClose = create, kev, closeFn
	})
	return k
}

func (k *fakeKqueue) kevent(_ int, changes, events []unix.Kevent_t, _ *unix.Timespec) (int, error) {
	if len(changes) > 0 {
		var call []change
		for _, ch := range changes {
			call = append(call, change{fd: int(ch.Ident), filter: int(ch.Filter), flags: int(ch.Flags)})
			key := filterKey{int(ch.Ident), int(ch.Filter)}
			switch {
			case ch.Flags&unix.EV_ADD != 0:
				k.regs[key] = unsafe.Pointer(ch.Udata)
			case ch.Flags&unix.EV_DELETE != 0:
				if _, ok := k.regs[key]; !ok {
					k.calls = append(k.calls, call)
					return -1, unix.ENOENT
				}
				delete(k.regs, key)
			}
		}
		k.calls = append(k.calls, call)
		return 0, nil
	}
	k.waits++
	if len(events) > 0 {
		k.buffers = append(k.buffers, &events[0])
	}
	if len(k.steps) == 0 {
		return 0, nil
	}
	step := k.steps[0]
	k.steps = k.steps[1:]
	return step(events)
}

func (k *fakeKqueue) interrupt() {
	k.steps = append(k.steps, func([]unix.Kevent_t) (int, error) { return -1, unix.EINTR })
}

// deliver hands the given entries to the next wait.
func (k *fakeKqueue) deliver(entries ...unix.Kevent_t) {
	k.steps = append(k.steps, func(events []unix.Kevent_t) (int, error) {
		return copy(events, entries), nil
	})
}

// entry builds a ready entry for a registered filter of fd.
func (k *fakeKqueue) entry(fd, filter int) unix.Kevent_t {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, 0)
	ev.Udata = (*byte)(k.regs[filterKey{fd, filter}])
	return ev
}

func errorEntry(fd, filter int, errno unix.Errno) unix.Kevent_t {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, unix.EV_ERROR)
	ev.Data = int64(errno)
	return ev
}

func TestKqueueFiltersAreIndependentSubscriptions(t *testing.T) {
	k := installFakeKqueue(t)
	b, err := OpenBackend(8, nil)
	require.NoError(t, err)
	tk := &token{}
	ud := unsafe.Pointer(tk)

	require.NoError(t, b.Register(5, Readable|Writable, None, true, ud))
	require.NoError(t, b.Unregister(5, Writable, Readable, ud))
	require.NoError(t, b.Register(5, Readable|Writable, Readable, true, ud))
	require.NoError(t, b.Unregister(5, Readable|Writable, None, ud))
	require.NoError(t, b.Register(3, Readable, None, false, nil))

	assert.Equal(t, [][]change{
		{{fd: 5, filter: unix.EVFILT_READ, flags: unix.EV_ADD | unix.EV_CLEAR}},
		{{fd: 5, filter: unix.EVFILT_WRITE, flags: unix.EV_ADD | unix.EV_CLEAR}},
		{{fd: 5, filter: unix.EVFILT_WRITE, flags: unix.EV_DELETE}},
		{{fd: 5, filter: unix.EVFILT_WRITE, flags: unix.EV_ADD | unix.EV_CLEAR}},
		{{fd: 5, filter: unix.EVFILT_READ, flags: unix.EV_DELETE}},
		{{fd: 5, filter: unix.EVFILT_WRITE, flags: unix.EV_DELETE}},
		{{fd: 3, filter: unix.EVFILT_READ, flags: unix.EV_ADD}},
	}, k.calls, "every filter change must be its own kevent call")
	assert.Len(t, k.regs, 1)
}

func TestKqueueDeleteOfMissingFilterFails(t *testing.T) {
	installFakeKqueue(t)
	b, err := OpenBackend(8, nil)
	require.NoError(t, err)
	require.NoError(t, b.Register(5, Readable, None, true, nil))

	err = b.Unregister(5, Readable|Writable, None, nil)
	assert.ErrorIs(t, err, errorx.ErrRegistration)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestKqueueEventTranslation(t *testing.T) {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, 4, unix.EVFILT_READ, unix.EV_EOF)
	mask, ok := fromKevent(&ev)
	assert.True(t, ok)
	assert.Equal(t, Readable, mask, "hangup is reported as readable")

	ev.Fflags = uint32(unix.ECONNRESET)
	mask, ok = fromKevent(&ev)
	assert.True(t, ok)
	assert.Equal(t, Readable|Error, mask)

	unix.SetKevent(&ev, 4, unix.EVFILT_WRITE, 0)
	mask, ok = fromKevent(&ev)
	assert.True(t, ok)
	assert.Equal(t, Writable, mask)

	for _, errno := range []unix.Errno{unix.EBADF, unix.ENOENT, unix.EINVAL} {
		ev = errorEntry(4, unix.EVFILT_READ, errno)
		_, ok = fromKevent(&ev)
		assert.Falsef(t, ok, "errno %v must be dropped", errno)
	}
	ev = errorEntry(4, unix.EVFILT_READ, unix.EPERM)
	mask, ok = fromKevent(&ev)
	assert.True(t, ok)
	assert.Equal(t, Error|Readable, mask)
}

func TestKqueueStaleEntriesAreDropped(t *testing.T) {
	k := installFakeKqueue(t)
	b, err := OpenBackend(8, nil)
	require.NoError(t, err)
	tk := &token{id: 1}
	require.NoError(t, b.Register(6, Readable, None, true, unsafe.Pointer(tk)))
	k.deliver(
		errorEntry(5, unix.EVFILT_READ, unix.EBADF),
		k.entry(6, unix.EVFILT_READ),
		errorEntry(5, unix.EVFILT_WRITE, unix.ENOENT),
	)

	var seen []int
	n, err := b.Wait(100, func(ud unsafe.Pointer, mask Mask) {
		seen = append(seen, (*token)(ud).id)
		assert.Equal(t, Readable, mask)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{1}, seen)
}

func TestKqueueDeletedFilterDuringBatchIsDropped(t *testing.T) {
	k := installFakeKqueue(t)
	b, err := OpenBackend(8, nil)
	require.NoError(t, err)
	a, c := &token{id: 1}, &token{id: 2}
	require.NoError(t, b.Register(5, Readable|Writable, None, true, unsafe.Pointer(a)))
	require.NoError(t, b.Register(6, Readable|Writable, None, true, unsafe.Pointer(c)))
	k.deliver(k.entry(5, unix.EVFILT_READ), k.entry(6, unix.EVFILT_READ), k.entry(6, unix.EVFILT_WRITE), k.entry(5, unix.EVFILT_WRITE))

	var seen []int
	n, err := b.Wait(100, func(ud unsafe.Pointer, _ Mask) {
		seen = append(seen, (*token)(ud).id)
		if len(seen) == 1 {
			require.NoError(t, b.Unregister(6, Readable|Writable, None, unsafe.Pointer(c)))
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, seen)
	assert.Equal(t, 2, n)
}

func TestKqueueInterruptedWaitIsTransparent(t *testing.T) {
	k := installFakeKqueue(t)
	b, err := OpenBackend(8, nil)
	require.NoError(t, err)
	tk := &token{}
	require.NoError(t, b.Register(7, Readable, None, true, unsafe.Pointer(tk)))
	k.interrupt()
	k.interrupt()
	k.deliver(k.entry(7, unix.EVFILT_READ))

	var masks []Mask
	n, err := b.Wait(-1, func(ud unsafe.Pointer, mask Mask) {
		assert.Equal(t, unsafe.Pointer(tk), ud)
		masks = append(masks, mask)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []Mask{Readable}, masks)
	assert.Equal(t, 3, k.waits)
}

func TestKqueueAnomalousEmptyWait(t *testing.T) {
	k := installFakeKqueue(t)
	b, err := OpenBackend(4, nil)
	require.NoError(t, err)

	_, err = b.Wait(-1, nil)
	assert.ErrorIs(t, err, errorx.ErrAnomalousEmptyWait)

	n, err := b.Wait(0, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, k.buffers, 2)
	assert.Same(t, k.buffers[0], k.buffers[1], "event slots must be reused")
}

func TestKqueueCreateFailure(t *testing.T) {
	installFakeKqueue(t)
	kqueueCreate = func() (int, error) { return -1, unix.EMFILE }

	b, err := OpenBackend(8, nil)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, errorx.ErrBackendCreate)
	assert.ErrorIs(t, err, unix.EMFILE)
}
