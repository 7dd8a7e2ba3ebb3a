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
	"unsafe"

	"golang.org/x/sys/unix"
)

// The system calls are reached through variables so that tests can stand in for the kernel.
var (
	epollCreate = unix.EpollCreate1
	epollCtl    = unix.EpollCtl
	epollWait   = unix.EpollWait
	sysClose    = unix.Close
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// x/sys names the first half of the epoll_data union Fd on every architecture,
// so the union always starts at the address of Fd, whatever padding precedes it.
// The payload is copied byte-wise since that address is not pointer-aligned.

func setUserData(ev *unix.EpollEvent, ud unsafe.Pointer) {
	*(*[ptrSize]byte)(unsafe.Pointer(&ev.Fd)) = *(*[ptrSize]byte)(unsafe.Pointer(&ud))
}

func getUserData(ev *unix.EpollEvent) (ud unsafe.Pointer) {
	*(*[ptrSize]byte)(unsafe.Pointer(&ud)) = *(*[ptrSize]byte)(unsafe.Pointer(&ev.Fd))
	return
}
