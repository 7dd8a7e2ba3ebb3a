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

package socket

import (
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

func sysSocket(family, sotype, proto int) (fd int, err error) {
	// Not every BSD takes the type flags, set them the long way.
	if fd, err = unix.Socket(family, sotype, proto); err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("setnonblock", err)
	}
	return fd, nil
}

func sysAccept(fd int) (nfd int, sa unix.Sockaddr, err error) {
	if nfd, sa, err = unix.Accept(fd); err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(nfd)
	if err = unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, os.NewSyscallError("setnonblock", err)
	}
	return nfd, sa, nil
}

func maxListenerBacklog() int {
	var (
		n   uint32
		err error
	)
	switch runtime.GOOS {
	case "darwin", "freebsd":
		n, err = unix.SysctlUint32("kern.ipc.somaxconn")
	case "openbsd", "dragonfly":
		n, err = unix.SysctlUint32("kern.somaxconn")
	}
	if n == 0 || err != nil {
		return unix.SOMAXCONN
	}
	// The kernel keeps the backlog in a uint16.
	if n > 1<<16-1 {
		n = 1<<16 - 1
	}
	return int(n)
}
