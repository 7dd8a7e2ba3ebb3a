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

// Package socket creates the non-blocking TCP sockets of the engine.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
)

// Option is used for setting an option on socket.
type Option struct {
	SetSockopt func(fd, opt int) error
	Opt        int
}

var listenerBacklog = maxListenerBacklog()

// TCPListener creates a non-blocking, close-on-exec listening socket bound to
// addr and returns it along with the address it is actually bound to.
func TCPListener(network, addr string, sockopts ...Option) (fd int, bound net.Addr, err error) {
	sa, family, ipv6only, err := tcpSockaddr(network, addr)
	if err != nil {
		return -1, nil, err
	}

	if fd, err = sysSocket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if family == unix.AF_INET6 && ipv6only {
		if err = SetIPv6Only(fd, 1); err != nil {
			return
		}
	}
	for _, sockopt := range sockopts {
		if err = sockopt.SetSockopt(fd, sockopt.Opt); err != nil {
			return
		}
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, listenerBacklog)); err != nil {
		return
	}

	var local unix.Sockaddr
	if local, err = unix.Getsockname(fd); err != nil {
		err = os.NewSyscallError("getsockname", err)
		return
	}
	bound = SockaddrToTCPAddr(local)
	return
}

func tcpSockaddr(network, addr string) (sa unix.Sockaddr, family int, ipv6only bool, err error) {
	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, 0, false, err
	}

	switch tcpVersion(network, tcpAddr) {
	case "tcp4":
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		return sa4, unix.AF_INET, false, nil
	case "tcp6":
		ipv6only = true
		fallthrough
	case "tcp":
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP)
		if tcpAddr.Zone != "" {
			iface, err := net.InterfaceByName(tcpAddr.Zone)
			if err != nil {
				return nil, 0, false, err
			}
			sa6.ZoneId = uint32(iface.Index)
		}
		return sa6, unix.AF_INET6, ipv6only, nil
	}
	return nil, 0, false, errorx.ErrUnsupportedProtocol
}

// tcpVersion narrows "tcp" down to the family of the resolved IP. Without an
// IP the socket is dual-stack.
func tcpVersion(network string, addr *net.TCPAddr) string {
	if addr.IP.To4() != nil {
		return "tcp4"
	}
	if addr.IP.To16() != nil {
		return "tcp6"
	}
	return network
}

// Accept takes a pending connection off the listener fd. The returned socket
// is non-blocking and close-on-exec.
func Accept(fd int) (int, net.Addr, error) {
	nfd, sa, err := sysAccept(fd)
	if err != nil {
		return -1, nil, err
	}
	return nfd, SockaddrToTCPAddr(sa), nil
}

// SockaddrToTCPAddr converts sa to a *net.TCPAddr, it returns nil for other families.
func SockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), Port: sa.Port}
	case *unix.SockaddrInet6:
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zone}
	}
	return nil
}

// SetReuseAddr enables SO_REUSEADDR on fd.
func SetReuseAddr(fd, reuseAddr int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, reuseAddr))
}

// SetNoDelay controls Nagle's algorithm on fd.
func SetNoDelay(fd, noDelay int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, noDelay))
}

// SetIPv6Only restricts an AF_INET6 socket to IPv6 traffic.
func SetIPv6Only(fd, ipv6only int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, ipv6only))
}
