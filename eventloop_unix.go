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

package ncproxy

import (
	"errors"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ncproxy/ncproxy/internal/socket"
	errorx "github.com/ncproxy/ncproxy/pkg/errors"
	"github.com/ncproxy/ncproxy/pkg/event"
	"github.com/ncproxy/ncproxy/pkg/netpoll"
	"github.com/ncproxy/ncproxy/pkg/pool/bytebuffer"
)

// handleEvent is the readiness handler of the event context. Static
// descriptors carry no connection: any of them firing makes the reactor run
// its queued tasks and accept what is pending.
func (eng *Engine) handleEvent(ec *event.Conn, mask netpoll.Mask) {
	if eng.exitErr != nil {
		return
	}
	var err error
	if ec == nil {
		if err = eng.runTasks(); err == nil {
			err = eng.accept()
		}
	} else {
		err = eng.handleConn(ec.Context.(*conn), mask)
	}
	if err != nil {
		eng.exitErr = err
	}
}

func (eng *Engine) accept() error {
	for {
		nfd, remote, err := socket.Accept(eng.lnFD)
		switch err {
		case nil:
		case unix.EAGAIN:
			return nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			eng.logger.Errorf("accept on p %d failed: %v", eng.lnFD, os.NewSyscallError("accept", err))
			return nil
		}

		if err = socket.SetNoDelay(nfd, 1); err != nil {
			eng.logger.Warnf("set nodelay on c %d failed, ignored: %v", nfd, err)
		}
		c := newConn(eng, nfd, remote)
		if err = eng.ev.AddConn(&c.Conn); err != nil {
			eng.logger.Errorf("event add conn c %d failed: %v", nfd, err)
			_ = unix.Close(nfd)
			c.release()
			continue
		}
		eng.conns[nfd] = c
		c.opened = true
		atomic.AddInt32(&eng.connCnt, 1)
		eng.logger.Debugf("accepted c %d from %s", nfd, remote)

		out, action := eng.eventHandler.OnOpen(c)
		if len(out) > 0 {
			eng.write(c, out)
		}
		if err = eng.handleAction(c, action); err != nil {
			return err
		}
	}
}

func (eng *Engine) handleConn(c *conn, mask netpoll.Mask) error {
	if mask.IsError() {
		return eng.closeConn(c, socketError(c.FD))
	}
	if mask.IsReadable() {
		if err := eng.read(c); err != nil || !c.opened {
			return err
		}
	}
	if mask.IsWritable() {
		eng.flush(c)
	}
	return nil
}

// socketError fetches the pending error of fd, the cause of an error event.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if errno == 0 {
		return nil
	}
	return os.NewSyscallError("socket", unix.Errno(errno))
}

// read reads until the socket is drained, the registration is edge-triggered.
func (eng *Engine) read(c *conn) error {
	for c.opened {
		n, err := unix.Read(c.FD, eng.buffer)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return eng.closeConn(c, os.NewSyscallError("read", err))
		}
		if n == 0 {
			return eng.closeConn(c, nil)
		}

		if eng.workerPool != nil {
			if err = eng.handleAsync(c, eng.buffer[:n]); err != nil {
				return eng.closeConn(c, err)
			}
			continue
		}
		out, action := eng.eventHandler.OnTraffic(c, eng.buffer[:n])
		if len(out) > 0 {
			eng.write(c, out)
		}
		if err = eng.handleAction(c, action); err != nil {
			return err
		}
	}
	return nil
}

// handleAsync hands a copy of data over to the goroutine pool. At most one
// worker runs OnTraffic for c at a time so the order of the data is kept.
func (eng *Engine) handleAsync(c *conn, data []byte) error {
	in := &c.inbound
	in.Lock()
	in.data = append(in.data, data...)
	if in.running {
		in.Unlock()
		return nil
	}
	in.running = true
	in.Unlock()

	err := eng.workerPool.Submit(func() { eng.drainInbound(c) })
	if err != nil {
		in.Lock()
		in.running = false
		in.Unlock()
	}
	return err
}

func (eng *Engine) drainInbound(c *conn) {
	in := &c.inbound
	for {
		in.Lock()
		data := in.data
		in.data = nil
		if len(data) == 0 || c.isClosed() {
			in.running = false
			if in.released {
				c.ctx = nil
			}
			in.Unlock()
			return
		}
		in.Unlock()

		out, action := eng.eventHandler.OnTraffic(c, data)
		if len(out) > 0 {
			_ = c.AsyncWrite(out)
		}
		switch action {
		case Close:
			_ = c.Close()
		case Shutdown:
			_ = eng.Stop()
		}
	}
}

// write sends data right away and queues what the socket does not take,
// output interest is kept as long as something is queued.
func (eng *Engine) write(c *conn, data []byte) {
	if !c.opened {
		return
	}
	if c.outbound.Len() > 0 {
		_, _ = c.outbound.Write(data)
		return
	}
	n, err := writeFD(c.FD, data)
	if err != nil {
		_ = eng.closeConn(c, err)
		return
	}
	if n == len(data) {
		return
	}
	_, _ = c.outbound.Write(data[n:])
	if err = eng.ev.AddOut(&c.Conn); err != nil {
		_ = eng.closeConn(c, err)
	}
}

// flush writes the queued data of c when it became writable, and drops the
// output interest once nothing is left.
func (eng *Engine) flush(c *conn) {
	for c.outbound.Len() > 0 {
		n, err := writeFD(c.FD, c.outbound.B)
		if err != nil {
			_ = eng.closeConn(c, err)
			return
		}
		if n == 0 {
			return
		}
		bytebuffer.Discard(c.outbound, n)
	}
	if err := eng.ev.DelOut(&c.Conn); err != nil {
		_ = eng.closeConn(c, err)
	}
}

// writeFD writes as much of data as the socket takes without blocking.
func writeFD(fd int, data []byte) (sent int, err error) {
	for sent < len(data) {
		n, err := unix.Write(fd, data[sent:])
		switch err {
		case nil:
			sent += n
		case unix.EINTR:
		case unix.EAGAIN:
			return sent, nil
		default:
			return sent, os.NewSyscallError("write", err)
		}
	}
	return sent, nil
}

// closeConn unregisters c, then closes its socket. The connection map lets
// go of c only after the unregistration, so no event of the current batch
// can reach a released connection.
func (eng *Engine) closeConn(c *conn, err error) error {
	if !c.opened {
		return nil
	}
	c.opened = false
	c.markClosed()

	if len(c.outbound.B) > 0 && err == nil {
		_, _ = writeFD(c.FD, c.outbound.B)
	}
	if e := eng.ev.DelConn(&c.Conn); e != nil {
		eng.logger.Errorf("event del conn c %d failed, ignored: %v", c.FD, e)
	}
	delete(eng.conns, c.FD)
	atomic.AddInt32(&eng.connCnt, -1)

	action := eng.eventHandler.OnClose(c, err)
	if e := unix.Close(c.FD); e != nil {
		eng.logger.Errorf("close c %d failed, ignored: %v", c.FD, os.NewSyscallError("close", e))
	}
	eng.logger.Debugf("closed c %d: %v", c.FD, err)
	c.release()

	return eng.handleAction(c, action)
}

func (eng *Engine) handleAction(c *conn, action Action) error {
	switch action {
	case Close:
		return eng.closeConn(c, nil)
	case Shutdown:
		return errorx.ErrEngineShutdown
	default:
		return nil
	}
}

// asyncWrite is the task behind Conn.AsyncWrite.
func (eng *Engine) asyncWrite(arg interface{}) error {
	w := arg.(*asyncWriteArg)
	if eng.conns[w.c.FD] != w.c {
		return nil
	}
	eng.write(w.c, w.data)
	return nil
}

// asyncClose is the task behind Conn.Close.
func (eng *Engine) asyncClose(arg interface{}) error {
	c := arg.(*conn)
	if eng.conns[c.FD] != c {
		return nil
	}
	err := eng.closeConn(c, nil)
	if errors.Is(err, errorx.ErrEngineShutdown) {
		return err
	}
	return nil
}
