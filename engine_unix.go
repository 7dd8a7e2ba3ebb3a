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
	"context"
	"errors"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ncproxy/ncproxy/internal/queue"
	"github.com/ncproxy/ncproxy/internal/socket"
	errorx "github.com/ncproxy/ncproxy/pkg/errors"
	"github.com/ncproxy/ncproxy/pkg/event"
	"github.com/ncproxy/ncproxy/pkg/logging"
	"github.com/ncproxy/ncproxy/pkg/pool/goroutine"
)

// Engine accepts connections on one listener and serves them from a single
// reactor goroutine.
type Engine struct {
	opts         *Options
	eventHandler EventHandler
	logger       logging.Logger

	ev     *event.Context // epoll or kqueue
	lnFD   int            // listening socket
	addr   net.Addr       // address the listener is bound to
	buffer []byte         // read buffer shared by all connections

	// conns keeps every registered connection reachable, the backend only
	// holds raw pointers to them.
	conns   map[int]*conn
	connCnt int32

	tasks *queue.TaskQueue
	wake  struct {
		sync.RWMutex
		r, w    int
		pending int32
	}
	workerPool *goroutine.Pool

	started    int32
	inShutdown int32
	exitErr    error // why the reactor stops, set on the reactor goroutine
	done       chan struct{}
}

// NewEngine binds the listener and sets up the event context, without
// accepting connections until Start is called.
func NewEngine(eventHandler EventHandler, protoAddr string, opts ...Option) (eng *Engine, err error) {
	options := loadOptions(opts...)
	options.normalize()

	network, address, err := parseProtoAddr(protoAddr)
	if err != nil {
		return nil, err
	}

	eng = &Engine{
		opts:         options,
		eventHandler: eventHandler,
		logger:       options.Logger,
		lnFD:         -1,
		buffer:       make([]byte, options.ReadBufferCap),
		conns:        make(map[int]*conn),
		tasks:        queue.New(),
		done:         make(chan struct{}),
	}
	eng.wake.r, eng.wake.w = -1, -1
	defer func() {
		if err != nil {
			eng.release()
			eng = nil
		}
	}()

	if eng.ev, err = event.New(options.Capacity, eng.handleEvent, event.WithLogger(eng.logger)); err != nil {
		return
	}
	if eng.lnFD, eng.addr, err = socket.TCPListener(network, address,
		socket.Option{SetSockopt: socket.SetReuseAddr, Opt: 1}); err != nil {
		eng.logger.Errorf("listen on %s://%s failed: %v", network, address, err)
		return
	}
	if err = eng.openWakePipe(); err != nil {
		return
	}
	if err = eng.ev.AddStatic(eng.lnFD); err != nil {
		return
	}
	if err = eng.ev.AddStatic(eng.wake.r); err != nil {
		return
	}
	if options.AsyncHandler {
		workers := options.Workers
		if workers <= 0 {
			workers = goroutine.DefaultWorkers
		}
		if eng.workerPool, err = goroutine.New(workers, eng.logger); err != nil {
			return
		}
	}
	return
}

// Addr returns the address the engine listens on.
func (eng *Engine) Addr() net.Addr {
	return eng.addr
}

// Backend returns the name of the kernel event facility in use.
func (eng *Engine) Backend() string {
	return eng.ev.Backend().Name()
}

// CountConnections counts the number of currently active connections and returns it.
func (eng *Engine) CountConnections() int {
	return int(atomic.LoadInt32(&eng.connCnt))
}

// Done is closed once the engine has released all its resources.
func (eng *Engine) Done() <-chan struct{} {
	return eng.done
}

func (eng *Engine) isInShutdown() bool {
	return atomic.LoadInt32(&eng.inShutdown) == 1
}

// Start runs the reactor on the calling goroutine until the engine is
// stopped, an event handler returns Shutdown or ctx is done. It returns nil on
// a regular shutdown.
func (eng *Engine) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&eng.started, 0, 1) {
		return errorx.ErrEngineStarted
	}
	if eng.isInShutdown() {
		eng.release()
		return errorx.ErrEngineInShutdown
	}
	if eng.eventHandler.OnBoot(eng) == Shutdown {
		eng.release()
		return nil
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = eng.Stop()
		case <-eng.done:
		}
	}()

	if eng.opts.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	eng.logger.Infof("engine is listening on %s with %s, capacity %d",
		eng.addr, eng.Backend(), eng.ev.Capacity())
	err := eng.run()
	eng.release()
	if errors.Is(err, errorx.ErrEngineShutdown) {
		return nil
	}
	return err
}

// Stop asks the reactor to shut down and returns without waiting for it,
// use Done for that. It's safe to call from any goroutine.
func (eng *Engine) Stop() error {
	if !atomic.CompareAndSwapInt32(&eng.inShutdown, 0, 1) {
		return errorx.ErrEngineInShutdown
	}
	eng.trigger(func(interface{}) error { return errorx.ErrEngineShutdown }, nil)
	return nil
}

func (eng *Engine) run() error {
	msec := eng.opts.waitMillis()
	for eng.exitErr == nil {
		if _, err := eng.ev.Wait(msec); err != nil {
			eng.logger.Errorf("reactor is exiting due to error: %v", err)
			return err
		}
	}
	if !errors.Is(eng.exitErr, errorx.ErrEngineShutdown) {
		eng.logger.Errorf("reactor is exiting due to error: %v", eng.exitErr)
	}
	return eng.exitErr
}

// release closes all connections and descriptors, it runs once the
// reactor is gone.
func (eng *Engine) release() {
	atomic.StoreInt32(&eng.inShutdown, 1)
	for _, c := range eng.conns {
		_ = eng.closeConn(c, nil)
	}
	if eng.workerPool != nil {
		eng.workerPool.Release()
	}
	if eng.ev != nil {
		_ = eng.ev.Close()
	}
	if eng.lnFD >= 0 {
		_ = unix.Close(eng.lnFD)
		eng.lnFD = -1
	}
	eng.wake.Lock()
	for _, fd := range []int{eng.wake.r, eng.wake.w} {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
	eng.wake.r, eng.wake.w = -1, -1
	eng.wake.Unlock()

	if atomic.LoadInt32(&eng.started) == 1 {
		eng.eventHandler.OnShutdown(eng)
	}
	close(eng.done)
}

func (eng *Engine) openWakePipe() error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return os.NewSyscallError("pipe", err)
	}
	eng.wake.r, eng.wake.w = fds[0], fds[1]
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			return os.NewSyscallError("setnonblock", err)
		}
	}
	return nil
}

// trigger queues fn to run on the reactor and wakes it up. It's safe to call
// from any goroutine.
func (eng *Engine) trigger(fn queue.TaskFunc, arg interface{}) {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	eng.tasks.Push(task)

	if !atomic.CompareAndSwapInt32(&eng.wake.pending, 0, 1) {
		return
	}
	eng.wake.RLock()
	defer eng.wake.RUnlock()
	if eng.wake.w < 0 {
		return
	}
	for {
		_, err := unix.Write(eng.wake.w, []byte{1})
		if err != unix.EINTR {
			// EAGAIN means the pipe is full, the reactor is awake anyway.
			return
		}
	}
}

// runTasks drains the wake pipe and runs the queued tasks.
func (eng *Engine) runTasks() error {
	atomic.StoreInt32(&eng.wake.pending, 0)
	var b [64]byte
	for {
		n, err := unix.Read(eng.wake.r, b[:])
		if err == unix.EINTR {
			continue
		}
		if n <= 0 || err != nil {
			break
		}
	}

	for task := eng.tasks.Pop(); task != nil; task = eng.tasks.Pop() {
		err := task.Run(task.Arg)
		queue.PutTask(task)
		if err != nil {
			return err
		}
	}
	return nil
}
