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

package ncproxy

import (
	"time"

	"github.com/ncproxy/ncproxy/pkg/logging"
)

const (
	// DefaultCapacity is the number of events taken from the kernel per wait.
	DefaultCapacity = 1024

	// DefaultTimeout bounds a single wait.
	DefaultTimeout = 100 * time.Millisecond

	// DefaultReadBufferCap is the size of the buffer each read goes into.
	DefaultReadBufferCap = 64 * 1024
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// Options are configurations for the engine.
type Options struct {
	// Capacity is the maximum number of events dispatched by one wait of
	// the event context, DefaultCapacity when it's zero.
	Capacity int

	// Timeout bounds each wait of the event context, DefaultTimeout when it's
	// zero. A negative value waits until something happens.
	Timeout time.Duration

	// ReadBufferCap is the size of the buffer reads go into,
	// DefaultReadBufferCap when it's not positive.
	ReadBufferCap int

	// AsyncHandler runs OnTraffic on a goroutine pool instead of the reactor,
	// the data handed over is a copy and replies go out through AsyncWrite.
	AsyncHandler bool

	// Workers is the size of the goroutine pool of AsyncHandler.
	Workers int

	// LockOSThread locks the reactor goroutine to its OS thread.
	LockOSThread bool

	// Logger is the customized logger for logging info, if it is not set,
	// then ncproxy will use the default logger powered by go.uber.org/zap.
	Logger logging.Logger
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithCapacity sets up the number of events dispatched per wait.
func WithCapacity(capacity int) Option {
	return func(opts *Options) {
		opts.Capacity = capacity
	}
}

// WithTimeout sets up the timeout of each wait.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithReadBufferCap sets up the size of the read buffer.
func WithReadBufferCap(readBufferCap int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = readBufferCap
	}
}

// WithAsyncHandler sets up whether OnTraffic runs on a goroutine pool.
func WithAsyncHandler(async bool) Option {
	return func(opts *Options) {
		opts.AsyncHandler = async
	}
}

// WithWorkers sets up the size of the goroutine pool.
func WithWorkers(workers int) Option {
	return func(opts *Options) {
		opts.Workers = workers
	}
}

// WithLockOSThread sets up LockOSThread mode for the reactor.
func WithLockOSThread(lockOSThread bool) Option {
	return func(opts *Options) {
		opts.LockOSThread = lockOSThread
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func (opts *Options) normalize() {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ReadBufferCap <= 0 {
		opts.ReadBufferCap = DefaultReadBufferCap
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefaultLogger()
	}
}

// waitMillis converts Timeout into the argument of a wait.
func (opts *Options) waitMillis() int {
	switch {
	case opts.Timeout < 0:
		return -1
	case opts.Timeout < time.Millisecond:
		return 1
	}
	return int(opts.Timeout / time.Millisecond)
}
