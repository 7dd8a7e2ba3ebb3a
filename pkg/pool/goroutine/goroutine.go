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

// Package goroutine runs connection handlers off the reactor goroutine.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ncproxy/ncproxy/pkg/logging"
)

const (
	// DefaultWorkers is the capacity of the default pool, 64 * 1024.
	DefaultWorkers = 1 << 16

	// ExpiryDuration is how long an idle worker lives.
	ExpiryDuration = 10 * time.Second
)

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// Default returns a non-blocking pool of DefaultWorkers workers: Submit fails
// with ants.ErrPoolOverload instead of stalling the reactor when all are busy.
func Default(logger logging.Logger) (*Pool, error) {
	return New(DefaultWorkers, logger)
}

// New returns a non-blocking pool of size workers, panics in tasks are
// recovered and logged.
func New(size int, logger logging.Logger) (*Pool, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return ants.NewPool(size, ants.WithOptions(ants.Options{
		ExpiryDuration: ExpiryDuration,
		Nonblocking:    true,
		Logger:         printfLogger{logger},
		PanicHandler: func(p interface{}) {
			logger.Errorf("handler panicked: %v", p)
		},
	}))
}

// printfLogger feeds the diagnostics of ants into our logger.
type printfLogger struct {
	logging.Logger
}

func (l printfLogger) Printf(format string, args ...interface{}) {
	l.Errorf(format, args...)
}
