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

// Package errors defines common errors for ncproxy.
package errors

import "errors"

var (
	// ErrInvalidCapacity occurs when an event context is requested with a non-positive capacity.
	ErrInvalidCapacity = errors.New("ncproxy: event capacity must be positive")
	// ErrBackendCreate occurs when the kernel event facility (epoll or kqueue) cannot be created.
	ErrBackendCreate = errors.New("ncproxy: failed to create the event backend")
	// ErrRegistration occurs when registering or unregistering a descriptor with the backend fails.
	ErrRegistration = errors.New("ncproxy: event registration failed")
	// ErrAnomalousEmptyWait occurs when a wait without timeout returns no events at all.
	ErrAnomalousEmptyWait = errors.New("ncproxy: infinite wait returned no events")
	// ErrEventWait occurs when the kernel wait call fails for a reason other than interruption.
	ErrEventWait = errors.New("ncproxy: event wait failed")
	// ErrUnsupportedPlatform occurs when neither epoll nor kqueue is available on the running platform.
	ErrUnsupportedPlatform = errors.New("ncproxy: unsupported platform, epoll or kqueue is required")
	// ErrEngineShutdown occurs when the engine is closing.
	ErrEngineShutdown = errors.New("ncproxy: engine is going to be shutdown")
	// ErrEngineInShutdown occurs when attempting to shut the engine down more than once.
	ErrEngineInShutdown = errors.New("ncproxy: engine is already in shutdown")
	// ErrEngineStarted occurs when starting an engine that is already running.
	ErrEngineStarted = errors.New("ncproxy: engine has already been started")
	// ErrInvalidNetworkAddress occurs when the network address is invalid.
	ErrInvalidNetworkAddress = errors.New("ncproxy: invalid network address")
	// ErrUnsupportedProtocol occurs when the network is not one of "tcp", "tcp4" or "tcp6".
	ErrUnsupportedProtocol = errors.New("ncproxy: only tcp, tcp4 and tcp6 are supported")
	// ErrConnClosed occurs when writing to a connection that has already been closed.
	ErrConnClosed = errors.New("ncproxy: connection is closed")
)
