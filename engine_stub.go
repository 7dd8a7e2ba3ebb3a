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

//go:build !linux && !darwin && !dragonfly && !freebsd && !openbsd

package ncproxy

import (
	"context"
	"net"

	errorx "github.com/ncproxy/ncproxy/pkg/errors"
)

// Engine is unavailable without epoll or kqueue.
type Engine struct{}

// NewEngine always fails with errors.ErrUnsupportedPlatform.
func NewEngine(_ EventHandler, _ string, _ ...Option) (*Engine, error) {
	return nil, errorx.ErrUnsupportedPlatform
}

func (eng *Engine) Addr() net.Addr { return nil }

func (eng *Engine) Backend() string { return "" }

func (eng *Engine) CountConnections() int { return 0 }

func (eng *Engine) Done() <-chan struct{} { return nil }

func (eng *Engine) Start(context.Context) error { return errorx.ErrUnsupportedPlatform }

func (eng *Engine) Stop() error { return errorx.ErrUnsupportedPlatform }
