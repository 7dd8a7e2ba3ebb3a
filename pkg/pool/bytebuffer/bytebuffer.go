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

// Package bytebuffer pools the outbound buffers of connections.
package bytebuffer

import "github.com/valyala/bytebufferpool"

// ByteBuffer is the alias of bytebufferpool.ByteBuffer.
type ByteBuffer = bytebufferpool.ByteBuffer

// Get returns an empty buffer from the pool.
func Get() *ByteBuffer {
	return bytebufferpool.Get()
}

// Put resets b and returns it to the pool, a nil b is ignored.
func Put(b *ByteBuffer) {
	if b != nil {
		bytebufferpool.Put(b)
	}
}

// Discard drops the first n bytes of b, which must hold at least n bytes.
func Discard(b *ByteBuffer, n int) {
	if n >= b.Len() {
		b.Reset()
		return
	}
	rest := copy(b.B, b.B[n:])
	b.B = b.B[:rest]
}
