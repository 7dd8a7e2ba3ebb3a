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

// Package queue hands work from arbitrary goroutines over to the reactor.
//
// The queue is the non-blocking one of Michael and Scott (PODC '96): many
// producers may Push while the reactor Pops, no lock is taken on either side.
package queue

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// TaskFunc is run on the reactor goroutine.
type TaskFunc func(arg interface{}) error

// Task is a TaskFunc bound to its argument.
type Task struct {
	Run TaskFunc
	Arg interface{}
}

var taskPool = sync.Pool{New: func() interface{} { return new(Task) }}

// GetTask takes a Task from the pool.
func GetTask() *Task {
	return taskPool.Get().(*Task)
}

// PutTask resets task and returns it to the pool.
func PutTask(task *Task) {
	task.Run, task.Arg = nil, nil
	taskPool.Put(task)
}

// TaskQueue is a multi-producer queue of tasks.
type TaskQueue struct {
	head unsafe.Pointer // *node, always a sentinel
	tail unsafe.Pointer // *node
	size int32
}

type node struct {
	task *Task
	next unsafe.Pointer
}

// New returns an empty queue.
func New() *TaskQueue {
	sentinel := unsafe.Pointer(new(node))
	return &TaskQueue{head: sentinel, tail: sentinel}
}

// Push appends task, it's safe to call from any goroutine.
func (q *TaskQueue) Push(task *Task) {
	n := &node{task: task}
	for {
		tail := loadNode(&q.tail)
		next := loadNode(&tail.next)
		if tail != loadNode(&q.tail) {
			continue
		}
		if next != nil {
			// tail is lagging, help it forward.
			casNode(&q.tail, tail, next)
			continue
		}
		if casNode(&tail.next, nil, n) {
			casNode(&q.tail, tail, n)
			atomic.AddInt32(&q.size, 1)
			return
		}
	}
}

// Pop removes the oldest task, it returns nil when the queue is empty.
func (q *TaskQueue) Pop() *Task {
	for {
		head := loadNode(&q.head)
		tail := loadNode(&q.tail)
		next := loadNode(&head.next)
		if head != loadNode(&q.head) {
			continue
		}
		if head == tail {
			if next == nil {
				return nil
			}
			casNode(&q.tail, tail, next)
			continue
		}
		// Read before the CAS, next may become the sentinel of another Pop.
		task := next.task
		if casNode(&q.head, head, next) {
			atomic.AddInt32(&q.size, -1)
			return task
		}
	}
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	return int(atomic.LoadInt32(&q.size))
}

// IsEmpty reports whether there is nothing to pop.
func (q *TaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

func loadNode(p *unsafe.Pointer) *node {
	return (*node)(atomic.LoadPointer(p))
}

func casNode(p *unsafe.Pointer, old, new *node) bool {
	return atomic.CompareAndSwapPointer(p, unsafe.Pointer(old), unsafe.Pointer(new))
}
