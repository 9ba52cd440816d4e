// SPDX-License-Identifier: MIT
package audio

import (
	"sync"

	"headset/internal/block"
)

// Queue is a bounded FIFO of fixed-size blocks shared between the stream
// callback and the control goroutine. Storage is allocated once; a full
// queue drops the incoming block and counts it.
type Queue struct {
	mu        sync.Mutex
	slots     []block.Block
	head      int
	count     int
	overflows uint64
}

// NewQueue allocates capacity blocks of blockSize samples.
func NewQueue(capacity, blockSize int) *Queue {
	q := &Queue{slots: make([]block.Block, capacity)}
	for i := range q.slots {
		q.slots[i] = make(block.Block, blockSize)
	}
	return q
}

// Put copies samples into the tail slot. It returns false when the queue is
// full or samples has the wrong length.
func (q *Queue) Put(samples []int16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.slots) {
		q.overflows++
		return false
	}
	slot := q.slots[(q.head+q.count)%len(q.slots)]
	if len(samples) != len(slot) {
		return false
	}
	copy(slot, samples)
	q.count++
	return true
}

// Take copies the head block into dst and frees its slot.
func (q *Queue) Take(dst []int16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return false
	}
	copy(dst, q.slots[q.head])
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	return true
}

// Pending returns the number of queued blocks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Overflows returns the number of blocks dropped because the queue was full.
func (q *Queue) Overflows() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflows
}

// Clear drops every queued block.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.head, q.count = 0, 0
	q.mu.Unlock()
}
