// Package capture provides frame sources for the encoder stage.
package capture

import (
	"sync"

	"github.com/mengelbart/encstage"
)

// DefaultQueueSize bounds how many captured frames wait for the encoder.
const DefaultQueueSize = 20

// Queue buffers captured frames between a producer and the encoder stage.
// Push never blocks: when the queue is full the oldest frame is released and
// dropped. Drain hands all queued frames to the caller at once.
type Queue struct {
	lock     sync.Mutex
	capacity int
	frames   []*encstage.RawFrame
	closed   bool
	pushed   uint64
	drops    uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		capacity: capacity,
		frames:   make([]*encstage.RawFrame, 0, capacity),
	}
}

// Push enqueues f. It returns false, after releasing f, if the queue is
// closed.
func (q *Queue) Push(f *encstage.RawFrame) bool {
	var evicted *encstage.RawFrame
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		f.Release()
		return false
	}
	if len(q.frames) == q.capacity {
		evicted = q.frames[0]
		copy(q.frames, q.frames[1:])
		q.frames[len(q.frames)-1] = nil
		q.frames = q.frames[:len(q.frames)-1]
		q.drops++
	}
	q.frames = append(q.frames, f)
	q.pushed++
	q.lock.Unlock()

	if evicted != nil {
		evicted.Release()
	}
	return true
}

// Drain returns the queued frames in the order they were pushed and leaves
// the queue empty. Ownership of the frames moves to the caller.
func (q *Queue) Drain() []*encstage.RawFrame {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.frames) == 0 {
		return nil
	}
	out := q.frames
	q.frames = make([]*encstage.RawFrame, 0, q.capacity)
	return out
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.frames)
}

// Drops returns the number of frames evicted because the queue was full.
func (q *Queue) Drops() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.drops
}

func (q *Queue) Pushed() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.pushed
}

// Close releases all queued frames. Later pushes are rejected.
func (q *Queue) Close() error {
	q.lock.Lock()
	frames := q.frames
	q.frames = nil
	q.closed = true
	q.lock.Unlock()

	for _, f := range frames {
		f.Release()
	}
	return nil
}
