package stage

import (
	"sync"

	"github.com/mengelbart/encstage"
)

// DiagnosticBuffer retains encoded packets for pull-based inspection,
// independent of the publish path. Append and DrainAll are mutually
// exclusive; a drain returns everything buffered up to that point and leaves
// the buffer empty.
//
// With capacity 0 the buffer is unbounded and only caller drains limit its
// growth. With a positive capacity it keeps the most recent packets and
// counts the ones it dropped.
type DiagnosticBuffer struct {
	lock     sync.Mutex
	capacity int
	packets  []encstage.OutPacket
	head     int // index of the oldest packet when bounded
	count    int
	dropped  uint64
}

func NewDiagnosticBuffer(capacity int) *DiagnosticBuffer {
	if capacity < 0 {
		capacity = 0
	}
	b := &DiagnosticBuffer{
		capacity: capacity,
	}
	if capacity > 0 {
		b.packets = make([]encstage.OutPacket, capacity)
	}
	return b
}

func (b *DiagnosticBuffer) Append(p encstage.OutPacket) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.capacity == 0 {
		b.packets = append(b.packets, p)
		b.count++
		return
	}
	if b.count == b.capacity {
		b.packets[b.head] = p
		b.head = (b.head + 1) % b.capacity
		b.dropped++
		return
	}
	b.packets[(b.head+b.count)%b.capacity] = p
	b.count++
}

// DrainAll returns the buffered packets, oldest first, and empties the
// buffer.
func (b *DiagnosticBuffer) DrainAll() []encstage.OutPacket {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.capacity == 0 {
		out := b.packets
		if out == nil {
			out = []encstage.OutPacket{}
		}
		b.packets = nil
		b.count = 0
		return out
	}
	out := make([]encstage.OutPacket, b.count)
	for i := range b.count {
		idx := (b.head + i) % b.capacity
		out[i] = b.packets[idx]
		b.packets[idx] = encstage.OutPacket{}
	}
	b.head = 0
	b.count = 0
	return out
}

func (b *DiagnosticBuffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.count
}

// Dropped returns how many packets were evicted because the buffer was full.
func (b *DiagnosticBuffer) Dropped() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.dropped
}
