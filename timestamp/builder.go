// Package timestamp keeps the clock parameters downstream consumers need to
// align audio and video presentation timestamps.
package timestamp

import (
	"sync"
	"time"
)

// Builder holds the native frame intervals of the media encoders. The video
// encoder stage publishes its interval once it is configured; packetizers and
// muxers read it to map presentation timestamps onto their own clocks.
type Builder struct {
	lock          sync.RWMutex
	videoInterval time.Duration
	audioInterval time.Duration
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) SetVideoInterval(d time.Duration) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.videoInterval = d
}

func (b *Builder) VideoInterval() time.Duration {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.videoInterval
}

func (b *Builder) SetAudioInterval(d time.Duration) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.audioInterval = d
}

func (b *Builder) AudioInterval() time.Duration {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.audioInterval
}

// RTPTimestamp converts pts into units of clockRate. The result wraps like
// an RTP timestamp.
func (b *Builder) RTPTimestamp(pts time.Duration, clockRate uint32) uint32 {
	secs := int64(pts / time.Second)
	frac := int64(pts % time.Second)
	ticks := secs*int64(clockRate) + frac*int64(clockRate)/int64(time.Second)
	return uint32(ticks)
}

// FrameIndex returns the index of the video frame slot pts falls into, or -1
// while no video interval is known.
func (b *Builder) FrameIndex(pts time.Duration) int64 {
	interval := b.VideoInterval()
	if interval <= 0 {
		return -1
	}
	return int64(pts / interval)
}
