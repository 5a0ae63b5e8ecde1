package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mengelbart/encstage"
	"golang.org/x/time/rate"
)

var ErrQueueClosed = errors.New("frame queue closed")

// Pusher accepts frames from a producer.
type Pusher interface {
	Push(*encstage.RawFrame) bool
}

// bars are the classic color bars in BGR order.
var bars = [][3]byte{
	{0xff, 0xff, 0xff},
	{0x00, 0xff, 0xff},
	{0xff, 0xff, 0x00},
	{0x00, 0xff, 0x00},
	{0xff, 0x00, 0xff},
	{0x00, 0x00, 0xff},
	{0xff, 0x00, 0x00},
	{0x00, 0x00, 0x00},
}

// TestPattern produces BGR24 frames with scrolling color bars at a fixed
// frame rate. Frame buffers are recycled once the consumer releases them.
type TestPattern struct {
	width  int
	height int
	fps    int
	out    Pusher
	log    *slog.Logger

	limiter *rate.Limiter
	pool    sync.Pool
	frames  atomic.Uint64
}

func NewTestPattern(width, height, fps int, out Pusher) (*TestPattern, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid test pattern size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid test pattern frame rate %d", fps)
	}
	size := encstage.BGR24.FrameSize(width, height)
	p := &TestPattern{
		width:   width,
		height:  height,
		fps:     fps,
		out:     out,
		log:     slog.Default().With("component", "test-pattern"),
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
	}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p, nil
}

// Run produces frames until ctx is done.
func (p *TestPattern) Run(ctx context.Context) error {
	p.log.Info("test pattern running", "width", p.width, "height", p.height, "fps", p.fps)
	start := time.Now()
	for n := 0; ; n++ {
		if err := p.limiter.Wait(ctx); err != nil {
			// Wait gives up early if the next frame is due after the
			// deadline of ctx.
			<-ctx.Done()
			return nil
		}
		f := p.Frame(n, time.Since(start))
		if !p.out.Push(f) {
			if ctx.Err() != nil {
				return nil
			}
			return ErrQueueClosed
		}
		p.frames.Add(1)
	}
}

// Frame renders frame number n with presentation timestamp pts.
func (p *TestPattern) Frame(n int, pts time.Duration) *encstage.RawFrame {
	buf := *p.pool.Get().(*[]byte)
	p.paint(buf, n)
	return encstage.NewRawFrame(buf, encstage.BGR24, p.width, p.height, pts, p.recycle)
}

func (p *TestPattern) Produced() uint64 {
	return p.frames.Load()
}

func (p *TestPattern) recycle(buf []byte) {
	p.pool.Put(&buf)
}

func (p *TestPattern) paint(buf []byte, n int) {
	barWidth := max(p.width/len(bars), 1)
	for x := range p.width {
		c := bars[((x+n)/barWidth)%len(bars)]
		for y := range p.height {
			off := (y*p.width + x) * 3
			buf[off] = c[0]
			buf[off+1] = c[1]
			buf[off+2] = c[2]
		}
	}
}
