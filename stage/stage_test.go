package stage

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/codec"
	"github.com/mengelbart/encstage/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchSource struct {
	lock    sync.Mutex
	batches [][]*encstage.RawFrame
	drains  int
}

func (s *batchSource) Drain() []*encstage.RawFrame {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.drains++
	if len(s.batches) == 0 {
		return nil
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	return next
}

type fakeCompressor struct {
	lock         sync.Mutex
	interval     time.Duration
	configureErr error
	encode       func(pts time.Duration) ([]byte, error)
	configured   int
	encoded      []time.Duration
	closed       int
}

func (c *fakeCompressor) Configure(codec.Config) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.configured++
	return c.configureErr
}

func (c *fakeCompressor) Encode(_ *image.YCbCr, pts time.Duration) ([]byte, bool, error) {
	c.lock.Lock()
	c.encoded = append(c.encoded, pts)
	encode := c.encode
	c.lock.Unlock()
	if encode == nil {
		return []byte{0x01, byte(pts / time.Millisecond)}, false, nil
	}
	payload, err := encode(pts)
	return payload, false, err
}

func (c *fakeCompressor) FrameInterval() time.Duration {
	return c.interval
}

func (c *fakeCompressor) Codec() encstage.Codec {
	return encstage.H264
}

func (c *fakeCompressor) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed++
	return nil
}

type countingAdapter struct {
	lock  sync.Mutex
	calls int
	fail  func(*encstage.RawFrame) error
}

func (a *countingAdapter) Convert(f *encstage.RawFrame) (*image.YCbCr, error) {
	a.lock.Lock()
	a.calls++
	a.lock.Unlock()
	if a.fail != nil {
		if err := a.fail(f); err != nil {
			return nil, err
		}
	}
	return image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio420), nil
}

type recordingSink struct {
	lock    sync.Mutex
	packets []*encstage.EncodedPacket
	onPub   func(int)
}

func (s *recordingSink) Publish(p *encstage.EncodedPacket) {
	s.lock.Lock()
	s.packets = append(s.packets, p)
	n := len(s.packets)
	s.lock.Unlock()
	if s.onPub != nil {
		s.onPub(n)
	}
}

func (s *recordingSink) pts() []time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]time.Duration, 0, len(s.packets))
	for _, p := range s.packets {
		out = append(out, p.PTS)
	}
	return out
}

type releaseCounter struct {
	lock   sync.Mutex
	counts map[time.Duration]int
}

func newReleaseCounter() *releaseCounter {
	return &releaseCounter{counts: map[time.Duration]int{}}
}

func (r *releaseCounter) frame(pts time.Duration, size int) *encstage.RawFrame {
	f := encstage.NewRawFrame(make([]byte, 12), encstage.BGR24, 2, 2, pts, func([]byte) {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.counts[pts]++
	})
	f.Size = size
	return f
}

func (r *releaseCounter) get(pts time.Duration) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.counts[pts]
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func TestStagePublishesBatchInOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		releases := newReleaseCounter()
		source := &batchSource{
			batches: [][]*encstage.RawFrame{{
				releases.frame(ms(0), 100),
				releases.frame(ms(33), 0),
				releases.frame(ms(66), 100),
			}},
		}
		adapter := &countingAdapter{}
		compressor := &fakeCompressor{interval: ms(33)}
		sink := &recordingSink{}
		builder := timestamp.NewBuilder()

		s := New(source, adapter, compressor, sink, WithTimestampBuilder(builder))
		sink.onPub = func(n int) {
			if n == 2 {
				s.RequestStop()
			}
		}
		require.NoError(t, s.Initialize(codec.Config{}))
		assert.Equal(t, ms(33), builder.VideoInterval())

		require.NoError(t, s.Run(context.Background()))

		assert.Equal(t, []time.Duration{ms(0), ms(66)}, sink.pts())
		for _, p := range sink.packets {
			assert.Equal(t, encstage.H264, p.Type)
		}
		assert.Equal(t, 2, adapter.calls)
		assert.Equal(t, []time.Duration{ms(0), ms(66)}, compressor.encoded)
		for _, pts := range []time.Duration{ms(0), ms(33), ms(66)} {
			assert.Equal(t, 1, releases.get(pts), "pts %v", pts)
		}

		st := s.Stats()
		assert.Equal(t, uint64(3), st.Drained)
		assert.Equal(t, uint64(1), st.Skipped)
		assert.Equal(t, uint64(2), st.Published)
		assert.Equal(t, uint64(0), st.EmptyPolls)
		assert.Equal(t, 1, source.drains)
		assert.Equal(t, Stopped, s.State())
		assert.Equal(t, 1, compressor.closed)
	})
}

func TestStageSkipsNonPositiveSizes(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		releases := newReleaseCounter()
		source := &batchSource{
			batches: [][]*encstage.RawFrame{{
				releases.frame(ms(0), 0),
				releases.frame(ms(1), -1),
			}},
		}
		adapter := &countingAdapter{}
		compressor := &fakeCompressor{}
		sink := &recordingSink{}
		s := New(source, adapter, compressor, sink)
		require.NoError(t, s.Initialize(codec.Config{}))

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()
		synctest.Wait()
		s.RequestStop()
		require.NoError(t, <-done)

		assert.Zero(t, adapter.calls)
		assert.Empty(t, compressor.encoded)
		assert.Empty(t, sink.packets)
		assert.Equal(t, 1, releases.get(ms(0)))
		assert.Equal(t, 1, releases.get(ms(1)))
		assert.Equal(t, uint64(2), s.Stats().Skipped)
	})
}

func TestStageSkipsNilFrames(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		releases := newReleaseCounter()
		source := &batchSource{
			batches: [][]*encstage.RawFrame{{
				nil,
				releases.frame(ms(33), 100),
			}},
		}
		sink := &recordingSink{}
		s := New(source, &countingAdapter{}, &fakeCompressor{}, sink)
		require.NoError(t, s.Initialize(codec.Config{}))

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()
		synctest.Wait()
		assert.Equal(t, Running, s.State())
		s.RequestStop()
		require.NoError(t, <-done)

		assert.Equal(t, []time.Duration{ms(33)}, sink.pts())
		assert.Equal(t, 1, releases.get(ms(33)))
		assert.Equal(t, uint64(1), s.Stats().Skipped)
		assert.Zero(t, s.Stats().Failed)
	})
}

func TestStagePreservesOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		releases := newReleaseCounter()
		var batches [][]*encstage.RawFrame
		pts := 0
		for range 5 {
			var batch []*encstage.RawFrame
			for range 7 {
				batch = append(batch, releases.frame(ms(pts), 100))
				pts++
			}
			batches = append(batches, batch)
		}
		source := &batchSource{batches: batches}
		compressor := &fakeCompressor{
			encode: func(pts time.Duration) ([]byte, error) {
				if (pts/time.Millisecond)%3 == 0 {
					return nil, nil
				}
				return []byte{1}, nil
			},
		}
		sink := &recordingSink{}
		s := New(source, &countingAdapter{}, compressor, sink)
		require.NoError(t, s.Initialize(codec.Config{}))

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()
		synctest.Wait()
		s.RequestStop()
		require.NoError(t, <-done)

		got := sink.pts()
		require.NotEmpty(t, got)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1], got[i])
		}
		for _, p := range got {
			assert.NotZero(t, (p/time.Millisecond)%3)
		}
		for i := range pts {
			assert.Equal(t, 1, releases.get(ms(i)))
		}
	})
}

func TestStageCompressorWithoutOutput(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		releases := newReleaseCounter()
		source := &batchSource{
			batches: [][]*encstage.RawFrame{
				{releases.frame(ms(0), 10), releases.frame(ms(1), 10)},
				{releases.frame(ms(2), 10)},
			},
		}
		compressor := &fakeCompressor{
			encode: func(time.Duration) ([]byte, error) { return nil, nil },
		}
		sink := &recordingSink{}
		diagnostics := NewDiagnosticBuffer(0)
		s := New(source, &countingAdapter{}, compressor, sink, WithDiagnostics(diagnostics))
		require.NoError(t, s.Initialize(codec.Config{}))

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()
		synctest.Wait()
		s.RequestStop()
		require.NoError(t, <-done)

		assert.Empty(t, sink.packets)
		assert.Empty(t, s.DrainDiagnostics())
		assert.Len(t, compressor.encoded, 3)
		for i := range 3 {
			assert.Equal(t, 1, releases.get(ms(i)))
		}
		assert.Equal(t, uint64(0), s.Stats().Encoded)
	})
}

func TestStageFrameFailuresDoNotStopRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		releases := newReleaseCounter()
		source := &batchSource{
			batches: [][]*encstage.RawFrame{{
				releases.frame(ms(0), 10),
				releases.frame(ms(1), 10),
				releases.frame(ms(2), 10),
				releases.frame(ms(3), 10),
			}},
		}
		adapter := &countingAdapter{
			fail: func(f *encstage.RawFrame) error {
				if f.PTS == ms(0) {
					return codec.ErrShortFrame
				}
				return nil
			},
		}
		compressor := &fakeCompressor{
			encode: func(pts time.Duration) ([]byte, error) {
				switch pts {
				case ms(1):
					return nil, errors.New("encoder hiccup")
				case ms(2):
					panic("corrupt buffer")
				}
				return []byte{0xff}, nil
			},
		}
		sink := &recordingSink{}
		s := New(source, adapter, compressor, sink)
		require.NoError(t, s.Initialize(codec.Config{}))

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()
		synctest.Wait()
		assert.Equal(t, Running, s.State())
		s.RequestStop()
		require.NoError(t, <-done)

		assert.Equal(t, []time.Duration{ms(3)}, sink.pts())
		assert.Equal(t, uint64(3), s.Stats().Failed)
		for i := range 4 {
			assert.Equal(t, 1, releases.get(ms(i)))
		}
	})
}

func TestStageStopDuringBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		source := &batchSource{}
		compressor := &fakeCompressor{}
		s := New(source, &countingAdapter{}, compressor, &recordingSink{}, WithBackoff(ms(50)))
		require.NoError(t, s.Initialize(codec.Config{}))

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()

		time.Sleep(ms(120))
		synctest.Wait()
		assert.Equal(t, 3, source.drains)

		start := time.Now()
		s.RequestStop()
		require.NoError(t, <-done)
		assert.Less(t, time.Since(start), ms(50))

		assert.Equal(t, Stopped, s.State())
		assert.Equal(t, 1, compressor.closed)
		assert.Equal(t, uint64(3), s.Stats().EmptyPolls)
	})
}

func TestStageContextCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		compressor := &fakeCompressor{}
		s := New(&batchSource{}, &countingAdapter{}, compressor, &recordingSink{})
		require.NoError(t, s.Initialize(codec.Config{}))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			done <- s.Run(ctx)
		}()
		synctest.Wait()
		cancel()
		require.NoError(t, <-done)
		assert.Equal(t, Stopped, s.State())
		assert.Equal(t, 1, compressor.closed)
	})
}

func TestStageInitializeFailure(t *testing.T) {
	compressor := &fakeCompressor{configureErr: errors.New("no such codec")}
	s := New(&batchSource{}, &countingAdapter{}, compressor, &recordingSink{})

	err := s.Initialize(codec.Config{})
	assert.ErrorIs(t, err, ErrCompressorInit)
	assert.ErrorContains(t, err, "no such codec")

	assert.ErrorIs(t, s.Run(context.Background()), ErrNotInitialized)
	assert.ErrorIs(t, s.Initialize(codec.Config{}), ErrAlreadyInitialized)
	assert.Equal(t, 1, compressor.configured)
	assert.Zero(t, compressor.closed)
	assert.Equal(t, Idle, s.State())
}

func TestStageRunWithoutInitialize(t *testing.T) {
	s := New(&batchSource{}, &countingAdapter{}, &fakeCompressor{}, &recordingSink{})
	assert.ErrorIs(t, s.Run(context.Background()), ErrNotInitialized)
}

func TestStageRunOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		compressor := &fakeCompressor{}
		s := New(&batchSource{}, &countingAdapter{}, compressor, &recordingSink{})
		require.NoError(t, s.Initialize(codec.Config{}))
		assert.ErrorIs(t, s.Initialize(codec.Config{}), ErrAlreadyInitialized)

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()
		synctest.Wait()
		assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyStarted)

		s.RequestStop()
		s.RequestStop()
		require.NoError(t, <-done)
		assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyStarted)
		assert.Equal(t, Stopped, s.State())
		assert.Equal(t, 1, compressor.closed)
	})
}

func TestStageStopBeforeRun(t *testing.T) {
	compressor := &fakeCompressor{}
	source := &batchSource{}
	s := New(source, &countingAdapter{}, compressor, &recordingSink{})
	require.NoError(t, s.Initialize(codec.Config{}))

	s.RequestStop()
	assert.Equal(t, Stopping, s.State())
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 1, compressor.closed)
	assert.Zero(t, source.drains)
}

func TestStageDiagnostics(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		releases := newReleaseCounter()
		source := &batchSource{
			batches: [][]*encstage.RawFrame{{
				releases.frame(ms(0), 10),
				releases.frame(ms(33), 10),
			}},
		}
		sink := &recordingSink{}
		s := New(source, &countingAdapter{}, &fakeCompressor{}, sink, WithDiagnostics(NewDiagnosticBuffer(0)))
		require.NoError(t, s.Initialize(codec.Config{}))

		done := make(chan error)
		go func() {
			done <- s.Run(context.Background())
		}()
		synctest.Wait()

		got := s.DrainDiagnostics()
		require.Len(t, got, 2)
		assert.Equal(t, ms(0), got[0].PTS)
		assert.Equal(t, ms(33), got[1].PTS)
		assert.Equal(t, sink.packets[1].Payload, got[1].Payload)
		assert.Empty(t, s.DrainDiagnostics())

		s.RequestStop()
		require.NoError(t, <-done)
	})
}

func TestStageWithoutDiagnostics(t *testing.T) {
	s := New(&batchSource{}, &countingAdapter{}, &fakeCompressor{}, &recordingSink{})
	assert.Nil(t, s.DrainDiagnostics())
	assert.NotEmpty(t, s.ID())
}

func TestPublishFunc(t *testing.T) {
	var got *encstage.EncodedPacket
	sink := PublishFunc(func(p *encstage.EncodedPacket) { got = p })
	pkt := &encstage.EncodedPacket{PTS: ms(5)}
	sink.Publish(pkt)
	assert.Same(t, pkt, got)
}
