// Package stage implements the encoder stage of a capture-to-publish chain.
//
// A Stage drains raw frames from a FrameSource, converts each frame with a
// codec.FormatAdapter, compresses it with a codec.Compressor and hands the
// resulting access unit to a PublishSink. Frames are handled one at a time on
// the goroutine that calls Run, in the order the source delivered them.
package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/codec"
	"golang.org/x/time/rate"
)

// DefaultBackoff is how long Run waits before polling an empty source again.
const DefaultBackoff = 50 * time.Millisecond

var (
	ErrNotInitialized     = errors.New("stage not initialized")
	ErrAlreadyInitialized = errors.New("stage already initialized")
	ErrAlreadyStarted     = errors.New("stage already started")
	ErrCompressorInit     = errors.New("compressor initialization failed")
)

// FrameSource delivers captured frames. Drain must not block; it returns all
// frames available right now in capture order, or an empty slice.
type FrameSource interface {
	Drain() []*encstage.RawFrame
}

// PublishSink receives encoded packets and owns them afterwards. Publish
// should not block for long; capacity management is up to the sink.
type PublishSink interface {
	Publish(*encstage.EncodedPacket)
}

type PublishFunc func(*encstage.EncodedPacket)

func (f PublishFunc) Publish(p *encstage.EncodedPacket) {
	f(p)
}

// TimestampBuilder is told the compressor's native frame interval so that
// downstream consumers can align presentation clocks.
type TimestampBuilder interface {
	SetVideoInterval(time.Duration)
}

type Option func(*Stage)

func WithBackoff(d time.Duration) Option {
	return func(s *Stage) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithDiagnostics mirrors every published packet into b.
func WithDiagnostics(b *DiagnosticBuffer) Option {
	return func(s *Stage) {
		s.diagnostics = b
	}
}

func WithTimestampBuilder(b TimestampBuilder) Option {
	return func(s *Stage) {
		s.timestamps = b
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Stage) {
		if l != nil {
			s.log = l
		}
	}
}

type initState int32

const (
	initPending initState = iota
	initDone
	initFailed
)

type Stats struct {
	Drained    uint64 `json:"drained"`
	Skipped    uint64 `json:"skipped"`
	Failed     uint64 `json:"failed"`
	Encoded    uint64 `json:"encoded"`
	Published  uint64 `json:"published"`
	EmptyPolls uint64 `json:"empty_polls"`
}

type Stage struct {
	id  string
	log *slog.Logger

	source      FrameSource
	adapter     codec.FormatAdapter
	compressor  codec.Compressor
	sink        PublishSink
	timestamps  TimestampBuilder
	diagnostics *DiagnosticBuffer
	backoff     time.Duration
	packetType  encstage.Codec

	init      atomic.Int32
	state     atomic.Int32
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once

	frameLog rate.Sometimes

	drained    atomic.Uint64
	skipped    atomic.Uint64
	failed     atomic.Uint64
	encoded    atomic.Uint64
	published  atomic.Uint64
	emptyPolls atomic.Uint64
}

func New(
	source FrameSource,
	adapter codec.FormatAdapter,
	compressor codec.Compressor,
	sink PublishSink,
	opts ...Option,
) *Stage {
	s := &Stage{
		id:         uuid.NewString(),
		log:        slog.Default(),
		source:     source,
		adapter:    adapter,
		compressor: compressor,
		sink:       sink,
		backoff:    DefaultBackoff,
		stop:       make(chan struct{}),
		frameLog:   rate.Sometimes{First: 5, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "encoder-stage", "stage-id", s.id)
	return s
}

func (s *Stage) ID() string {
	return s.id
}

// Initialize configures the compressor. It must succeed exactly once before
// Run. A configuration failure is final: the stage never runs.
func (s *Stage) Initialize(cfg codec.Config) error {
	if !s.init.CompareAndSwap(int32(initPending), int32(initFailed)) {
		return ErrAlreadyInitialized
	}
	if err := s.compressor.Configure(cfg); err != nil {
		s.log.Error("failed to configure compressor", "codec", cfg.Codec, "error", err)
		return fmt.Errorf("%w: %w", ErrCompressorInit, err)
	}
	s.packetType = s.compressor.Codec()
	interval := s.compressor.FrameInterval()
	if s.timestamps != nil {
		s.timestamps.SetVideoInterval(interval)
	}
	s.init.Store(int32(initDone))
	s.log.Info("compressor configured",
		"codec", s.packetType,
		"width", cfg.Width,
		"height", cfg.Height,
		"frame-interval", interval,
		"target-rate", cfg.TargetRate,
	)
	return nil
}

// Run processes frames until RequestStop is called or ctx is done. It
// releases the compressor before returning. Run may only be called once.
func (s *Stage) Run(ctx context.Context) error {
	if initState(s.init.Load()) != initDone {
		return ErrNotInitialized
	}
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		if State(s.state.Load()) == Stopping {
			s.teardown()
			return nil
		}
		return ErrAlreadyStarted
	}
	s.log.Info("stage running", "backoff", s.backoff)

	timer := time.NewTimer(s.backoff)
	timer.Stop()
	defer timer.Stop()

	for !s.stopRequested(ctx) {
		frames := s.source.Drain()
		if len(frames) == 0 {
			s.emptyPolls.Add(1)
			if !s.wait(ctx, timer) {
				break
			}
			continue
		}
		s.drained.Add(uint64(len(frames)))
		for _, frame := range frames {
			s.process(frame)
		}
	}

	s.state.CompareAndSwap(int32(Running), int32(Stopping))
	s.teardown()
	return nil
}

// RequestStop asks Run to return. It does not wait; Run notices the request
// at the top of its loop or while waiting for frames.
func (s *Stage) RequestStop() {
	for {
		cur := s.state.Load()
		if State(cur) >= Stopping {
			break
		}
		if s.state.CompareAndSwap(cur, int32(Stopping)) {
			break
		}
	}
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Stage) State() State {
	return State(s.state.Load())
}

// DrainDiagnostics returns and clears the packets mirrored into the
// diagnostic buffer. It returns nil if the stage has no diagnostic buffer.
func (s *Stage) DrainDiagnostics() []encstage.OutPacket {
	if s.diagnostics == nil {
		return nil
	}
	return s.diagnostics.DrainAll()
}

func (s *Stage) Stats() Stats {
	return Stats{
		Drained:    s.drained.Load(),
		Skipped:    s.skipped.Load(),
		Failed:     s.failed.Load(),
		Encoded:    s.encoded.Load(),
		Published:  s.published.Load(),
		EmptyPolls: s.emptyPolls.Load(),
	}
}

func (s *Stage) stopRequested(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// wait sleeps for one backoff interval. It returns false if the stage should
// stop instead.
func (s *Stage) wait(ctx context.Context, timer *time.Timer) bool {
	timer.Reset(s.backoff)
	select {
	case <-timer.C:
		return !s.stopRequested(ctx)
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Stage) process(frame *encstage.RawFrame) {
	if frame == nil {
		s.skipped.Add(1)
		return
	}
	defer frame.Release()
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.frameLog.Do(func() {
				s.log.Error("recovered from panic while processing frame", "pts", frame.PTS, "panic", r)
			})
		}
	}()

	if frame.Size <= 0 {
		s.skipped.Add(1)
		s.frameLog.Do(func() {
			s.log.Debug("skipping malformed frame", "pts", frame.PTS, "size", frame.Size)
		})
		return
	}

	img, err := s.adapter.Convert(frame)
	if err != nil {
		s.failed.Add(1)
		s.frameLog.Do(func() {
			s.log.Warn("failed to convert frame", "pts", frame.PTS, "format", frame.Format, "error", err)
		})
		return
	}

	payload, keyFrame, err := s.compressor.Encode(img, frame.PTS)
	if err != nil {
		s.failed.Add(1)
		s.frameLog.Do(func() {
			s.log.Warn("failed to encode frame", "pts", frame.PTS, "error", err)
		})
		return
	}
	if len(payload) == 0 {
		return
	}
	s.encoded.Add(1)

	pkt := &encstage.EncodedPacket{
		Payload:  payload,
		Type:     s.packetType,
		PTS:      frame.PTS,
		KeyFrame: keyFrame,
	}
	if s.diagnostics != nil {
		s.diagnostics.Append(encstage.OutPacket{
			PTS:     frame.PTS,
			Payload: bytes.Clone(payload),
		})
	}
	s.sink.Publish(pkt)
	s.published.Add(1)
}

func (s *Stage) teardown() {
	s.closeOnce.Do(func() {
		if err := s.compressor.Close(); err != nil {
			s.log.Error("failed to close compressor", "error", err)
		}
		s.state.Store(int32(Stopped))
		st := s.Stats()
		s.log.Info("stage stopped",
			"drained", st.Drained,
			"skipped", st.Skipped,
			"failed", st.Failed,
			"published", st.Published,
		)
	})
}
