package codec

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/internal/logging"
	"github.com/mengelbart/encstage/timestamp"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const rtpHeaderSize = 12

// RTPClock maps presentation timestamps to RTP media timestamps.
type RTPClock interface {
	RTPTimestamp(pts time.Duration, clockRate uint32) uint32
}

type RTPPacketizerFactory struct {
	MTU       uint16
	PT        uint8
	SSRC      uint32
	ClockRate uint32

	// Clock converts packet PTS to RTP timestamps. Defaults to a fresh
	// timestamp.Builder.
	Clock RTPClock

	// Interceptors wrap the RTP writer like an interceptor.Chain: the last
	// entry sees a packet first.
	Interceptors []interceptor.Interceptor

	// Trace logs every outgoing RTP packet.
	Trace bool
}

// RTPPacketizer splits encoded access units into RTP packets. It is a publish
// sink for the encoder stage and a Writer for codec chains.
type RTPPacketizer struct {
	MTU       uint16
	PT        uint8
	SSRC      uint32
	ClockRate uint32

	frameDuration time.Duration
	clock         RTPClock
	sequencer     rtp.Sequencer
	payloaders    map[encstage.Codec]rtp.Payloader
	writer        Writer
	log           *slog.Logger

	streamInfo *interceptor.StreamInfo
	chain      *interceptor.Chain
	rtpWriter  interceptor.RTPWriter
	pending    [][]byte

	unwrapper *logging.Unwrapper // for logging the rtp packets
}

func (p *RTPPacketizerFactory) Link(w Writer, i Info) (Writer, error) {
	return p.NewPacketizer(w, i)
}

func (p *RTPPacketizerFactory) NewPacketizer(w Writer, i Info) (*RTPPacketizer, error) {
	if p.MTU <= rtpHeaderSize {
		return nil, fmt.Errorf("MTU %d too small for RTP", p.MTU)
	}
	if p.ClockRate == 0 {
		return nil, fmt.Errorf("invalid RTP clock rate 0")
	}
	var frameDuration time.Duration
	if i.TimebaseNum > 0 && i.TimebaseDen > 0 {
		fps := float64(i.TimebaseNum) / float64(i.TimebaseDen)
		frameDuration = time.Duration(float64(time.Second) / fps)
	}
	clock := p.Clock
	if clock == nil {
		clock = timestamp.NewBuilder()
	}
	interceptors := slices.Clone(p.Interceptors)
	if p.Trace {
		// Innermost, so it logs packets as they go out.
		interceptors = slices.Insert(interceptors, 0, interceptor.Interceptor(
			logging.NewTraceInterceptor(logging.NewRTPLogger("sender", nil)),
		))
	}
	packetizer := &RTPPacketizer{
		MTU:           p.MTU,
		PT:            p.PT,
		SSRC:          p.SSRC,
		ClockRate:     p.ClockRate,
		frameDuration: frameDuration,
		clock:         clock,
		sequencer:     rtp.NewRandomSequencer(),
		payloaders: map[encstage.Codec]rtp.Payloader{
			encstage.H264: &codecs.H264Payloader{},
			encstage.VP8:  &codecs.VP8Payloader{EnablePictureID: true},
			encstage.VP9:  &codecs.VP9Payloader{FlexibleMode: true},
		},
		writer: w,
		log:    slog.Default().With("component", "rtp-packetizer", "ssrc", p.SSRC),
		streamInfo: &interceptor.StreamInfo{
			SSRC:        p.SSRC,
			PayloadType: p.PT,
			ClockRate:   p.ClockRate,
		},
		chain:     interceptor.NewChain(interceptors),
		unwrapper: &logging.Unwrapper{},
	}
	packetizer.rtpWriter = packetizer.chain.BindLocalStream(
		packetizer.streamInfo,
		interceptor.RTPWriterFunc(packetizer.marshal),
	)
	return packetizer, nil
}

// Publish packetizes pkt and writes the packets downstream. Write failures
// are logged and the access unit is dropped.
func (p *RTPPacketizer) Publish(pkt *encstage.EncodedPacket) {
	err := p.Write(pkt.Payload, Attributes{
		PTS:           pkt.PTS,
		PacketType:    pkt.Type,
		IsKeyFrame:    pkt.KeyFrame,
		FrameDuration: p.frameDuration,
	})
	if err != nil {
		p.log.Warn("dropping access unit", "pts", pkt.PTS, "type", pkt.Type, "error", err)
	}
}

func (p *RTPPacketizer) Write(encFrame []byte, a Attributes) error {
	pts, err := getPTS(a)
	if err != nil {
		return err
	}
	packetType, err := getPacketType(a)
	if err != nil {
		return err
	}
	payloader, ok := p.payloaders[packetType]
	if !ok {
		return fmt.Errorf("no RTP payloader for %v", packetType)
	}

	payloads := payloader.Payload(p.MTU-rtpHeaderSize, encFrame)
	if len(payloads) == 0 {
		return nil
	}
	ts := p.clock.RTPTimestamp(pts, p.ClockRate)
	duration := getFrameDuration(a, p.frameDuration)

	p.pending = make([][]byte, 0, len(payloads))
	for i, payload := range payloads {
		header := rtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         i == len(payloads)-1,
			PayloadType:    p.PT,
			SequenceNumber: p.sequencer.NextSequenceNumber(),
			Timestamp:      ts,
			SSRC:           p.SSRC,
		}
		if _, err := p.rtpWriter.Write(&header, payload, interceptor.Attributes{}); err != nil {
			return err
		}
		p.log.Debug("rtp to pts mapping",
			"rtp-timestamp", header.Timestamp,
			"sequence-number", header.SequenceNumber,
			"unwrapped-sequence-number", p.unwrapper.Unwrap(header.SequenceNumber),
			"pts", pts,
			"keyframe", getKeyFrame(a),
			"duration", duration,
		)
	}
	if writer, ok := p.writer.(MultiWriter); ok {
		return writer.WriteAll(p.pending, a)
	}
	for _, pkt := range p.pending {
		if err := p.writer.Write(pkt, a); err != nil {
			return err
		}
	}
	return nil
}

// Close unbinds the stream from the interceptor chain and closes it.
func (p *RTPPacketizer) Close() error {
	p.chain.UnbindLocalStream(p.streamInfo)
	return p.chain.Close()
}

// marshal is the end of the interceptor chain. It collects the packets of
// the access unit being written.
func (p *RTPPacketizer) marshal(header *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
	pkt := rtp.Packet{
		Header:  *header,
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return 0, err
	}
	p.pending = append(p.pending, buf)
	return len(buf), nil
}
