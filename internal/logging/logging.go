package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case TextFormat, JSONFormat:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown log format: %q", s)
}

func Configure(format Format, level slog.Level, writer io.Writer) {
	if writer == nil {
		writer = os.Stderr
	}
	ho := &slog.HandlerOptions{
		AddSource:   false,
		Level:       level,
		ReplaceAttr: nil,
	}
	switch format {
	case JSONFormat:
		slog.SetDefault(slog.New(slog.NewJSONHandler(writer, ho)))
	case TextFormat:
		slog.SetDefault(slog.New(slog.NewTextHandler(writer, ho)))
	default:
		panic(fmt.Sprintf("unexpected logging.format: %#v", format))
	}
}

// RTPLogger logs RTP packet headers. TraceInterceptor plugs it into an
// interceptor chain.
type RTPLogger struct {
	logger *slog.Logger
	seq    *Unwrapper
}

func NewRTPLogger(vantagePoint string, logger *slog.Logger) *RTPLogger {
	if logger == nil {
		logger = slog.Default().With("vantage-point", vantagePoint).WithGroup("rtp-packet")
	}
	return &RTPLogger{
		logger: logger,
		seq:    &Unwrapper{},
	}
}

func (l *RTPLogger) LogRTPPacket(header *rtp.Header, payload []byte, _ interceptor.Attributes) {
	u := l.seq.Unwrap(header.SequenceNumber)
	l.logger.Info(
		"rtp packet",
		"version", header.Version,
		"padding", header.Padding,
		"marker", header.Marker,
		"payload-type", header.PayloadType,
		"sequence-number", header.SequenceNumber,
		"unwrapped-sequence-number", u,
		"timestamp", header.Timestamp,
		"ssrc", header.SSRC,
		"payload-length", header.MarshalSize()+len(payload),
	)
}

func (l *RTPLogger) LogRTPPacketBuf(rtpBuf []byte, ia interceptor.Attributes) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(rtpBuf); err != nil {
		return
	}

	l.LogRTPPacket(&pkt.Header, pkt.Payload, ia)
}

// TraceInterceptor logs every RTP packet written to a local stream before
// passing it on.
type TraceInterceptor struct {
	interceptor.NoOp
	logger *RTPLogger
}

func NewTraceInterceptor(logger *RTPLogger) *TraceInterceptor {
	return &TraceInterceptor{
		logger: logger,
	}
}

// BindLocalStream implements interceptor.Interceptor.
func (t *TraceInterceptor) BindLocalStream(_ *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, attributes interceptor.Attributes) (int, error) {
		t.logger.LogRTPPacket(header, payload, attributes)
		return writer.Write(header, payload, attributes)
	})
}
