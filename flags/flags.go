// Package flags implements command-line flags for encstage.
//
// The design idea is taken from [upspin.io/flags], but most of the code is
// modified. This package uses a slightly modified version of [RegisterInto] and
// the internal [flags]-map. See [Upspin LICENSE] for upspins copyright and
// license information.
//
// [upspin.io/flags]: https://github.com/upspin/upspin/tree/334f107fe3d98225d7adfbb35b74e066fbca9875/flags
// [Upspin LICENSE]: https://github.com/upspin/upspin/blob/334f107fe3d98225d7adfbb35b74e066fbca9875/LICENSE
package flags

import (
	"flag"
	"fmt"
	"time"

	"github.com/mengelbart/encstage"
)

type FlagName string

// flag keys
const (
	ConfigFlag FlagName = "config"

	CodecFlag            FlagName = "codec"
	TargetRateFlag       FlagName = "target-rate"
	KeyFrameIntervalFlag FlagName = "keyframe-interval"

	WidthFlag     FlagName = "width"
	HeightFlag    FlagName = "height"
	FrameRateFlag FlagName = "frame-rate"
	QueueSizeFlag FlagName = "queue-size"

	BackoffFlag             FlagName = "backoff"
	DiagnosticsFlag         FlagName = "diagnostics"
	DiagnosticsCapacityFlag FlagName = "diagnostics-capacity"

	SinkTypeFlag     FlagName = "sink-type"
	RemoteAddrFlag   FlagName = "remote"
	RTPPortFlag      FlagName = "rtp-port"
	MTUFlag          FlagName = "mtu"
	PayloadTypeFlag  FlagName = "payload-type"
	TraceRTPSendFlag FlagName = "trace-rtp-send"
	TopicFlag        FlagName = "topic"

	HTTPAddrFlag FlagName = "http-address"
	CertFlag     FlagName = "cert"
	KeyFlag      FlagName = "key"

	DurationFlag FlagName = "duration"
)

// Flag vars
var (
	// ConfigFile is an optional YAML file. Flags set explicitly on the command
	// line take precedence over its values.
	ConfigFile = ""

	Codec            = encstage.VP8.String()
	TargetRate       = uint(1_000_000)
	KeyFrameInterval = uint(60)

	Width     = uint(640)
	Height    = uint(480)
	FrameRate = uint(30)
	QueueSize = uint(20)

	Backoff             = 50 * time.Millisecond
	Diagnostics         = false
	DiagnosticsCapacity = uint(0)

	SinkType = "rtp"

	// RemoteAddr
	RemoteAddr = "127.0.0.1"

	// RTP Send Port
	RTPPort      = uint(5000)
	MTU          = uint(1200)
	PayloadType  = uint(96)
	TraceRTPSend = false
	Topic        = "video"

	// HTTP Server, empty disables it
	HTTPAddr = ""

	Cert = ""

	Key = ""

	Duration = time.Duration(0)
)

type flagVar func(*flag.FlagSet)

func stringVar(p *string, name FlagName, defaultValue *string, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(p, string(name), *defaultValue, usage)
	}
}

func uintVar(p *uint, name FlagName, defaultValue *uint, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.UintVar(p, string(name), *defaultValue, usage)
	}
}

func boolVar(p *bool, name FlagName, defaultValue *bool, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(p, string(name), *defaultValue, usage)
	}
}

func durationVar(p *time.Duration, name FlagName, defaultValue *time.Duration, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.DurationVar(p, string(name), *defaultValue, usage)
	}
}

var flags = map[FlagName]flagVar{
	ConfigFlag: stringVar(&ConfigFile, ConfigFlag, &ConfigFile, "YAML configuration file"),

	// encoder flags
	CodecFlag:            stringVar(&Codec, CodecFlag, &Codec, "Codec to use (VP8, VP9)"),
	TargetRateFlag:       uintVar(&TargetRate, TargetRateFlag, &TargetRate, "Encoder target rate in bits per second"),
	KeyFrameIntervalFlag: uintVar(&KeyFrameInterval, KeyFrameIntervalFlag, &KeyFrameInterval, "Force a key frame every n frames, 0 leaves it to the encoder"),

	// source flags
	WidthFlag:     uintVar(&Width, WidthFlag, &Width, "Frame width in pixels"),
	HeightFlag:    uintVar(&Height, HeightFlag, &Height, "Frame height in pixels"),
	FrameRateFlag: uintVar(&FrameRate, FrameRateFlag, &FrameRate, "Capture frame rate"),
	QueueSizeFlag: uintVar(&QueueSize, QueueSizeFlag, &QueueSize, "Number of captured frames buffered before the oldest is dropped"),

	// stage flags
	BackoffFlag:             durationVar(&Backoff, BackoffFlag, &Backoff, "Wait time when no frame is available"),
	DiagnosticsFlag:         boolVar(&Diagnostics, DiagnosticsFlag, &Diagnostics, "Keep encoded packets for inspection"),
	DiagnosticsCapacityFlag: uintVar(&DiagnosticsCapacity, DiagnosticsCapacityFlag, &DiagnosticsCapacity, "Maximum number of packets kept for inspection, 0 means unbounded"),

	// sink flags
	SinkTypeFlag:     stringVar(&SinkType, SinkTypeFlag, &SinkType, "Sink type (rtp, pubsub)"),
	RemoteAddrFlag:   stringVar(&RemoteAddr, RemoteAddrFlag, &RemoteAddr, "Address of the RTP receiver"),
	RTPPortFlag:      uintVar(&RTPPort, RTPPortFlag, &RTPPort, "UDP Port number for outgoing RTP stream"),
	MTUFlag:          uintVar(&MTU, MTUFlag, &MTU, "Maximum RTP packet size"),
	PayloadTypeFlag:  uintVar(&PayloadType, PayloadTypeFlag, &PayloadType, "RTP payload type"),
	TraceRTPSendFlag: boolVar(&TraceRTPSend, TraceRTPSendFlag, &TraceRTPSend, "Log outgoing RTP packets"),
	TopicFlag:        stringVar(&Topic, TopicFlag, &Topic, "Topic name for the pubsub sink"),

	// HTTP flags
	HTTPAddrFlag: stringVar(&HTTPAddr, HTTPAddrFlag, &HTTPAddr, "Diagnostics HTTP server address, empty disables the server"),
	CertFlag:     stringVar(&Cert, CertFlag, &Cert, "TLS Certificate, enables HTTP/3 together with -key"),
	KeyFlag:      stringVar(&Key, KeyFlag, &Key, "TLS Certificate key"),

	DurationFlag: durationVar(&Duration, DurationFlag, &Duration, "Stop after this long, 0 runs until interrupted"),
}

func RegisterInto(fs *flag.FlagSet, names ...FlagName) {
	if len(names) == 0 {
		for _, f := range flags {
			f(fs)
		}
	} else {
		for _, n := range names {
			f, ok := flags[n]
			if !ok {
				panic(fmt.Sprintf("unknown flag: %q", n))
			}
			f(fs)
		}
	}
}
