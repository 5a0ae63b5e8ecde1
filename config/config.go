// Package config holds the settings of an encoder run. Settings come from
// built-in defaults, an optional YAML file and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/codec"
	"github.com/mengelbart/encstage/flags"
	"gopkg.in/yaml.v3"
)

const (
	SinkRTP    = "rtp"
	SinkPubSub = "pubsub"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Encoder Encoder `yaml:"encoder"`
	Source  Source  `yaml:"source"`
	Stage   Stage   `yaml:"stage"`
	Sink    Sink    `yaml:"sink"`
	HTTP    HTTP    `yaml:"http"`
}

type Encoder struct {
	Codec            string `yaml:"codec"`
	TargetRate       uint   `yaml:"target-rate"`
	KeyFrameInterval uint   `yaml:"keyframe-interval"`
}

type Source struct {
	Width     uint `yaml:"width"`
	Height    uint `yaml:"height"`
	FrameRate uint `yaml:"frame-rate"`
	QueueSize uint `yaml:"queue-size"`
}

type Stage struct {
	Backoff             time.Duration `yaml:"backoff"`
	Diagnostics         bool          `yaml:"diagnostics"`
	DiagnosticsCapacity uint          `yaml:"diagnostics-capacity"`
}

type Sink struct {
	Type        string `yaml:"type"`
	Remote      string `yaml:"remote"`
	RTPPort     uint   `yaml:"rtp-port"`
	MTU         uint   `yaml:"mtu"`
	PayloadType uint   `yaml:"payload-type"`
	SSRC        uint32 `yaml:"ssrc"`
	TraceRTP    bool   `yaml:"trace-rtp"`
	Topic       string `yaml:"topic"`
}

// HTTP configures the diagnostics server. An empty Address disables it.
type HTTP struct {
	Address string `yaml:"address"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// Default returns the configuration used when neither a file nor flags say
// otherwise. It mirrors the flag defaults.
func Default() Config {
	return Config{
		Encoder: Encoder{
			Codec:            encstage.VP8.String(),
			TargetRate:       1_000_000,
			KeyFrameInterval: 60,
		},
		Source: Source{
			Width:     640,
			Height:    480,
			FrameRate: 30,
			QueueSize: 20,
		},
		Stage: Stage{
			Backoff: 50 * time.Millisecond,
		},
		Sink: Sink{
			Type:        SinkRTP,
			Remote:      "127.0.0.1",
			RTPPort:     5000,
			MTU:         1200,
			PayloadType: 96,
			Topic:       "video",
		},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	c := Default()
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("failed to parse config file %v: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if _, err := encstage.NewCodec(c.Encoder.Codec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Encoder.TargetRate == 0 {
		return fmt.Errorf("%w: target rate must be positive", ErrInvalid)
	}
	if c.Source.Width == 0 || c.Source.Height == 0 || c.Source.Width%2 != 0 || c.Source.Height%2 != 0 {
		return fmt.Errorf("%w: resolution must be positive and even, got %dx%d", ErrInvalid, c.Source.Width, c.Source.Height)
	}
	if c.Source.FrameRate == 0 {
		return fmt.Errorf("%w: frame rate must be positive", ErrInvalid)
	}
	if c.Source.QueueSize == 0 {
		return fmt.Errorf("%w: queue size must be positive", ErrInvalid)
	}
	if c.Stage.Backoff <= 0 {
		return fmt.Errorf("%w: backoff must be positive", ErrInvalid)
	}
	switch c.Sink.Type {
	case SinkRTP:
		if c.Sink.RTPPort == 0 || c.Sink.RTPPort > 65535 {
			return fmt.Errorf("%w: invalid RTP port %d", ErrInvalid, c.Sink.RTPPort)
		}
		if c.Sink.MTU <= 12 || c.Sink.MTU > 65535 {
			return fmt.Errorf("%w: invalid MTU %d", ErrInvalid, c.Sink.MTU)
		}
		if c.Sink.PayloadType > 127 {
			return fmt.Errorf("%w: invalid payload type %d", ErrInvalid, c.Sink.PayloadType)
		}
	case SinkPubSub:
		if c.Sink.Topic == "" {
			return fmt.Errorf("%w: pubsub sink needs a topic", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown sink type %q", ErrInvalid, c.Sink.Type)
	}
	if (c.HTTP.Cert == "") != (c.HTTP.Key == "") {
		return fmt.Errorf("%w: cert and key must be set together", ErrInvalid)
	}
	return nil
}

// ApplyFlags copies the values of all flags that were set explicitly on fs
// into c. fs must have been parsed.
func (c *Config) ApplyFlags(fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch flags.FlagName(f.Name) {
		case flags.CodecFlag:
			c.Encoder.Codec = flags.Codec
		case flags.TargetRateFlag:
			c.Encoder.TargetRate = flags.TargetRate
		case flags.KeyFrameIntervalFlag:
			c.Encoder.KeyFrameInterval = flags.KeyFrameInterval
		case flags.WidthFlag:
			c.Source.Width = flags.Width
		case flags.HeightFlag:
			c.Source.Height = flags.Height
		case flags.FrameRateFlag:
			c.Source.FrameRate = flags.FrameRate
		case flags.QueueSizeFlag:
			c.Source.QueueSize = flags.QueueSize
		case flags.BackoffFlag:
			c.Stage.Backoff = flags.Backoff
		case flags.DiagnosticsFlag:
			c.Stage.Diagnostics = flags.Diagnostics
		case flags.DiagnosticsCapacityFlag:
			c.Stage.DiagnosticsCapacity = flags.DiagnosticsCapacity
		case flags.SinkTypeFlag:
			c.Sink.Type = flags.SinkType
		case flags.RemoteAddrFlag:
			c.Sink.Remote = flags.RemoteAddr
		case flags.RTPPortFlag:
			c.Sink.RTPPort = flags.RTPPort
		case flags.MTUFlag:
			c.Sink.MTU = flags.MTU
		case flags.PayloadTypeFlag:
			c.Sink.PayloadType = flags.PayloadType
		case flags.TraceRTPSendFlag:
			c.Sink.TraceRTP = flags.TraceRTPSend
		case flags.TopicFlag:
			c.Sink.Topic = flags.Topic
		case flags.HTTPAddrFlag:
			c.HTTP.Address = flags.HTTPAddr
		case flags.CertFlag:
			c.HTTP.Cert = flags.Cert
		case flags.KeyFlag:
			c.HTTP.Key = flags.Key
		}
	})
}

// Codec returns the compressor configuration. c must be valid.
func (c Config) Codec() codec.Config {
	cdc, _ := encstage.NewCodec(c.Encoder.Codec)
	return codec.Config{
		Codec:            cdc,
		Width:            c.Source.Width,
		Height:           c.Source.Height,
		TimebaseNum:      int(c.Source.FrameRate),
		TimebaseDen:      1,
		TargetRate:       c.Encoder.TargetRate,
		KeyFrameInterval: c.Encoder.KeyFrameInterval,
	}
}
