package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/capture"
	"github.com/mengelbart/encstage/cmdmain"
	"github.com/mengelbart/encstage/codec"
	"github.com/mengelbart/encstage/codec/vpx"
	"github.com/mengelbart/encstage/config"
	"github.com/mengelbart/encstage/flags"
	"github.com/mengelbart/encstage/internal/http"
	"github.com/mengelbart/encstage/pubsub"
	"github.com/mengelbart/encstage/stage"
	"github.com/mengelbart/encstage/timestamp"
	"golang.org/x/sync/errgroup"
)

func init() {
	cmdmain.RegisterSubCmd("run", func() cmdmain.SubCmd { return new(Run) })
}

var ErrUnsupportedCodec = errors.New("unsupported codec")

type Run struct{}

// Help implements cmdmain.SubCmd.
func (r *Run) Help() string {
	return "Capture a test pattern, encode it and publish the encoded stream"
}

// Exec implements cmdmain.SubCmd.
func (r *Run) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	flags.RegisterInto(fs, []flags.FlagName{
		flags.ConfigFlag,
		flags.CodecFlag,
		flags.TargetRateFlag,
		flags.KeyFrameIntervalFlag,
		flags.WidthFlag,
		flags.HeightFlag,
		flags.FrameRateFlag,
		flags.QueueSizeFlag,
		flags.BackoffFlag,
		flags.DiagnosticsFlag,
		flags.DiagnosticsCapacityFlag,
		flags.SinkTypeFlag,
		flags.RemoteAddrFlag,
		flags.RTPPortFlag,
		flags.MTUFlag,
		flags.PayloadTypeFlag,
		flags.TraceRTPSendFlag,
		flags.TopicFlag,
		flags.HTTPAddrFlag,
		flags.CertFlag,
		flags.KeyFlag,
		flags.DurationFlag,
	}...)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Run the capture, encode and publish chain

Usage:
	%s run [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	cfg := config.Default()
	if flags.ConfigFile != "" {
		var err error
		cfg, err = config.Load(flags.ConfigFile)
		if err != nil {
			return err
		}
	}
	cfg.ApplyFlags(fs)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.Duration)
		defer cancel()
	}
	return run(ctx, cfg)
}

func run(ctx context.Context, cfg config.Config) error {
	if c := cfg.Codec().Codec; !slices.Contains(vpx.Codecs(), c) {
		return fmt.Errorf("%w: codec %v is not supported by the encoder, use one of %v", ErrUnsupportedCodec, c, vpx.Codecs())
	}
	queue := capture.NewQueue(int(cfg.Source.QueueSize))
	source, err := capture.NewTestPattern(int(cfg.Source.Width), int(cfg.Source.Height), int(cfg.Source.FrameRate), queue)
	if err != nil {
		return err
	}

	timestamps := timestamp.NewBuilder()
	eg, ctx := errgroup.WithContext(ctx)

	sink, closeSink, err := newSink(eg, cfg, timestamps)
	if err != nil {
		return err
	}

	opts := []stage.Option{
		stage.WithBackoff(cfg.Stage.Backoff),
		stage.WithTimestampBuilder(timestamps),
	}
	if cfg.Stage.Diagnostics {
		opts = append(opts, stage.WithDiagnostics(stage.NewDiagnosticBuffer(int(cfg.Stage.DiagnosticsCapacity))))
	}
	encoder := stage.New(queue, codec.I420Adapter{}, vpx.NewEncoder(), sink, opts...)
	if err := encoder.Initialize(cfg.Codec()); err != nil {
		closeSink()
		return err
	}

	if cfg.HTTP.Address != "" {
		mux := httprouter.New()
		http.NewApi(encoder, queue).RegisterRoutes(mux)
		server, err := http.NewServer(
			http.Address(cfg.HTTP.Address),
			http.Handle(mux),
			http.CertificateFile(cfg.HTTP.Cert, cfg.HTTP.Key),
			http.RequestLogger(slog.Default()),
		)
		if err != nil {
			closeSink()
			return err
		}
		eg.Go(func() error {
			return server.ListenAndServe(ctx)
		})
	}

	eg.Go(func() error {
		return source.Run(ctx)
	})
	eg.Go(func() error {
		defer closeSink()
		return encoder.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		encoder.RequestStop()
		return queue.Close()
	})

	err = eg.Wait()
	slog.Info("run finished",
		"produced", source.Produced(),
		"queue-drops", queue.Drops(),
		"published", encoder.Stats().Published,
	)
	return err
}

// newSink builds the publish sink selected by cfg. Goroutines the sink needs
// are started on eg; the returned function releases the sink's resources and
// must be called once nothing publishes anymore.
func newSink(
	eg *errgroup.Group,
	cfg config.Config,
	clock codec.RTPClock,
) (stage.PublishSink, func(), error) {
	switch cfg.Sink.Type {
	case config.SinkPubSub:
		return newPubSubSink(eg, cfg)
	default:
		return newRTPSink(cfg, clock)
	}
}

func newRTPSink(cfg config.Config, clock codec.RTPClock) (stage.PublishSink, func(), error) {
	conn, err := net.Dial("udp", net.JoinHostPort(cfg.Sink.Remote, strconv.FormatUint(uint64(cfg.Sink.RTPPort), 10)))
	if err != nil {
		return nil, nil, err
	}
	ssrc := cfg.Sink.SSRC
	if ssrc == 0 {
		ssrc = rand.Uint32()
	}
	factory := &codec.RTPPacketizerFactory{
		MTU:       uint16(cfg.Sink.MTU),
		PT:        uint8(cfg.Sink.PayloadType),
		SSRC:      ssrc,
		ClockRate: uint32(encstage.VP8.ClockRate()),
		Clock:     clock,
		Trace:     cfg.Sink.TraceRTP,
	}
	packetizer, err := factory.NewPacketizer(codec.WriterFunc(func(b []byte, _ codec.Attributes) error {
		_, err := conn.Write(b)
		return err
	}), cfg.Codec().Info())
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	slog.Info("sending RTP", "remote", conn.RemoteAddr(), "ssrc", ssrc, "payload-type", cfg.Sink.PayloadType)
	return packetizer, func() {
		if err := packetizer.Close(); err != nil {
			slog.Error("failed to close RTP interceptors", "error", err)
		}
		if err := conn.Close(); err != nil {
			slog.Error("failed to close UDP connection", "error", err)
		}
	}, nil
}

func newPubSubSink(eg *errgroup.Group, cfg config.Config) (stage.PublishSink, func(), error) {
	broker := pubsub.NewBroker()
	sink, err := pubsub.NewSink(broker, cfg.Sink.Topic)
	if err != nil {
		broker.Close()
		return nil, nil, err
	}
	sub := pubsub.NewSubscriber(broker)
	packets, err := sub.Subscribe(cfg.Sink.Topic, int(cfg.Source.QueueSize))
	if err != nil {
		broker.Close()
		return nil, nil, err
	}
	log := slog.Default().With("component", "subscriber", "topic", cfg.Sink.Topic)
	eg.Go(func() error {
		var count, bytes, keyFrames int
		for pkt := range packets {
			count++
			bytes += len(pkt.Payload)
			if pkt.KeyFrame {
				keyFrames++
			}
			log.Debug("received packet", "pts", pkt.PTS, "size", len(pkt.Payload), "key-frame", pkt.KeyFrame)
		}
		log.Info("subscription ended",
			"packets", count,
			"bytes", bytes,
			"key-frames", keyFrames,
			"dropped", sub.Dropped(cfg.Sink.Topic),
		)
		return nil
	})
	return sink, func() {
		broker.Close()
	}, nil
}
