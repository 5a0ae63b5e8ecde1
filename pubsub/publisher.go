package pubsub

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mengelbart/encstage"
	"golang.org/x/time/rate"
)

type Publisher struct {
	broker *Broker
}

func NewPublisher(b *Broker) *Publisher {
	return &Publisher{
		broker: b,
	}
}

func (p *Publisher) Announce(topic string) error {
	return p.broker.announce(topic)
}

func (p *Publisher) Publish(topic string, m Message) error {
	return p.broker.publish(topic, m)
}

// Sink publishes every packet it receives into a single topic. Packets that
// cannot be published are dropped and counted.
type Sink struct {
	publisher *Publisher
	topic     string
	dropped   atomic.Uint64
	log       *slog.Logger
	dropLog   rate.Sometimes
}

// NewSink announces topic on b and returns a Sink publishing into it.
func NewSink(b *Broker, topic string) (*Sink, error) {
	p := NewPublisher(b)
	if err := p.Announce(topic); err != nil {
		return nil, err
	}
	return &Sink{
		publisher: p,
		topic:     topic,
		log:       slog.Default().With("component", "pubsub-sink", "topic", topic),
		dropLog:   rate.Sometimes{First: 1, Interval: time.Second},
	}, nil
}

func (s *Sink) Publish(pkt *encstage.EncodedPacket) {
	if err := s.publisher.Publish(s.topic, pkt); err != nil {
		n := s.dropped.Add(1)
		s.dropLog.Do(func() {
			s.log.Warn("dropping packet", "pts", pkt.PTS, "dropped", n, "error", err)
		})
	}
}

func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}
