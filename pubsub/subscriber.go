package pubsub

import (
	"iter"
	"sync"
	"sync/atomic"
)

type queue struct {
	lock    sync.Mutex
	ch      chan Message
	closed  bool
	dropped atomic.Uint64
}

func (q *queue) offer(msg Message) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *queue) close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

type Subscriber struct {
	lock   sync.Mutex
	topics map[string]*queue
	broker *Broker
}

func NewSubscriber(b *Broker) *Subscriber {
	return &Subscriber{
		topics: map[string]*queue{},
		broker: b,
	}
}

// Subscribe registers for messages on topic. The returned sequence yields
// messages in publish order and ends when the broker closes or the consumer
// stops iterating.
func (s *Subscriber) Subscribe(topic string, queueSize int) (iter.Seq[Message], error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.topics[topic]; ok {
		return nil, ErrDuplicateSubscription
	}
	q := &queue{ch: make(chan Message, max(queueSize, 1))}
	id, err := s.broker.subscribe(topic, q)
	if err != nil {
		return nil, err
	}
	s.topics[topic] = q
	return func(yield func(Message) bool) {
		for msg := range q.ch {
			if !yield(msg) {
				s.broker.unsubscribe(topic, id)
				return
			}
		}
	}, nil
}

// Dropped returns how many messages on topic were discarded because this
// subscriber's queue was full.
func (s *Subscriber) Dropped(topic string) uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	if q, ok := s.topics[topic]; ok {
		return q.dropped.Load()
	}
	return 0
}
