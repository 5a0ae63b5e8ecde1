package pubsub

import (
	"log/slog"
	"sync"
)

// DefaultTopicQueueSize is the number of messages a topic buffers before
// fanning them out.
const DefaultTopicQueueSize = 64

type Broker struct {
	lock      sync.Mutex
	topics    map[string]*topic
	queueSize int
	closed    bool
	log       *slog.Logger
}

func NewBroker() *Broker {
	return &Broker{
		topics:    map[string]*topic{},
		queueSize: DefaultTopicQueueSize,
		log:       slog.Default().With("component", "broker"),
	}
}

func (b *Broker) announce(name string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	if _, ok := b.topics[name]; ok {
		return ErrDuplicateTopic
	}
	b.topics[name] = newTopic(name, b.queueSize, b.log)
	b.log.Debug("topic announced", "topic", name)
	return nil
}

func (b *Broker) topic(name string) (*topic, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	t, ok := b.topics[name]
	if !ok {
		return nil, ErrUnknownTopic
	}
	return t, nil
}

func (b *Broker) publish(name string, msg Message) error {
	t, err := b.topic(name)
	if err != nil {
		return err
	}
	return t.publish(msg)
}

func (b *Broker) subscribe(name string, q *queue) (int, error) {
	t, err := b.topic(name)
	if err != nil {
		return 0, err
	}
	return t.subscribe(q), nil
}

func (b *Broker) unsubscribe(name string, id int) {
	t, err := b.topic(name)
	if err != nil {
		return
	}
	t.unsubscribe(id)
}

// Close stops all topics and ends every subscription. Messages still
// buffered in a topic are delivered before its subscriptions end.
func (b *Broker) Close() error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = map[string]*topic{}
	b.lock.Unlock()

	for _, t := range topics {
		t.close()
	}
	b.log.Info("broker closed", "topics", len(topics))
	return nil
}
