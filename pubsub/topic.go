package pubsub

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

type topic struct {
	name   string
	log    *slog.Logger
	queue  chan Message
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	lock             sync.Mutex
	nextSubscriberID int
	subscribers      map[int]*queue
}

func newTopic(name string, size int, log *slog.Logger) *topic {
	t := &topic{
		name:        name,
		log:         log.With("topic", name),
		queue:       make(chan Message, size),
		done:        make(chan struct{}),
		subscribers: map[int]*queue{},
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.process()
	}()
	return t
}

func (t *topic) subscribe(q *queue) int {
	t.lock.Lock()
	defer t.lock.Unlock()
	id := t.nextSubscriberID
	t.nextSubscriberID++
	t.subscribers[id] = q
	return id
}

func (t *topic) unsubscribe(id int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if q, ok := t.subscribers[id]; ok {
		delete(t.subscribers, id)
		q.close()
	}
}

func (t *topic) publish(msg Message) error {
	if t.closed.Load() {
		return ErrBrokerClosed
	}
	select {
	case t.queue <- msg:
		return nil
	default:
		return ErrQueueOverflow
	}
}

func (t *topic) process() {
	for {
		select {
		case msg := <-t.queue:
			t.fanout(msg)
		case <-t.done:
			for {
				select {
				case msg := <-t.queue:
					t.fanout(msg)
				default:
					return
				}
			}
		}
	}
}

func (t *topic) fanout(msg Message) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for id, q := range t.subscribers {
		if !q.offer(msg) {
			t.log.Debug("subscriber queue overflow", "subscriber", id, "pts", msg.PTS)
		}
	}
}

func (t *topic) close() {
	if t.closed.Swap(true) {
		return
	}
	close(t.done)
	t.wg.Wait()

	t.lock.Lock()
	defer t.lock.Unlock()
	for id, q := range t.subscribers {
		delete(t.subscribers, id)
		q.close()
	}
	t.log.Debug("topic closed")
}
