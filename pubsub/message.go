// Package pubsub fans encoded packets out to in-process subscribers.
//
// A Broker holds named topics. Publishers announce topics and publish
// messages into them; every Subscriber of a topic gets each message on its
// own bounded queue. Publishing never blocks: when a queue is full the
// message is dropped for that queue and the drop is counted.
package pubsub

import (
	"errors"

	"github.com/mengelbart/encstage"
)

type Message = *encstage.EncodedPacket

var (
	ErrBrokerClosed          = errors.New("broker closed")
	ErrDuplicateTopic        = errors.New("duplicate topic")
	ErrUnknownTopic          = errors.New("unknown topic")
	ErrDuplicateSubscription = errors.New("duplicate subscription")
	ErrQueueOverflow         = errors.New("queue overflow")
)
