package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 1024

var (
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("event bridge closed")
	// ErrConsumerRunning is returned when Run is called twice.
	ErrConsumerRunning = errors.New("event bridge already has a consumer")
)

// Consumer handles events on the consumer goroutine.
type Consumer interface {
	Consume(Event)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(Event)

func (f ConsumerFunc) Consume(e Event) { f(e) }

// Bridge is a bounded FIFO from many producers to one consumer. Publish blocks
// only while the queue is full. Events accepted before Close are delivered.
type Bridge struct {
	queue   chan Event
	done    chan struct{}
	sealed  chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	running atomic.Bool
}

// NewBridge creates a bridge holding up to capacity undelivered events.
func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bridge{
		queue:  make(chan Event, capacity),
		done:   make(chan struct{}),
		sealed: make(chan struct{}),
	}
}

// Publish enqueues e, waiting for room if the queue is full.
func (b *Bridge) Publish(e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.queue <- e:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// Pending returns the number of queued, undelivered events.
func (b *Bridge) Pending() int {
	return len(b.queue)
}

// Close stops accepting events and wakes blocked publishers. Run delivers the
// remaining queue and returns. Close is idempotent.
func (b *Bridge) Close() {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.sealed)
	})
}

// Run delivers events to consumer in FIFO order until the bridge is closed or
// ctx ends; either way the bridge ends up closed and drained.
func (b *Bridge) Run(ctx context.Context, consumer Consumer) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrConsumerRunning
	}
	for {
		select {
		case e := <-b.queue:
			consumer.Consume(e)
		case <-b.done:
			b.drain(consumer)
			return nil
		case <-ctx.Done():
			b.Close()
			b.drain(consumer)
			return ctx.Err()
		}
	}
}

func (b *Bridge) drain(consumer Consumer) {
	<-b.sealed
	for {
		select {
		case e := <-b.queue:
			consumer.Consume(e)
		default:
			return
		}
	}
}
