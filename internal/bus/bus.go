package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close, and by Recv once the bus is
// closed and every queued message has been received.
var ErrClosed = errors.New("control bus closed")

// Bus is an unbounded FIFO from many producers to a single consumer.
// Send never waits on the consumer, so a slow state machine cannot stall
// the listeners feeding it.
type Bus struct {
	mu     sync.Mutex
	queue  []Message
	closed bool

	// notify holds at most one pending wake-up for the consumer.
	notify chan struct{}
}

// New creates an open bus.
func New() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Send enqueues msg. It returns ErrClosed if the consumer has shut the bus.
func (b *Bus) Send(msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	b.wake()
	return nil
}

// Recv blocks until a message is available, the bus is closed and empty,
// or ctx is done.
func (b *Bus) Recv(ctx context.Context) (Message, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			msg := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return msg, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops accepting new messages. Messages already queued stay
// receivable until drained.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wake()
}

// Len returns the number of queued messages.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
