// Package queue provides the bounded FIFO command buffer between session
// producers and executor consumers. It is built on a buffered channel plus
// a done channel: the channel gives capacity-bounded FIFO blocking for
// free, and the done channel wakes every blocked producer and consumer at
// shutdown.
package queue

import (
	"errors"
	"sync"

	"github.com/Blackjack1937/Babble/internal/protocol"
)

// ErrShutdown is returned by Enqueue and Dequeue once Close has been
// called. An item rejected with ErrShutdown was not published.
var ErrShutdown = errors.New("queue shut down")

// Queue is a bounded FIFO of commands, safe for any number of concurrent
// producers and consumers.
type Queue struct {
	items chan *protocol.Command
	done  chan struct{}
	once  sync.Once
}

// New creates a queue with the given capacity. Capacity must be at least 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items: make(chan *protocol.Command, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue publishes cmd, blocking while the queue is full. It returns
// ErrShutdown without publishing once the queue is closed.
func (q *Queue) Enqueue(cmd *protocol.Command) error {
	// Reject early so a producer racing with Close does not slip an item
	// into a queue no consumer will drain.
	select {
	case <-q.done:
		return ErrShutdown
	default:
	}

	select {
	case q.items <- cmd:
		return nil
	case <-q.done:
		return ErrShutdown
	}
}

// Dequeue removes the oldest command, blocking while the queue is empty.
// After Close, buffered commands are still handed out until the queue is
// drained; only then does Dequeue return ErrShutdown.
func (q *Queue) Dequeue() (*protocol.Command, error) {
	select {
	case cmd := <-q.items:
		return cmd, nil
	case <-q.done:
		select {
		case cmd := <-q.items:
			return cmd, nil
		default:
			return nil, ErrShutdown
		}
	}
}

// Close requests shutdown. All current and future waiters observe
// ErrShutdown. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Len reports the number of buffered commands.
func (q *Queue) Len() int { return len(q.items) }

// Cap reports the queue capacity.
func (q *Queue) Cap() int { return cap(q.items) }
