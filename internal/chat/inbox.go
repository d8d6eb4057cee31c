// Package chat receives viewer messages and queues them for the pipeline.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInboxClosed is returned by Push after Close.
var ErrInboxClosed = errors.New("chat inbox closed")

// Event is one inbound viewer message.
type Event struct {
	Author     string
	Message    string
	ReceivedAt time.Time
}

// Inbox is a bounded FIFO between chat intake and the orchestrator. Push
// applies backpressure instead of dropping.
type Inbox struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 256
	}
	return &Inbox{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Push queues ev, waiting for room until ctx is done or the inbox is closed.
func (i *Inbox) Push(ctx context.Context, ev Event) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	select {
	case <-i.done:
		return ErrInboxClosed
	default:
	}
	select {
	case i.events <- ev:
		return nil
	case <-i.done:
		return ErrInboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is read by the single consumer. The channel is never closed; the
// consumer stops on its own context.
func (i *Inbox) Events() <-chan Event { return i.events }

func (i *Inbox) Len() int { return len(i.events) }

// Close rejects further pushes. Already queued events stay readable.
func (i *Inbox) Close() {
	i.closeOnce.Do(func() { close(i.done) })
}
