// Package tracking carries workflow progress and error notifications out of the pipeline.
package tracking

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/eventstore"
	"github.com/loqalabs/loqa-vtuber/internal/protocol"
)

// Notifier is the single outbound channel for progress and error reports.
type Notifier interface {
	Workflow(phase, details string)
	Error(message string)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Workflow(string, string) {}
func (Discard) Error(string)            {}

// Publisher is satisfied by *bus.Client.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Recorder is satisfied by *eventstore.Store.
type Recorder interface {
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type entry struct {
	kind    string
	phase   string
	author  string
	message string
	at      time.Time
}

// Tracker logs every notification immediately and hands it to a background
// writer that persists and publishes it. Producers never block: when the
// buffer is full the entry is only logged.
type Tracker struct {
	sessionID string
	log       *slog.Logger
	publisher Publisher
	recorder  Recorder
	entries   chan entry
	dropped   atomic.Int64
	clock     func() time.Time
}

func New(sessionID string, recorder Recorder, publisher Publisher, bufferSize int, logger *slog.Logger) *Tracker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Tracker{
		sessionID: sessionID,
		log:       logger.With(slog.String("component", "tracking")),
		publisher: publisher,
		recorder:  recorder,
		entries:   make(chan entry, bufferSize),
		clock:     time.Now,
	}
}

func (t *Tracker) Workflow(phase, details string) {
	t.log.Info("workflow", slog.String("phase", phase), slog.String("details", details))
	t.enqueue(entry{kind: eventstore.KindWorkflow, phase: phase, message: details, at: t.clock().UTC()})
}

func (t *Tracker) Error(message string) {
	t.log.Warn("pipeline error", slog.String("error", message))
	t.enqueue(entry{kind: eventstore.KindError, message: message, at: t.clock().UTC()})
}

// Chat records an inbound viewer message on the timeline.
func (t *Tracker) Chat(author, message string) {
	t.log.Info("chat message", slog.String("author", author), slog.String("message", message))
	t.enqueue(entry{kind: eventstore.KindChat, author: author, message: message, at: t.clock().UTC()})
}

// Dropped reports how many entries were not persisted because the buffer was full.
func (t *Tracker) Dropped() int64 { return t.dropped.Load() }

func (t *Tracker) enqueue(e entry) {
	select {
	case t.entries <- e:
	default:
		t.dropped.Add(1)
	}
}

// Run writes entries until ctx is cancelled, then flushes what is still buffered.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case e := <-t.entries:
			t.write(ctx, e)
		case <-ctx.Done():
			t.flush()
			return
		}
	}
}

func (t *Tracker) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-t.entries:
			t.write(ctx, e)
		default:
			return
		}
	}
}

func (t *Tracker) write(ctx context.Context, e entry) {
	if t.recorder != nil {
		err := t.recorder.AppendEvent(ctx, eventstore.Event{
			SessionID: t.sessionID,
			Kind:      e.kind,
			Phase:     e.phase,
			Author:    e.author,
			Message:   e.message,
			CreatedAt: e.at,
		})
		if err != nil {
			t.log.Warn("failed to persist tracking entry", slogError(err))
		}
	}
	if t.publisher == nil {
		return
	}
	var err error
	switch e.kind {
	case eventstore.KindWorkflow:
		err = t.publisher.PublishJSON(protocol.SubjectWorkflow, protocol.WorkflowEvent{Phase: e.phase, Details: e.message, Timestamp: e.at})
	case eventstore.KindError:
		err = t.publisher.PublishJSON(protocol.SubjectError, protocol.ErrorEvent{Message: e.message, Timestamp: e.at})
	}
	if err != nil {
		t.log.Warn("failed to publish tracking entry", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
