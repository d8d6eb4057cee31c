package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/tracking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrStopTimeout is returned by Stop when the playback worker does not exit
// within the join timeout.
var ErrStopTimeout = errors.New("audio worker did not stop within join timeout")

// Sink serializes playback through one worker goroutine that owns the device.
// Producers never block: a full queue drops the buffer.
type Sink struct {
	device      Device
	queue       chan Buffer
	joinTimeout time.Duration
	notifier    tracking.Notifier

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	running   atomic.Bool
	stopOnce  sync.Once
	stopErr   error
	busy      atomic.Bool

	played  metric.Int64Counter
	dropped metric.Int64Counter
}

func NewSink(device Device, queueSize int, joinTimeout time.Duration, notifier tracking.Notifier) *Sink {
	if queueSize <= 0 {
		queueSize = 10
	}
	if notifier == nil {
		notifier = tracking.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		device:      device,
		queue:       make(chan Buffer, queueSize),
		joinTimeout: joinTimeout,
		notifier:    notifier,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	meter := otel.Meter("github.com/loqalabs/loqa-vtuber/audio")
	if c, err := meter.Int64Counter("vtuber.audio.played", metric.WithDescription("Buffers handed to the output device")); err == nil {
		s.played = c
	}
	if c, err := meter.Int64Counter("vtuber.audio.dropped", metric.WithDescription("Buffers dropped because the queue was full")); err == nil {
		s.dropped = c
	}
	return s
}

// Start launches the playback worker once.
func (s *Sink) Start() {
	s.startOnce.Do(func() {
		s.running.Store(true)
		go s.Run()
	})
}

// Run is the playback loop. It plays queued buffers in FIFO order until Stop.
// Callers normally use Start.
func (s *Sink) Run() {
	s.running.Store(true)
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case buf := <-s.queue:
			s.play(buf)
		}
	}
}

func (s *Sink) play(buf Buffer) {
	s.busy.Store(true)
	defer s.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.notifier.Error(fmt.Sprintf("Error playing audio: %v", r))
		}
	}()

	err := s.device.Play(s.ctx, buf)
	if s.played != nil {
		s.played.Add(context.Background(), 1)
	}
	if err != nil && s.ctx.Err() == nil {
		s.notifier.Error(fmt.Sprintf("Error playing audio: %v", err))
	}
}

// Enqueue hands buf to the worker without blocking. It reports false when the
// buffer was dropped.
func (s *Sink) Enqueue(buf Buffer) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.queue <- buf:
		return true
	default:
		if s.dropped != nil {
			s.dropped.Add(context.Background(), 1)
		}
		s.notifier.Error("Audio queue is full, skipping buffer")
		return false
	}
}

// Busy reports whether a buffer is currently playing.
func (s *Sink) Busy() bool { return s.busy.Load() }

// Pending is the number of queued, not yet playing, buffers.
func (s *Sink) Pending() int { return len(s.queue) }

// Stop cancels in-progress playback, discards the queue and waits up to the
// join timeout for the worker. Safe to call more than once.
func (s *Sink) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if !s.running.Load() {
			return
		}
		timer := time.NewTimer(s.joinTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.stopErr = ErrStopTimeout
		}
	})
	return s.stopErr
}
