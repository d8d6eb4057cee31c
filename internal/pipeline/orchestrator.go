// Package pipeline turns queued chat events into spoken replies.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vtuber/internal/audio"
	"github.com/loqalabs/loqa-vtuber/internal/chat"
	"github.com/loqalabs/loqa-vtuber/internal/config"
	"github.com/loqalabs/loqa-vtuber/internal/llm"
	"github.com/loqalabs/loqa-vtuber/internal/subtitle"
	"github.com/loqalabs/loqa-vtuber/internal/tracking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const phasePipeline = "PIPELINE"

// Source yields inbound events; *chat.Inbox.
type Source interface {
	Events() <-chan chat.Event
}

// ResponseCache is satisfied by *cache.Cache.
type ResponseCache interface {
	Lookup(query string) (string, bool)
	Insert(query, response string)
}

// Generator is satisfied by *llm.Client. It always returns speakable text,
// falling back to llm.Fallback on failure.
type Generator interface {
	Generate(ctx context.Context, userMessage string) string
}

// Synthesizer is satisfied by *tts.Synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Buffer, bool)
}

// Player is satisfied by *audio.Sink.
type Player interface {
	Enqueue(buf audio.Buffer) bool
	Stop() error
}

type Deps struct {
	Inbox       Source
	Cache       ResponseCache
	Generator   Generator
	Synthesizer Synthesizer
	Player      Player
	Subtitles   subtitle.Writer
	Notifier    tracking.Notifier
	Logger      *slog.Logger
}

// Orchestrator runs one task per event. Tasks overlap freely except inside
// the rate-limit gate, which covers the cache lookup, generation and cache
// insert.
type Orchestrator struct {
	cfg      config.PipelineConfig
	deps     Deps
	gate     *Gate
	notifier tracking.Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup

	tracer   trace.Tracer
	events   metric.Int64Counter
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	failures metric.Int64Counter
	gateWait metric.Float64Histogram
}

func New(cfg config.PipelineConfig, deps Deps) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = tracking.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		gate:     NewGate(cfg.RateLimitDelay()),
		notifier: deps.Notifier,
		logger:   deps.Logger.With(slog.String("component", "pipeline")),
		tasks:    make(map[string]*Task),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-vtuber/pipeline"),
	}
	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-vtuber/pipeline")
	if c, err := meter.Int64Counter("vtuber.pipeline.events", metric.WithDescription("Chat events accepted by the pipeline")); err == nil {
		o.events = c
	}
	if c, err := meter.Int64Counter("vtuber.pipeline.cache_hits", metric.WithDescription("Replies served from the response cache")); err == nil {
		o.hits = c
	}
	if c, err := meter.Int64Counter("vtuber.pipeline.cache_misses", metric.WithDescription("Replies that required generation")); err == nil {
		o.misses = c
	}
	if c, err := meter.Int64Counter("vtuber.pipeline.failures", metric.WithDescription("Tasks that ended in failure")); err == nil {
		o.failures = c
	}
	if h, err := meter.Float64Histogram("vtuber.pipeline.gate_wait", metric.WithUnit("s"), metric.WithDescription("Time spent waiting for the rate-limit gate")); err == nil {
		o.gateWait = h
	}
}

// Run consumes events until ctx is cancelled. On shutdown it lets in-flight
// tasks finish for up to the drain timeout, then stops the player. Task
// failures are reported, never returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	idle := o.cfg.IdlePoll()
	if idle <= 0 {
		idle = 100 * time.Millisecond
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	o.logger.Info("pipeline started", slog.Duration("rate_limit_delay", o.cfg.RateLimitDelay()))
	for {
		select {
		case <-ctx.Done():
			o.shutdown(cancelWork)
			return nil
		case ev := <-o.deps.Inbox.Events():
			o.guard(func() { o.spawn(workCtx, ev) })
		case <-ticker.C:
			o.guard(o.reap)
		}
	}
}

// guard keeps the run loop alive across unexpected panics.
func (o *Orchestrator) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline loop panic", slog.Any("panic", r))
			o.notifier.Error(fmt.Sprintf("Error in main loop: %v", r))
		}
	}()
	fn()
}

func (o *Orchestrator) spawn(ctx context.Context, ev chat.Event) {
	task := &Task{
		ID:      uuid.NewString(),
		Event:   ev,
		Created: time.Now(),
		ticket:  o.gate.Ticket(),
		done:    make(chan struct{}),
	}
	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()
	if o.events != nil {
		o.events.Add(ctx, 1)
	}
	o.notifier.Workflow(phasePipeline, fmt.Sprintf("Task %s queued: message from %s", task.ID, ev.Author))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		reply, err := o.process(ctx, task)
		task.finish(reply, err)
		o.notifier.Workflow(phasePipeline, fmt.Sprintf("Task %s: %s", task.ID, task.State()))
	}()
}

// reap drops finished tasks and reports the failed ones.
func (o *Orchestrator) reap() {
	o.mu.Lock()
	var failed []*Task
	for id, task := range o.tasks {
		if !task.finished() {
			continue
		}
		delete(o.tasks, id)
		if task.Err() != nil {
			failed = append(failed, task)
		}
	}
	o.mu.Unlock()

	for _, task := range failed {
		if o.failures != nil {
			o.failures.Add(context.Background(), 1)
		}
		o.notifier.Error(fmt.Sprintf("Task %s failed: %v", task.ID, task.Err()))
	}
}

// InFlight is the number of tasks not yet reaped.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

func (o *Orchestrator) process(ctx context.Context, task *Task) (reply string, err error) {
	defer task.ticket.Leave()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, span := o.tracer.Start(ctx, "pipeline.task", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("chat.author", task.Event.Author),
	))
	defer span.End()

	o.transition(task, RateLimitWait)
	waited, err := task.ticket.Enter(ctx)
	if o.gateWait != nil {
		o.gateWait.Record(ctx, waited.Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("waiting for rate limit: %w", err)
	}

	o.notifier.Workflow(phasePipeline, fmt.Sprintf("Processing message from %s: %s", task.Event.Author, task.Event.Message))
	reply = o.respond(ctx, task)
	task.ticket.Leave()
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("abandoned during shutdown: %w", err)
	}

	if reply == "" {
		o.notifier.Workflow(phasePipeline, fmt.Sprintf("Task %s: received empty response", task.ID))
		return "", nil
	}

	if err := o.deps.Subtitles.Write(reply); err != nil {
		o.notifier.Error(fmt.Sprintf("Failed to write subtitle: %v", err))
	}
	o.transition(task, Subtitled)

	o.transition(task, Synthesizing)
	buf, ok := o.deps.Synthesizer.Synthesize(ctx, reply)
	if !ok {
		return reply, nil
	}

	o.transition(task, Playing)
	o.deps.Player.Enqueue(buf)
	return reply, nil
}

// respond runs inside the gate.
func (o *Orchestrator) respond(ctx context.Context, task *Task) string {
	message := task.Event.Message

	o.transition(task, CacheCheck)
	if cached, ok := o.deps.Cache.Lookup(message); ok {
		if o.hits != nil {
			o.hits.Add(ctx, 1)
		}
		o.transition(task, CacheHit)
		return cached
	}
	if o.misses != nil {
		o.misses.Add(ctx, 1)
	}
	o.transition(task, CacheMiss)

	o.transition(task, Generating)
	reply := o.deps.Generator.Generate(ctx, message)

	// Generate already cleaned the reply; this step only caches it.
	o.transition(task, Sanitizing)
	if reply != "" && reply != llm.Fallback {
		o.deps.Cache.Insert(message, reply)
	}
	return reply
}

func (o *Orchestrator) transition(task *Task, s State) {
	task.set(s)
	o.notifier.Workflow(phasePipeline, fmt.Sprintf("Task %s: %s", task.ID, s))
}

func (o *Orchestrator) shutdown(cancelWork context.CancelFunc) {
	pending := o.InFlight()
	o.notifier.Workflow(phasePipeline, fmt.Sprintf("Shutting down with %d tasks in flight", pending))

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	timeout := o.cfg.DrainTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		o.notifier.Error(fmt.Sprintf("Drain timeout after %s, cancelling %d tasks", timeout, o.InFlight()))
		cancelWork()
	}
	o.reap()

	if err := o.deps.Player.Stop(); err != nil {
		o.notifier.Error(fmt.Sprintf("Failed to stop audio: %v", err))
	}
	o.logger.Info("pipeline stopped")
}
