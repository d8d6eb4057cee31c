package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vtuber/internal/audio"
	"github.com/loqalabs/loqa-vtuber/internal/bus"
	"github.com/loqalabs/loqa-vtuber/internal/cache"
	"github.com/loqalabs/loqa-vtuber/internal/chat"
	"github.com/loqalabs/loqa-vtuber/internal/config"
	"github.com/loqalabs/loqa-vtuber/internal/eventstore"
	"github.com/loqalabs/loqa-vtuber/internal/llm"
	"github.com/loqalabs/loqa-vtuber/internal/natsserver"
	"github.com/loqalabs/loqa-vtuber/internal/pipeline"
	"github.com/loqalabs/loqa-vtuber/internal/subtitle"
	"github.com/loqalabs/loqa-vtuber/internal/tracking"
	"github.com/loqalabs/loqa-vtuber/internal/tts"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	sessionID   string
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	store       *eventstore.Store
	tracker     *tracking.Tracker
	stopTracker context.CancelFunc
	trackerWG   sync.WaitGroup
	inbox       *chat.Inbox
	chat        *chat.Service
	device      audio.Device
	sink        *audio.Sink
	pipeline    *pipeline.Orchestrator
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// SessionID identifies this run in the event store.
func (r *Runtime) SessionID() string { return r.sessionID }

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		r.closeTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		_ = r.pipeline.Run(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("session_id", r.sessionID))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	// Intake first so nothing new reaches the pipeline while it drains.
	if r.chat != nil {
		r.chat.Close()
	}
	r.inbox.Close()
	<-pipelineDone

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.stopComponents()
	r.closeTelemetry()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	r.sessionID = uuid.NewString()
	if err := store.AppendSession(ctx, r.sessionID, r.cfg.RuntimeName); err != nil {
		return fmt.Errorf("record session: %w", err)
	}

	if r.cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			return err
		}
	}

	var publisher tracking.Publisher
	if r.bus != nil {
		publisher = r.bus
	}
	r.tracker = tracking.New(r.sessionID, store, publisher, 256, r.logger)
	// The tracker outlives ctx so shutdown reports still reach the store.
	trackerCtx, stopTracker := context.WithCancel(context.WithoutCancel(ctx))
	r.stopTracker = stopTracker
	r.trackerWG.Add(1)
	go func() {
		defer r.trackerWG.Done()
		r.tracker.Run(trackerCtx)
	}()

	r.inbox = chat.NewInbox(r.cfg.Chat.QueueSize)
	if r.bus != nil {
		r.chat = chat.NewService(ctx, r.cfg.Chat, r.bus, r.inbox, r.tracker, r.logger)
		if err := r.chat.Start(); err != nil {
			return fmt.Errorf("start chat intake: %w", err)
		}
	}

	completer, err := newCompleter(r.cfg.LLM)
	if err != nil {
		return err
	}
	generator := llm.NewClient(completer, r.cfg.LLM, llm.NewPromptBuilder(r.cfg.Character), r.tracker)

	engine, err := newEngine(r.cfg.TTS)
	if err != nil {
		return err
	}
	synth := tts.NewSynthesizer(engine, r.cfg.TTS, r.tracker)

	device, err := newDevice(r.cfg.Audio)
	if err != nil {
		return err
	}
	r.device = device
	r.sink = audio.NewSink(device, r.cfg.Audio.QueueSize, r.cfg.Audio.JoinTimeout(), r.tracker)
	r.sink.Start()

	subtitles, err := r.newSubtitles()
	if err != nil {
		return err
	}

	r.pipeline = pipeline.New(r.cfg.Pipeline, pipeline.Deps{
		Inbox:       r.inbox,
		Cache:       cache.New(r.cfg.Cache.Size, r.cfg.Cache.SimilarityThreshold),
		Generator:   generator,
		Synthesizer: synth,
		Player:      r.sink,
		Subtitles:   subtitles,
		Notifier:    r.tracker,
		Logger:      r.logger,
	})

	r.logger.Info("pipeline wired",
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode),
		slog.String("audio_device", r.cfg.Audio.Device),
		slog.Bool("bus", r.bus != nil),
	)
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.nats = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) newSubtitles() (subtitle.Writer, error) {
	file, err := subtitle.NewFile(r.cfg.Subtitle.Path)
	if err != nil {
		return nil, fmt.Errorf("open subtitle file: %w", err)
	}
	if r.bus == nil {
		return file, nil
	}
	return subtitle.Tee{file, subtitle.NewBus(r.bus, r.cfg.Subtitle.Subject)}, nil
}

// stopComponents tears down in reverse start order. Each step tolerates a
// component that was never started.
func (r *Runtime) stopComponents() {
	if r.chat != nil {
		r.chat.Close()
	}
	if r.sink != nil {
		if err := r.sink.Stop(); err != nil {
			r.logger.Warn("audio sink stop", slog.String("error", err.Error()))
		}
	}
	if r.device != nil {
		if err := r.device.Close(); err != nil {
			r.logger.Warn("audio device close", slog.String("error", err.Error()))
		}
	}
	if r.stopTracker != nil {
		r.stopTracker()
		r.trackerWG.Wait()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) healthy() bool {
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	if r.chat != nil && !r.chat.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
