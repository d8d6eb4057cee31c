package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/bus"
	"github.com/loqalabs/loqa-vtuber/internal/config"
	"github.com/loqalabs/loqa-vtuber/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Recorder notes accepted messages on the session timeline.
type Recorder interface {
	Chat(author, message string)
}

// Service subscribes to the chat subject and feeds the inbox. Messages are
// handled on the subscription goroutine so arrival order is kept.
type Service struct {
	cfg      config.ChatConfig
	bus      *bus.Client
	inbox    *Inbox
	recorder Recorder
	logger   *slog.Logger
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	rejected atomic.Int64
}

func NewService(parent context.Context, cfg config.ChatConfig, busClient *bus.Client, inbox *Inbox, recorder Recorder, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		inbox:    inbox,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "chat")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	subject := s.cfg.Subject
	if subject == "" {
		subject = protocol.SubjectChatMessage
	}
	sub, err := s.bus.Conn().Subscribe(subject, s.handleMessage)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("listening for chat", slog.String("subject", subject))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

// Rejected counts messages that could not be queued.
func (s *Service) Rejected() int64 { return s.rejected.Load() }

func (s *Service) handleMessage(msg *nats.Msg) {
	var in protocol.ChatMessage
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		s.logger.Warn("failed to decode chat message", slogError(err))
		return
	}
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return
	}
	author := strings.TrimSpace(in.Author)
	if author == "" {
		author = "anonymous"
	}
	received := in.Timestamp
	if received.IsZero() {
		received = time.Now().UTC()
	}

	if s.recorder != nil {
		s.recorder.Chat(author, text)
	}

	ctx := s.ctx
	if timeout := s.cfg.PushTimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.inbox.Push(ctx, Event{Author: author, Message: text, ReceivedAt: received}); err != nil {
		s.rejected.Add(1)
		s.logger.Warn("chat message not queued", slog.String("author", author), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
