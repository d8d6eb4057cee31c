package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/config"
	"github.com/loqalabs/loqa-vtuber/internal/sanitize"
	"github.com/loqalabs/loqa-vtuber/internal/tracking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Fallback is spoken when every attempt to reach the generation service fails.
const Fallback = "I apologize, but I'm having trouble connecting to my thoughts right now. Perhaps we could try again in a moment?"

const phaseAPI = "API"

// Client wraps a Completer with the attempt/timeout/backoff policy and
// sanitizes what comes back. It never returns an error: exhausted retries
// degrade to Fallback.
type Client struct {
	completer      Completer
	prompt         *PromptBuilder
	notifier       tracking.Notifier
	model          string
	temperature    float64
	maxTokens      int
	maxLen         int
	maxAttempts    int
	attemptTimeout time.Duration
	backoff        time.Duration

	tracer   trace.Tracer
	attempts metric.Int64Counter
}

func NewClient(completer Completer, cfg config.LLMConfig, prompt *PromptBuilder, notifier tracking.Notifier) *Client {
	if notifier == nil {
		notifier = tracking.Discard{}
	}
	c := &Client{
		completer:      completer,
		prompt:         prompt,
		notifier:       notifier,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		maxLen:         cfg.MaxResponseLength,
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout(),
		backoff:        cfg.Backoff(),
		tracer:         otel.Tracer("github.com/loqalabs/loqa-vtuber/llm"),
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.attemptTimeout <= 0 {
		c.attemptTimeout = 15 * time.Second
	}
	attempts, err := otel.Meter("github.com/loqalabs/loqa-vtuber/llm").Int64Counter(
		"vtuber.llm.attempts",
		metric.WithDescription("Generation attempts by outcome"),
	)
	if err == nil {
		c.attempts = attempts
	}
	return c
}

// Generate returns a sanitized reply for userMessage, or Fallback.
func (c *Client) Generate(ctx context.Context, userMessage string) string {
	ctx, span := c.tracer.Start(ctx, "llm.generate")
	defer span.End()

	c.notifier.Workflow(phaseAPI, "Starting API call for: "+preview(userMessage, 50)+"...")

	req := Request{
		Model:       c.model,
		Messages:    c.prompt.Messages(userMessage),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		timeout := c.attemptTimeout * time.Duration(attempt)
		c.notifier.Workflow(phaseAPI, fmt.Sprintf("Attempt %d/%d with %s timeout", attempt, c.maxAttempts, timeout))

		text, err := c.attempt(ctx, req, timeout)
		if err == nil {
			c.record(ctx, "success")
			span.SetAttributes(attribute.Int("llm.attempts", attempt))
			c.notifier.Workflow(phaseAPI, "Success: Got response from API")
			return sanitize.Clean(text, c.maxLen)
		}
		c.record(ctx, outcome(err))

		if ctx.Err() != nil {
			c.notifier.Error(fmt.Sprintf("API call abandoned on attempt %d: %v", attempt, ctx.Err()))
			span.SetStatus(codes.Error, "cancelled")
			return Fallback
		}

		msg := describe(err, attempt)
		if attempt == c.maxAttempts {
			c.notifier.Error(fmt.Sprintf("API call failed after %d attempts: %s", c.maxAttempts, msg))
			break
		}
		c.notifier.Error(msg)

		if isTimeout(err) && c.backoff > 0 {
			select {
			case <-ctx.Done():
				span.SetStatus(codes.Error, "cancelled")
				return Fallback
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
	}

	span.SetStatus(codes.Error, "attempts exhausted")
	return Fallback
}

func (c *Client) attempt(ctx context.Context, req Request, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.completer.Complete(attemptCtx, req)
}

func (c *Client) record(ctx context.Context, result string) {
	if c.attempts == nil {
		return
	}
	c.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result)))
}

func outcome(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case isTimeout(err):
		return "timeout"
	default:
		return "transport"
	}
}

func describe(err error, attempt int) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case isTimeout(err):
		return fmt.Sprintf("Timeout on attempt %d: %v", attempt, err)
	default:
		return fmt.Sprintf("Request failed on attempt %d: %v", attempt, err)
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
