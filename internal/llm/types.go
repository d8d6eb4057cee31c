package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Role of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one entry of a chat-completion conversation.
type Message struct {
	Role    Role
	Content string
}

// Request describes a single chat-completion call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer is a pluggable text-generation backend. It performs exactly one
// call; retries belong to Client.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError reports a non-2xx answer from the generation service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// ErrEmptyCompletion is returned when a 2xx answer carries no text.
var ErrEmptyCompletion = errors.New("completion contained no choices")

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
