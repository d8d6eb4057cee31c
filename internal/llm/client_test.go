package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/config"
)

type recordingNotifier struct {
	mu       sync.Mutex
	workflow []string
	errors   []string
}

func (r *recordingNotifier) Workflow(phase, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflow = append(r.workflow, phase+": "+details)
}

func (r *recordingNotifier) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recordingNotifier) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

type completerFunc func(ctx context.Context, req Request) (string, error)

func (f completerFunc) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		Model:             "deepseek-chat",
		Temperature:       0.7,
		MaxTokens:         100,
		MaxResponseLength: 200,
		MaxAttempts:       3,
		AttemptTimeoutMS:  10,
		BackoffMS:         1,
	}
}

func testPrompt() *PromptBuilder {
	return NewPromptBuilder(config.Default().Character)
}

func TestGenerateFallsBackAfterThreeTimeouts(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var budgets []time.Duration
	completer := completerFunc(func(ctx context.Context, _ Request) (string, error) {
		calls.Add(1)
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Error("attempt context has no deadline")
		}
		mu.Lock()
		budgets = append(budgets, time.Until(deadline))
		mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	})
	notifier := &recordingNotifier{}
	client := NewClient(completer, testConfig(), testPrompt(), notifier)

	got := client.Generate(context.Background(), "hello")
	if got != Fallback {
		t.Fatalf("expected fallback, got %q", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if notifier.errorCount() != 3 {
		t.Fatalf("expected exactly 3 error notifications, got %d: %v", notifier.errorCount(), notifier.errors)
	}
	mu.Lock()
	defer mu.Unlock()
	if budgets[1] <= budgets[0] || budgets[2] <= budgets[1] {
		t.Fatalf("expected escalating attempt timeouts, got %v", budgets)
	}
}

func TestGenerateBacksOffLinearlyOnTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AttemptTimeoutMS = 5
	cfg.BackoffMS = 20
	completer := completerFunc(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	client := NewClient(completer, cfg, testPrompt(), &recordingNotifier{})

	start := time.Now()
	client.Generate(context.Background(), "hello")
	// attempts 5+10+15ms, sleeps 20+40ms
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected linear backoff between timed-out attempts, took %s", elapsed)
	}
}

func TestGenerateRecoversAfterServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "deepseek-chat" || body.MaxTokens != 100 || len(body.Messages) != 2 {
			t.Errorf("unexpected request body: %+v", body)
		}

		if calls.Add(1) == 1 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Nova: *smiles* Welcome back, friend!"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AttemptTimeoutMS = 2000
	notifier := &recordingNotifier{}
	client := NewClient(NewOpenAICompleter(srv.URL+"/v1", "sk-test", srv.Client()), cfg, testPrompt(), notifier)

	got := client.Generate(context.Background(), "hi nova")
	if got != "Welcome back, friend!" {
		t.Fatalf("expected sanitized second response, got %q", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if notifier.errorCount() != 1 {
		t.Fatalf("expected one error notification for the 500, got %v", notifier.errors)
	}
}

func TestGenerateNonSuccessStatusIsTerminalOnLastAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AttemptTimeoutMS = 2000
	notifier := &recordingNotifier{}
	client := NewClient(NewOpenAICompleter(srv.URL+"/v1", "sk-test", srv.Client()), cfg, testPrompt(), notifier)

	if got := client.Generate(context.Background(), "hi"); got != Fallback {
		t.Fatalf("expected fallback, got %q", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if notifier.errorCount() != 3 {
		t.Fatalf("expected 3 error notifications, got %v", notifier.errors)
	}
}

func TestGenerateRetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	completer := completerFunc(func(ctx context.Context, _ Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset by peer")
		}
		return "Third time lucky.", nil
	})
	notifier := &recordingNotifier{}
	client := NewClient(completer, testConfig(), testPrompt(), notifier)

	if got := client.Generate(context.Background(), "hi"); got != "Third time lucky." {
		t.Fatalf("unexpected reply %q", got)
	}
	if notifier.errorCount() != 2 {
		t.Fatalf("expected 2 error notifications, got %v", notifier.errors)
	}
}

func TestGenerateSanitizesAndCaps(t *testing.T) {
	completer := completerFunc(func(context.Context, Request) (string, error) {
		return "Nova: *giggles* I'm *so* happy to see you! Extra sentence overflow here.", nil
	})
	cfg := testConfig()
	cfg.MaxResponseLength = 40
	client := NewClient(completer, cfg, testPrompt(), nil)

	if got := client.Generate(context.Background(), "hi"); got != "I'm happy to see you!" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestGenerateStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	completer := completerFunc(func(ctx context.Context, _ Request) (string, error) {
		calls.Add(1)
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	client := NewClient(completer, testConfig(), testPrompt(), &recordingNotifier{})

	if got := client.Generate(ctx, "hi"); got != Fallback {
		t.Fatalf("expected fallback, got %q", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", calls.Load())
	}
}

func TestExecCompleter(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	completer, err := NewExecCompleter(`sh -c 'cat >/dev/null; echo "{\"content\":\"from exec\"}"'`)
	if err != nil {
		t.Fatalf("new exec completer: %v", err)
	}
	got, err := completer.Complete(context.Background(), Request{Messages: testPrompt().Messages("hi")})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "from exec" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestExecCompleterRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecCompleter("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}
