package pipeline

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/chat"
)

// State is the progress of one chat event through the pipeline.
type State int

const (
	Queued State = iota
	RateLimitWait
	CacheCheck
	CacheHit
	CacheMiss
	Generating
	// Sanitizing covers storing the already-cleaned reply in the cache;
	// the Generator returns text that has been through sanitize.Clean.
	Sanitizing
	Subtitled
	Synthesizing
	Playing
	Done
	Failed
)

var stateNames = [...]string{
	Queued:        "queued",
	RateLimitWait: "rate_limit_wait",
	CacheCheck:    "cache_check",
	CacheHit:      "cache_hit",
	CacheMiss:     "cache_miss",
	Generating:    "generating",
	Sanitizing:    "sanitizing",
	Subtitled:     "subtitled",
	Synthesizing:  "synthesizing",
	Playing:       "playing",
	Done:          "done",
	Failed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool { return s == Done || s == Failed }

// Task tracks one event. Its state is written by the task goroutine and read
// by the run loop.
type Task struct {
	ID      string
	Event   chat.Event
	Created time.Time

	ticket *Ticket
	done   chan struct{}

	mu    sync.Mutex
	state State
	reply string
	err   error
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reply is the text spoken for this task, if any.
func (t *Task) Reply() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reply
}

// Err is set once the task has failed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) set(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) finish(reply string, err error) {
	t.mu.Lock()
	t.reply = reply
	t.err = err
	if err != nil {
		t.state = Failed
	} else {
		t.state = Done
	}
	t.mu.Unlock()
	close(t.done)
}

func (t *Task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
