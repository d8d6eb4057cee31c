package pipeline

import (
	"context"
	"sync"
	"time"
)

// Gate admits one holder at a time, strictly in ticket order, and keeps at
// least delay between one holder's release and the next holder's entry. The
// last release time is owned by the gate and only written by the holder.
type Gate struct {
	delay time.Duration
	clock func() time.Time

	mu          sync.Mutex
	tail        chan struct{}
	lastRelease time.Time
}

func NewGate(delay time.Duration) *Gate {
	open := make(chan struct{})
	close(open)
	return &Gate{delay: delay, clock: time.Now, tail: open}
}

// Ticket reserves the next place in line. Tickets must be issued in arrival
// order and every ticket must eventually be released with Leave.
func (g *Gate) Ticket() *Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := &Ticket{gate: g, prev: g.tail, done: make(chan struct{})}
	g.tail = t.done
	return t
}

func (g *Gate) pause() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastRelease.IsZero() {
		return 0
	}
	return g.delay - g.clock().Sub(g.lastRelease)
}

func (g *Gate) markRelease() {
	g.mu.Lock()
	g.lastRelease = g.clock()
	g.mu.Unlock()
}

// Ticket is one place in the gate queue.
type Ticket struct {
	gate    *Gate
	prev    chan struct{}
	done    chan struct{}
	entered bool
	once    sync.Once
}

// Enter waits for every earlier ticket to leave, then for the rate-limit
// pause. It returns how long the caller waited in total.
func (t *Ticket) Enter(ctx context.Context) (time.Duration, error) {
	start := t.gate.clock()
	select {
	case <-t.prev:
	case <-ctx.Done():
		return t.gate.clock().Sub(start), ctx.Err()
	}
	t.entered = true

	if pause := t.gate.pause(); pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return t.gate.clock().Sub(start), ctx.Err()
		}
	}
	return t.gate.clock().Sub(start), nil
}

// Leave releases the gate. A ticket that never entered hands its turn on
// once its predecessor leaves, without touching the release time. Safe to
// call more than once.
func (t *Ticket) Leave() {
	t.once.Do(func() {
		if t.entered {
			t.gate.markRelease()
			close(t.done)
			return
		}
		go func() {
			<-t.prev
			close(t.done)
		}()
	})
}
