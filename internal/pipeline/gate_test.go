package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGateAdmitsInTicketOrderWithSpacing(t *testing.T) {
	const delay = 30 * time.Millisecond
	gate := NewGate(delay)
	tickets := make([]*Ticket, 4)
	for i := range tickets {
		tickets[i] = gate.Ticket()
	}

	var mu sync.Mutex
	var order []int
	var entries []time.Time
	var wg sync.WaitGroup
	for i := len(tickets) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := tickets[i].Enter(context.Background()); err != nil {
				t.Errorf("enter %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			entries = append(entries, time.Now())
			mu.Unlock()
			tickets[i].Leave()
		}(i)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("expected ticket order, got %v", order)
		}
	}
	for i := 1; i < len(entries); i++ {
		if gap := entries[i].Sub(entries[i-1]); gap < delay {
			t.Fatalf("entries %d and %d only %s apart", i-1, i, gap)
		}
	}
}

func TestGateFirstEntryDoesNotWait(t *testing.T) {
	gate := NewGate(time.Hour)
	ticket := gate.Ticket()
	waited, err := ticket.Enter(context.Background())
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if waited > 100*time.Millisecond {
		t.Fatalf("first holder waited %s", waited)
	}
	ticket.Leave()
	ticket.Leave()
}

func TestGateAbandonedTicketPassesTurn(t *testing.T) {
	gate := NewGate(0)
	first, second, third := gate.Ticket(), gate.Ticket(), gate.Ticket()

	if _, err := first.Enter(context.Background()); err != nil {
		t.Fatalf("enter first: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := second.Enter(ctx); err == nil {
		t.Fatal("expected cancelled enter to fail")
	}
	second.Leave()
	first.Leave()

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := third.Enter(ctx); err != nil {
		t.Fatalf("third ticket stuck behind abandoned one: %v", err)
	}
	third.Leave()
}

func TestStateNames(t *testing.T) {
	if CacheHit.String() != "cache_hit" || Failed.String() != "failed" || State(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
	if !Done.Terminal() || Playing.Terminal() {
		t.Fatal("unexpected terminal states")
	}
}
