package pacing

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGateEnforcesGlobalGapAcrossQueues(t *testing.T) {
	const gap = 20 * time.Millisecond
	g := NewGate(gap, nil)

	var mu sync.Mutex
	var starts []time.Time

	record := func(ctx context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for _, queue := range []string{"chain", "breadth", "chain", "breadth", "chain"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			if err := g.Run(context.Background(), q, record); err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}(queue)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 5 {
		t.Fatalf("dispatched %d tasks, want 5", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		for j := 0; j < i; j++ {
			d := starts[i].Sub(starts[j])
			if d < 0 {
				d = -d
			}
			// Allow a small scheduling tolerance below the configured gap.
			if d < gap-2*time.Millisecond {
				t.Errorf("dispatch starts %d and %d only %v apart, want >= %v", j, i, d, gap)
			}
		}
	}
}

func TestGateSerializesQueue(t *testing.T) {
	g := NewGate(time.Millisecond, nil)

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Run(context.Background(), "chain", func(ctx context.Context) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("queue ran %d tasks concurrently, want 1", maxInFlight)
	}
}

func TestGatePerQueueSpacing(t *testing.T) {
	g := NewGate(time.Millisecond, map[string]time.Duration{"chain": 25 * time.Millisecond})

	var starts []time.Time
	for i := 0; i < 3; i++ {
		_ = g.Run(context.Background(), "chain", func(ctx context.Context) error {
			starts = append(starts, time.Now())
			return nil
		})
	}

	for i := 1; i < len(starts); i++ {
		if d := starts[i].Sub(starts[i-1]); d < 23*time.Millisecond {
			t.Errorf("chain dispatches %d and %d only %v apart, want >= 25ms", i-1, i, d)
		}
	}
}

func TestGateCancelledContext(t *testing.T) {
	g := NewGate(time.Hour, nil)

	// Consume the single burst token so the next caller must wait.
	if err := g.Run(context.Background(), "chain", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Run(ctx, "chain", func(ctx context.Context) error {
		t.Error("task dispatched despite cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("Run returned nil, want context error")
	}
}

func TestGateReturnsTaskError(t *testing.T) {
	g := NewGate(time.Millisecond, nil)

	want := context.DeadlineExceeded
	err := g.Run(context.Background(), "chain", func(ctx context.Context) error { return want })
	if err != want {
		t.Errorf("Run error = %v, want %v", err, want)
	}
}
