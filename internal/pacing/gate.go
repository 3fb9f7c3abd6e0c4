package pacing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate is the shared admission-control point for every upstream call. All
// queues draw from one global minimum inter-call gap; each queue may add its
// own spacing on top. A queue dispatches at most one task at a time, in FIFO
// order; across queues the only ordering is arrival at the global gap.
//
// The gate never drops a task. Back-pressure shows up as queueing delay.
type Gate struct {
	global *rate.Limiter

	mu        sync.Mutex
	queues    map[string]*queue
	queueGaps map[string]time.Duration
}

type queue struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewGate builds a Gate enforcing globalGap between consecutive dispatch
// starts across all queues. queueGaps configures extra per-queue spacing and
// may be nil.
func NewGate(globalGap time.Duration, queueGaps map[string]time.Duration) *Gate {
	return &Gate{
		global:    rate.NewLimiter(rate.Every(globalGap), 1),
		queues:    make(map[string]*queue),
		queueGaps: queueGaps,
	}
}

func (g *Gate) queueFor(id string) *queue {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[id]
	if !ok {
		q = &queue{}
		if gap, ok := g.queueGaps[id]; ok && gap > 0 {
			q.limiter = rate.NewLimiter(rate.Every(gap), 1)
		}
		g.queues[id] = q
	}
	return q
}

// Run executes fn once the queue is free and the global gap allows a new
// dispatch. It holds the queue for the full duration of fn, so a queue never
// has more than one task in flight. Cancelling ctx while waiting returns the
// context error without consuming the gap budget that mattered to others.
func (g *Gate) Run(ctx context.Context, queueID string, fn func(context.Context) error) error {
	q := g.queueFor(queueID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := g.global.Wait(ctx); err != nil {
		return err
	}

	return fn(ctx)
}
