package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gexflow/internal/market"
	"gexflow/internal/models"
	"gexflow/internal/upstream"
	"gexflow/logger"
)

// tickOutcome records what a single tick did; used for logging and tests.
type tickOutcome int

const (
	outcomeSkippedInFlight tickOutcome = iota
	outcomeClosed
	outcomeResolutionPending
	outcomeFetchFailed
	outcomePersisted
	outcomeDedup
	outcomePersistFailed
)

// Loop drives one feed on its own cadence. A loop never lets a failure
// escape to the process: fatal errors are logged and the next tick is
// scheduled regardless.
type Loop struct {
	feed  Feed
	clock *market.Clock
	sched Schedule
	log   *logger.Log

	mu      sync.Mutex
	state   State
	running bool

	wg sync.WaitGroup
}

// NewLoop creates a poll loop for the feed. An explicit session key (for
// example a configured expiry override) bypasses auto-resolution; leave it
// empty for the normal day-rollover resolution path.
func NewLoop(f Feed, clock *market.Clock, sched Schedule, sessionKeyOverride string) *Loop {
	l := &Loop{
		feed:  f,
		clock: clock,
		sched: sched,
		log:   logger.GetLogger(),
		state: State{FeedID: f.ID()},
	}
	if sessionKeyOverride != "" {
		l.state.SessionKey = sessionKeyOverride
		// A far-future marker keeps the rollover check from re-resolving an
		// explicitly pinned key.
		l.state.LastResolvedDay = "9999-12-31"
	}
	return l
}

// Start launches the polling goroutine. It is an error to start a running
// loop twice.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("%s loop already running", l.feed.ID())
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)

	l.log.WithComponent(l.feed.ID()).WithFields(logger.Fields{
		"base_interval": l.sched.BaseInterval.String(),
		"session_gated": l.sched.GateBySession,
	}).Info("poll loop started")
	return nil
}

// Stop waits for the in-flight tick to finish. Cancelling the Start context
// prevents new ticks; Stop blocks until the current one completes so a write
// is never interrupted mid-flight.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	l.log.WithComponent(l.feed.ID()).Info("poll loop stopped")
}

// State returns a copy of the feed's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	// ctx only schedules ticks. The tick body runs detached from it so a
	// shutdown signal never aborts an in-flight fetch or write; Stop waits
	// for the tick to finish instead.
	tickCtx := context.WithoutCancel(ctx)

	for {
		delay, _ := l.runTick(tickCtx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runTick executes one tick under the in-flight guard and returns the delay
// before the next one.
func (l *Loop) runTick(ctx context.Context) (time.Duration, tickOutcome) {
	l.mu.Lock()
	if l.state.InFlight {
		l.mu.Unlock()
		return l.sched.MinInterval, outcomeSkippedInFlight
	}
	l.state.InFlight = true
	st := l.state
	l.mu.Unlock()

	next, outcome := l.tick(ctx, &st)

	l.mu.Lock()
	st.InFlight = false
	l.state = st
	l.mu.Unlock()

	return next, outcome
}

// tick is the per-tick algorithm. It mutates the passed state copy; the
// caller swaps it back in once the tick completes.
func (l *Loop) tick(ctx context.Context, st *State) (time.Duration, tickOutcome) {
	log := l.log.WithComponent(st.FeedID)
	now := l.clock.Now()

	if l.sched.GateBySession && !l.clock.IsOpen(now) {
		return l.sched.ClosedSleep, outcomeClosed
	}

	if l.feed.SessionScoped() {
		if day := l.clock.TradingDay(now); day != st.LastResolvedDay {
			key, err := l.feed.ResolveSessionKey(ctx)
			if err != nil {
				log.WithError(err).Warn("session key resolution failed; keeping previous key")
			} else if key != st.SessionKey {
				log.WithFields(logger.Fields{
					"previous": st.SessionKey,
					"resolved": key,
					"day":      day,
				}).Info("session key rolled over")
				st.SessionKey = key
			}
			// Advanced regardless of the outcome so a flaky resolution call
			// cannot turn into a tight re-resolution loop.
			st.LastResolvedDay = day
		}

		if st.SessionKey == "" {
			// Nothing can be fetched until the first resolution succeeds;
			// retry with growing backoff since this blocks every tick.
			st.BackoffSteps = l.sched.incrementBackoff(st.BackoffSteps)
			st.LastResolvedDay = ""
			return l.nextDelay(st.BackoffSteps), outcomeResolutionPending
		}
	}

	payload, err := l.feed.Fetch(ctx, st.SessionKey)
	if err != nil {
		if upstream.IsAuthFailure(err) {
			log.WithError(err).Error("upstream authentication failed; check credentials")
		} else if upstream.IsRetryable(err) {
			st.BackoffSteps = l.sched.incrementBackoff(st.BackoffSteps)
			log.WithFields(logger.Fields{"backoff_steps": st.BackoffSteps}).WithError(err).Warn("upstream fetch failed; backing off")
		} else {
			log.WithError(err).Error("upstream fetch failed")
		}
		return l.nextDelay(st.BackoffSteps), outcomeFetchFailed
	}

	rec := l.buildRecord(now, st.SessionKey, payload)
	saved, err := l.feed.Persist(ctx, rec)
	if err != nil {
		log.WithError(err).Error("failed to persist snapshot")
		return l.nextDelay(st.BackoffSteps), outcomePersistFailed
	}

	st.BackoffSteps = decayBackoff(st.BackoffSteps)
	if saved {
		log.WithFields(logger.Fields{
			"trading_day":   rec.TradingDay,
			"minute_bucket": rec.MinuteBucket,
		}).Debug("snapshot persisted")
		return l.nextDelay(st.BackoffSteps), outcomePersisted
	}
	log.WithFields(logger.Fields{"dedup_key": rec.DedupKey()}).Debug("snapshot already persisted for bucket")
	return l.nextDelay(st.BackoffSteps), outcomeDedup
}

// TriggerNow runs exactly one fetch-and-persist cycle immediately, bypassing
// cadence and backoff state. Failures surface synchronously to the caller
// instead of being swallowed like loop-tick failures.
func (l *Loop) TriggerNow(ctx context.Context) (models.SnapshotRecord, bool, error) {
	l.mu.Lock()
	if l.state.InFlight {
		l.mu.Unlock()
		return models.SnapshotRecord{}, false, fmt.Errorf("%s: tick already in flight", l.feed.ID())
	}
	l.state.InFlight = true
	sessionKey := l.state.SessionKey
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.state.InFlight = false
		l.mu.Unlock()
	}()

	if l.feed.SessionScoped() && sessionKey == "" {
		key, err := l.feed.ResolveSessionKey(ctx)
		if err != nil {
			return models.SnapshotRecord{}, false, fmt.Errorf("resolve session key: %w", err)
		}
		sessionKey = key
		l.mu.Lock()
		l.state.SessionKey = key
		l.state.LastResolvedDay = l.clock.TradingDay(l.clock.Now())
		l.mu.Unlock()
	}

	payload, err := l.feed.Fetch(ctx, sessionKey)
	if err != nil {
		return models.SnapshotRecord{}, false, err
	}

	rec := l.buildRecord(l.clock.Now(), sessionKey, payload)
	saved, err := l.feed.Persist(ctx, rec)
	if err != nil {
		return models.SnapshotRecord{}, false, err
	}
	return rec, saved, nil
}

func (l *Loop) buildRecord(now time.Time, sessionKey string, payload json.RawMessage) models.SnapshotRecord {
	utc := now.UTC()
	return models.SnapshotRecord{
		FeedID:        l.feed.ID(),
		SessionKey:    sessionKey,
		TradingDay:    l.clock.TradingDay(now),
		MinuteBucket:  market.MinuteBucket(utc.UnixMilli()),
		SubBucket:     l.feed.SubBucket(now),
		Payload:       payload,
		CapturedUTC:   utc,
		CapturedLocal: now.In(l.clock.Location()),
	}
}

// nextDelay applies the open-market interval formula plus cadence jitter.
// With minute alignment on and no backoff pressure, the tick snaps to the
// next minute boundary instead so each record lands in a fresh bucket.
func (l *Loop) nextDelay(steps int) time.Duration {
	var d time.Duration
	if l.sched.AlignMinute && steps == 0 {
		d = time.Duration(l.clock.MsUntilNextMinute(l.clock.Now())) * time.Millisecond
	} else {
		d = l.sched.openDelay(steps)
	}
	if l.sched.JitterCeiling > 0 {
		d += time.Duration(rand.Int63n(int64(l.sched.JitterCeiling)))
	}
	return d
}
