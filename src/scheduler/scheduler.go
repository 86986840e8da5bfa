// Package scheduler computes wall-clock-aligned tick boundaries and
// drives one cycle per tick. A single non-blocking
// exclusion flag enforces "at most one cycle in flight" across the
// scheduler's own ticks and any manual trigger that calls Trigger
// directly.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"marketpsych-feed/src/lifecycle"
	"marketpsych-feed/src/logger"
)

// -----------------------------------------------------------------------------

// NextTick computes the next aligned tick strictly after now, given a
// reference time-of-day ref (parsed from time_offset_constant) and an
// interval.
func NextTick(now time.Time, ref time.Duration, interval time.Duration) time.Time {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	anchor := dayStart.Add(ref)

	// Step 3: while ref+interval is still later than now's time-of-day,
	// walk the anchor back a day so offset below is non-negative.
	for anchor.Add(interval).After(now) {
		anchor = anchor.AddDate(0, 0, -1)
	}

	offset := now.Sub(anchor)
	ticks := int64(offset / interval)
	end := anchor.Add(time.Duration(ticks) * interval)
	next := end.Add(interval)

	// end is never after now, so next is already strictly after now
	// (an exact boundary instant gives end == now, next == now+interval);
	// this loop only guards that invariant.
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// -----------------------------------------------------------------------------

// Scheduler sleeps until each aligned tick and runs one cycle per
// tick on its own goroutine, never overlapping cycles (the cycle_busy
// exclusion flag enforces at most one cycle in flight).
type Scheduler struct {
	log      *logger.Logger
	ref      time.Duration
	interval time.Duration
	counters *lifecycle.Counters

	busy atomic.Bool
	run  func(ctx context.Context)
}

// New creates a Scheduler. ref is the parsed time_offset_constant,
// interval is the configured cadence, and run is the cycle entry
// point (fetch → parse → publish). counters may be nil, in which case
// dropped cycles are logged but not tallied.
func New(ref time.Duration, interval time.Duration, run func(ctx context.Context), counters *lifecycle.Counters) *Scheduler {
	return &Scheduler{
		log:      logger.New("scheduler"),
		ref:      ref,
		interval: interval,
		counters: counters,
		run:      run,
	}
}

// -----------------------------------------------------------------------------

// Run sleeps until each aligned tick and fires one cycle per tick
// until ctx is cancelled. No missed ticks are coalesced: if a cycle
// overruns into the next tick's boundary, the scheduler still
// advances by exactly one interval and logs the drift.
func (s *Scheduler) Run(ctx context.Context) {
	next := NextTick(time.Now(), s.ref, s.interval)

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if drift := time.Since(next); drift > s.interval {
			s.log.Warning("tick drift %s exceeds one interval (%s); not coalescing missed ticks", drift, s.interval)
		}

		s.Trigger(ctx)
		next = next.Add(s.interval)
	}
}

// -----------------------------------------------------------------------------

// Trigger attempts to run one cycle immediately. If a cycle is
// already in progress it drops this trigger and logs a warning; it
// never queues. Used both by the scheduler's own tick loop and by the
// manual-trigger control surface.
func (s *Scheduler) Trigger(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Warning("cycle already in progress, dropping this tick")
		if s.counters != nil {
			s.counters.CyclesDropped.Add(1)
		}
		return
	}
	defer s.busy.Store(false)

	s.run(ctx)
}

// Busy reports whether a cycle is currently in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}
