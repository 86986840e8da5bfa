// Package lifecycle implements the shutdown signal channel and the
// in-memory counters the core exposes for telemetry.
// There is no SNMP surface; counters are read
// through Snapshot and exposed by the control package's HTTP surface
// instead.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"marketpsych-feed/src/fetch"
	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/publish"
)

// Counters is the in-memory metric surface: incremented
// from multiple threads, monotonic, reads racy but consistent
// enough for telemetry. The offset fields are the three clock-drift
// gauges promoted from log lines to explicit counter fields.
type Counters struct {
	CyclesRun      atomic.Int64
	CyclesDropped  atomic.Int64
	RowsMapped     atomic.Int64
	MsgsSent       atomic.Int64
	PublishErrors  atomic.Int64
	DACSFailures   atomic.Int64

	HTTPDOffsetSec atomic.Int64
	HTTPOffsetSec  atomic.Int64
	PsychOffsetSec atomic.Int64

	mu            sync.Mutex
	lastByResult  map[fetch.Result]int64
	lastCycleStat []publish.CycleStats
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{lastByResult: make(map[fetch.Result]int64)}
}

// RecordFetch folds a fetch-cycle's counters snapshot and clock
// offsets into the lifecycle-wide totals.
func (c *Counters) RecordFetch(snap map[fetch.Result]int64, httpdOffset, httpOffset int64) {
	c.mu.Lock()
	for k, v := range snap {
		c.lastByResult[k] = v
	}
	c.mu.Unlock()

	c.HTTPDOffsetSec.Store(httpdOffset)
	c.HTTPOffsetSec.Store(httpOffset)
	// psych_offset is the handler's own clock vs the upstream's
	// httpd clock; the fetcher already resolved the per-response
	// drift check, so here it collapses to the same
	// httpd offset measured at cycle granularity.
	c.PsychOffsetSec.Store(httpdOffset)
}

// RecordCycle folds one cycle's per-resource mapping stats in.
func (c *Counters) RecordCycle(stats []publish.CycleStats) {
	c.mu.Lock()
	c.lastCycleStat = stats
	c.mu.Unlock()

	for _, s := range stats {
		c.RowsMapped.Add(int64(s.RowsMapped))
		c.MsgsSent.Add(int64(s.MsgsSent))
		c.DACSFailures.Add(int64(s.DACSFailures))
	}
}

// Snapshot returns a point-in-time readout for the control surface.
type Snapshot struct {
	CyclesRun      int64
	CyclesDropped  int64
	RowsMapped     int64
	MsgsSent       int64
	PublishErrors  int64
	DACSFailures   int64
	HTTPDOffsetSec int64
	HTTPOffsetSec  int64
	PsychOffsetSec int64
	ByResult       map[fetch.Result]int64
	LastCycle      []publish.CycleStats
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	byResult := make(map[fetch.Result]int64, len(c.lastByResult))
	for k, v := range c.lastByResult {
		byResult[k] = v
	}
	lastCycle := append([]publish.CycleStats(nil), c.lastCycleStat...)
	c.mu.Unlock()

	return Snapshot{
		CyclesRun:      c.CyclesRun.Load(),
		CyclesDropped:  c.CyclesDropped.Load(),
		RowsMapped:     c.RowsMapped.Load(),
		MsgsSent:       c.MsgsSent.Load(),
		PublishErrors:  c.PublishErrors.Load(),
		DACSFailures:   c.DACSFailures.Load(),
		HTTPDOffsetSec: c.HTTPDOffsetSec.Load(),
		HTTPOffsetSec:  c.HTTPOffsetSec.Load(),
		PsychOffsetSec: c.PsychOffsetSec.Load(),
		ByResult:       byResult,
		LastCycle:      lastCycle,
	}
}

// -----------------------------------------------------------------------------

// Lifecycle owns the process-wide shutdown channel (the root context
// and its cancel). It does not sequence startup or shutdown steps
// itself; cmd/psychfeed runs them in order. Process-wide state
// that would otherwise live as package-level globals is held here
// as this struct's fields instead.
type Lifecycle struct {
	log      *logger.Logger
	Counters *Counters

	shutdownOnce sync.Once
	cancel       context.CancelFunc
}

// New creates a Lifecycle. ctx is the root context; cancel triggers
// shutdown.
func New() (*Lifecycle, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		log:      logger.New("lifecycle"),
		Counters: NewCounters(),
		cancel:   cancel,
	}, ctx
}

// WatchSignals begins shutdown when the process receives SIGINT or
// SIGTERM.
func (l *Lifecycle) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		l.log.Info("received signal %v, beginning shutdown", sig)
		l.Shutdown()
	}()
}

// Shutdown cancels the root context exactly once; safe to call more
// than once.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.cancel()
	})
}
