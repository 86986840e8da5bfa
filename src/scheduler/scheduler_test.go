package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketpsych-feed/src/lifecycle"
)

func TestNextTickAlignment(t *testing.T) {
	ref := 0 * time.Second
	interval := 5 * time.Minute

	now := time.Date(2024, 1, 2, 3, 7, 30, 0, time.UTC)
	next := NextTick(now, ref, interval)

	assert.True(t, next.After(now))
	assert.LessOrEqual(t, next.Sub(now), interval)
	assert.Equal(t, time.Duration(0), next.Sub(next.Truncate(interval)))
}

func TestNextTickNeverLandsOnNow(t *testing.T) {
	ref := 30 * time.Second
	interval := 1 * time.Minute
	now := time.Date(2024, 1, 2, 0, 1, 30, 0, time.UTC)

	next := NextTick(now, ref, interval)
	assert.True(t, next.After(now))
}

func TestTriggerDropsWhenBusy(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	counters := lifecycle.NewCounters()

	s := New(0, time.Minute, func(ctx context.Context) {
		calls.Add(1)
		<-block
	}, counters)

	go s.Trigger(context.Background())
	for !s.Busy() {
		time.Sleep(time.Millisecond)
	}

	s.Trigger(context.Background())
	close(block)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), counters.Snapshot().CyclesDropped)
}
