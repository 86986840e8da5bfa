// Package engine wires the Scheduler → Fetcher → Parser → Publisher
// mapper → Provider.Send pipeline into one cycle
// entry point, the function the Scheduler (and the manual-trigger
// control surface) both call.
package engine

import (
	"context"
	"sync"

	"marketpsych-feed/src/fetch"
	"marketpsych-feed/src/lifecycle"
	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/models"
	"marketpsych-feed/src/parser"
	"marketpsych-feed/src/publish"
)

// Engine owns the per-resource Connection state that must persist
// across cycles: per-cycle buffers reset at the start of every tick,
// but last_filetime itself survives so conditional GETs keep working.
type Engine struct {
	log       *logger.Logger
	fetcher   *fetch.Fetcher
	parser    *parser.Parser
	mapper    *publish.Mapper
	resources []models.Resource
	counters  *lifecycle.Counters
	fetchCtrs *fetch.Counters

	mu    sync.Mutex
	conns map[string]*fetch.Connection
}

// New creates an Engine over the given resources. fetchCtrs is the
// same Counters the Fetcher was constructed with; RunCycle copies its
// cumulative snapshot into the lifecycle-wide counters after each run.
func New(fetcher *fetch.Fetcher, p *parser.Parser, mapper *publish.Mapper, resources []models.Resource, counters *lifecycle.Counters, fetchCtrs *fetch.Counters) *Engine {
	e := &Engine{
		log:       logger.New("engine"),
		fetcher:   fetcher,
		parser:    p,
		mapper:    mapper,
		resources: resources,
		counters:  counters,
		fetchCtrs: fetchCtrs,
		conns:     make(map[string]*fetch.Connection, len(resources)),
	}
	for _, r := range resources {
		e.conns[r.Name] = &fetch.Connection{Resource: r}
	}
	return e
}

// -----------------------------------------------------------------------------

// RunCycle fetches every resource concurrently, and as each response
// is accepted, parses and publishes it immediately, per resource.
// Rows have no cross-row dependency and no transactional grouping,
// and that extends naturally to no cross-resource grouping either.
func (e *Engine) RunCycle(ctx context.Context) {
	e.mu.Lock()
	conns := make([]*fetch.Connection, 0, len(e.conns))
	byName := make(map[string]models.Resource, len(e.resources))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	for _, r := range e.resources {
		byName[r.Name] = r
	}
	e.mu.Unlock()

	var statsMu sync.Mutex
	var cycleStats []publish.CycleStats

	e.fetcher.Run(ctx, conns, func(c *fetch.Connection) {
		table, err := e.parser.Parse(c.Resource.Name, c.Data)
		if err != nil {
			e.log.Error("resource %s: %v", c.Resource.Name, err)
			return
		}
		stats := e.mapper.Publish(byName[c.Resource.Name], table)

		statsMu.Lock()
		cycleStats = append(cycleStats, stats)
		statsMu.Unlock()
	})

	e.counters.RecordCycle(cycleStats)
	e.counters.RecordFetch(e.fetchCtrs.Snapshot(), e.fetchCtrs.HTTPDOffsetSec, e.fetchCtrs.HTTPOffsetSec)
	e.counters.CyclesRun.Add(1)
}
