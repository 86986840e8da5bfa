// Package control exposes a manual-trigger endpoint and a counters
// read-out over HTTP, replacing an SNMP agent and an RPC control
// service with a gin-based HTTP surface instead.
package control

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"marketpsych-feed/src/lifecycle"
	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/scheduler"
)

// Server is the HTTP control surface.
type Server struct {
	log       *logger.Logger
	engine    *gin.Engine
	scheduler *scheduler.Scheduler
	counters  *lifecycle.Counters
}

// New creates a Server bound to the running scheduler (for manual
// triggers, which contend for cycle_busy identically to the
// scheduler's own ticks) and the lifecycle counters.
func New(sched *scheduler.Scheduler, counters *lifecycle.Counters) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		log:       logger.New("control"),
		engine:    gin.New(),
		scheduler: sched,
		counters:  counters,
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST("/trigger", s.handleTrigger)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/health", s.handleHealth)
}

// Run starts the HTTP listener; it returns when the listener fails or
// the process shuts down.
func (s *Server) Run(addr string) error {
	s.log.Info("control surface listening on %s", addr)
	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------

// handleTrigger calls the same cycle entry point as the scheduler and
// contends for cycle_busy identically — a cycle already in flight
// causes this trigger to be dropped, not queued.
func (s *Server) handleTrigger(c *gin.Context) {
	if s.scheduler.Busy() {
		s.counters.CyclesDropped.Add(1)
		c.JSON(409, gin.H{"status": "dropped", "reason": "cycle already in progress"})
		return
	}
	go s.scheduler.Trigger(context.Background())
	c.JSON(202, gin.H{"status": "triggered"})
}

// -----------------------------------------------------------------------------

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.counters.Snapshot()

	byResult := make(map[string]int64, len(snap.ByResult))
	for k, v := range snap.ByResult {
		byResult[fmt.Sprintf("%d", k)] = v
	}

	c.JSON(200, gin.H{
		"cycles_run":       snap.CyclesRun,
		"cycles_dropped":   snap.CyclesDropped,
		"rows_mapped":      snap.RowsMapped,
		"msgs_sent":        snap.MsgsSent,
		"publish_errors":   snap.PublishErrors,
		"dacs_failures":    snap.DACSFailures,
		"httpd_offset_sec": snap.HTTPDOffsetSec,
		"http_offset_sec":  snap.HTTPOffsetSec,
		"psych_offset_sec": snap.PsychOffsetSec,
		"by_result":        byResult,
		"last_cycle":       snap.LastCycle,
	})
}

// -----------------------------------------------------------------------------

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "cycle_busy": s.scheduler.Busy()})
}
