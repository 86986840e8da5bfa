// Command psychfeed is the process entry point: it loads config,
// wires every component in startup order, and runs
// until a shutdown signal arrives.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"marketpsych-feed/src/config"
	"marketpsych-feed/src/control"
	"marketpsych-feed/src/engine"
	"marketpsych-feed/src/fetch"
	"marketpsych-feed/src/lifecycle"
	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/parser"
	"marketpsych-feed/src/provider"
	"marketpsych-feed/src/publish"
	"marketpsych-feed/src/scheduler"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	controlAddr := flag.String("control-addr", "127.0.0.1:8080", "address for the manual-trigger/status HTTP surface")
	flag.Parse()

	lc, ctx := lifecycle.New()
	lc.WatchSignals()

	log := logger.New("main")

	// load config — the core's one external collaborator
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	ref, err := parseTimeOffset(cfg.Service.TimeOffsetConstant)
	if err != nil {
		return fmt.Errorf("invalid time_offset_constant: %w", err)
	}

	// build Provider (which builds sessions and issues login)
	prov := provider.New(cfg.Service.ServiceName, cfg.Service.VendorName, lc.Counters)
	if err := prov.Init(ctx, cfg.Sessions); err != nil {
		return fmt.Errorf("provider init failed: %w", err)
	}

	// build Connections and ItemStreams — the mapper allocates
	// ItemStreams lazily on first sight of a ric, so no explicit
	// pre-population step is required here beyond wiring the mapper.
	mapper := publish.New(prov, cfg.Service.DefaultDACSID)

	fetchCtrs := fetch.NewCounters()
	fetcher := fetch.New(fetch.Config{
		Version:          "1.0.0",
		RetryCount:       cfg.Service.RetryCount,
		RetryDelayMS:     cfg.Service.RetryDelayMS,
		RetryTimeoutMS:   cfg.Service.RetryTimeoutMS,
		TimeoutMS:        cfg.Service.TimeoutMS,
		ConnectTimeoutMS: cfg.Service.ConnectTimeoutMS,
		MaxResponseSize:  cfg.Service.MaximumResponseSize,
		MinResponseSize:  cfg.Service.MinimumResponseSize,
		PanicThreshold:   cfg.Service.PanicThreshold,
		RequestEncoding:  cfg.Service.RequestHTTPEncoding,
		HTTPProxy:        cfg.Service.HTTPProxy,
		KeepAlive:        cfg.Service.KeepAlive,
		IfModifiedSince:  cfg.Service.IfModifiedSince,
	}, fetchCtrs)

	p := parser.New("parser")

	eng := engine.New(fetcher, p, mapper, cfg.Resources, lc.Counters, fetchCtrs)

	// start scheduler
	sched := scheduler.New(ref, cfg.Service.Interval, eng.RunCycle, lc.Counters)

	ctrl := control.New(sched, lc.Counters)
	go func() {
		if err := ctrl.Run(*controlAddr); err != nil {
			log.Warning("control surface stopped: %v", err)
		}
	}()

	log.Info("started: %d resource(s), %d session(s)", len(cfg.Resources), len(cfg.Sessions))
	sched.Run(ctx)

	// shutdown order, reverse of startup
	log.Info("shutting down")
	return prov.Close()
}

func parseTimeOffset(s string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}
