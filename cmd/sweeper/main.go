package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/bootstrap"
	"github.com/Awign-PM-Prod/securepath-pro-sub001/internal/observability"
)

// The sweeper owns the clocks the engine deliberately does not run: the
// acceptance-timeout sweep, the nudge sweep, and the daily capacity reset.
func main() {
	shutdownTrace, err := observability.InitTracingFromEnv("securepath-sweeper")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	engine, err := bootstrap.NewEngineFromEnv()
	if err != nil {
		log.Fatalf("bootstrap engine: %v", err)
	}

	sweepSpec := strings.TrimSpace(os.Getenv("SECUREPATH_SWEEP_SCHEDULE"))
	if sweepSpec == "" {
		sweepSpec = "@every 1m"
	}
	hour, minute := engine.Config().ResetClock()
	resetSpec := fmt.Sprintf("%d %d * * *", minute, hour)

	c := cron.New()
	if _, err := c.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if n, err := engine.SweepTimeouts(ctx); err != nil {
			log.Printf("timeout sweep: %v", err)
		} else if n > 0 {
			log.Printf("timeout sweep: %d case(s) timed out", n)
		}
		if n, err := engine.SweepNudges(ctx); err != nil {
			log.Printf("nudge sweep: %v", err)
		} else if n > 0 {
			log.Printf("nudge sweep: %d assignee(s) nudged", n)
		}
	}); err != nil {
		log.Fatalf("schedule sweep %q: %v", sweepSpec, err)
	}
	if _, err := c.AddFunc(resetSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := engine.Tracker().Reset(ctx)
		if err != nil {
			log.Printf("capacity reset: %v", err)
			return
		}
		log.Printf("capacity reset: %d candidate(s)", n)
	}); err != nil {
		log.Fatalf("schedule reset %q: %v", resetSpec, err)
	}

	c.Start()
	log.Printf("sweeper running (sweep %q, reset %q)", sweepSpec, resetSpec)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	<-c.Stop().Done()
}
