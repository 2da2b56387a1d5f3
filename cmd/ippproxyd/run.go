package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/capability"
	"github.com/cyra/ippproxyd/internal/poller"
	"github.com/cyra/ippproxyd/internal/proxy"
	"github.com/cyra/ippproxyd/internal/reconcile"
	"github.com/cyra/ippproxyd/internal/registrar"
	"github.com/cyra/ippproxyd/internal/worker"
)

// deregisterTimeout bounds the best-effort Cancel-Subscription/Deregister-
// Output-Device pair issued during shutdown (spec §7: deregistration must
// not hang shutdown on a dying infrastructure connection).
const deregisterTimeout = 10 * time.Second

// runCore wires C1-C7 together exactly as spec §4 sequences them: probe the
// local device, register with the infrastructure printer (exit 1 on
// failure per spec §6), push the discovered attributes, scan for jobs
// already fetchable at startup, then run the poller and worker until a
// shutdown signal arrives.
func runCore(ctx context.Context, cfg proxy.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pc := proxy.New(cfg.InfrastructureURI, cfg.DeviceURI)
	pc.PreferredOutputFormat = cfg.PreferredOutputFormat

	attrs, err := capability.Probe(ctx, cfg.DeviceURI, cfg.Password, log, pc.Done)
	if err != nil {
		log.Warn().Err(err).Msg("capability probe failed, continuing with an empty attribute set")
	}

	result, err := registrar.Register(ctx, pc, cfg.Username, cfg.Password, log)
	if err != nil {
		return fmt.Errorf("register with infrastructure printer: %w", err)
	}
	log.Info().Str("printer-uri", pc.PrinterURI()).Int32("subscription-id", result.SubscriptionID).Msg("registered with infrastructure printer")

	if err := reconcile.Push(ctx, result.Session, pc, cfg.Username, attrs, log); err != nil {
		log.Warn().Err(err).Msg("initial attribute push failed")
	}

	p := poller.New(pc, result.Session, result.SubscriptionID, cfg.Username, cfg.Password, log)
	if err := p.StartupScan(ctx); err != nil {
		log.Warn().Err(err).Msg("startup job scan failed")
	}

	w := worker.New(pc, cfg.Username, cfg.Password, log)
	w.IdleTimeout = cfg.WorkerIdleTimeout

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
	case <-ctx.Done():
	}

	pc.Shutdown()
	cancel()
	pc.Jobs.Signal()
	wg.Wait()

	deregCtx, deregCancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer deregCancel()
	registrar.Deregister(deregCtx, result.Session, pc, cfg.Username, result.SubscriptionID, log)

	log.Info().Msg("ippproxyd shut down cleanly")
	return nil
}

// runIntrospection serves the -list-jobs/-list-subscriptions supplemented
// flags: connect and register exactly as runCore does, print the requested
// snapshot, then deregister and exit without ever running the poller or
// worker loops.
func runIntrospection(ctx context.Context, cfg proxy.Config, log zerolog.Logger, listJobs, listSubscriptions bool) error {
	pc := proxy.New(cfg.InfrastructureURI, cfg.DeviceURI)
	pc.PreferredOutputFormat = cfg.PreferredOutputFormat

	result, err := registrar.Register(ctx, pc, cfg.Username, cfg.Password, log)
	if err != nil {
		return fmt.Errorf("register with infrastructure printer: %w", err)
	}
	defer registrar.Deregister(ctx, result.Session, pc, cfg.Username, result.SubscriptionID, log)

	if listSubscriptions {
		fmt.Printf("subscription-id: %d\n", result.SubscriptionID)
	}

	if listJobs {
		p := poller.New(pc, result.Session, result.SubscriptionID, cfg.Username, cfg.Password, log)
		if err := p.StartupScan(ctx); err != nil {
			return fmt.Errorf("job scan: %w", err)
		}
		snapshot := pc.Jobs.Snapshot()
		if len(snapshot) == 0 {
			fmt.Println("no fetchable jobs")
		}
		for _, rec := range snapshot {
			fmt.Printf("job %d: remote=%s local=%s\n", rec.RemoteJobID, rec.RemoteJobState, rec.LocalJobState)
		}
	}

	return nil
}
