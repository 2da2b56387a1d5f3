package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/proxy"
)

// program wires kardianos/service's lifecycle onto runCore: Start launches
// it in a goroutine and returns immediately (service managers expect Start
// to return quickly), Stop cancels its context and waits, bounded, for the
// run loop's own shutdown sequence (registrar deregistration included) to
// finish.
type program struct {
	cfg proxy.Config
	log zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := runCore(ctx, p.cfg, p.log); err != nil {
			p.log.Error().Err(err).Msg("ippproxyd service run failed")
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
	case <-time.After(30 * time.Second):
		p.log.Warn().Msg("ippproxyd service stop timed out waiting for shutdown")
	}
	return nil
}

func getServiceConfig() *service.Config {
	return &service.Config{
		Name:        "ippproxyd",
		DisplayName: "IPP Infrastructure Proxy",
		Description: "Bridges a local print device to an IPP Everywhere infrastructure printer using the IPP-INFRA extension operations.",
		Arguments:   []string{"-service", "run"},
		Option: service.KeyValue{
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillMode":          "mixed",
			"KillSignal":        "SIGTERM",
		},
	}
}

// handleServiceCommand dispatches the -service flag: install/uninstall/
// start/stop manage the OS service registration, while run (used as the
// service manager's own invocation, see Arguments above) executes runCore
// directly under service.Interface.
func handleServiceCommand(cmd string, cfg proxy.Config, log zerolog.Logger) {
	prg := &program{cfg: cfg, log: log}
	svcConfig := getServiceConfig()

	s, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize service: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "install":
		err = s.Install()
	case "uninstall":
		err = s.Uninstall()
	case "start":
		err = s.Start()
	case "stop":
		err = s.Stop()
	case "run":
		err = s.Run()
	default:
		fmt.Fprintf(os.Stderr, "error: unknown -service value %q (want install, uninstall, start, stop, run)\n", cmd)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: service %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}
