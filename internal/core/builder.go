package core

import (
	"gopap/config"
	"gopap/internal/metrics"
	"gopap/internal/pap"
	"gopap/internal/retry"
	"gopap/internal/transport"
	"gopap/util"
)

// Build constructs the print job cfg describes.  cfg must already be
// resolved and validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	return &PrintMode{
		Dialer:         transport.ForConfig(cfg, logger),
		Network:        cfg.Network,
		Address:        cfg.PrinterAddr(),
		Socket:         uint8(cfg.PrinterSocket),
		Session:        sessionConfig(cfg),
		ConnectTimeout: cfg.ConnectTimeout,
		JobFile:        cfg.JobFile,
		ControlSocket:  cfg.ControlSocket,
		Backoff:        retry.ConnectBackoff(),
		Logger:         logger,
		Metrics:        metrics.New(),
	}, nil
}

func sessionConfig(cfg *config.Config) pap.Config {
	return pap.Config{
		StatusInterval: cfg.StatusInterval,
		WaitEOF:        cfg.WaitEOF,
		CloseDelay:     cfg.CloseDelay,
		MaxFragment:    cfg.MaxFragment,
		Quantum:        cfg.FlowQuantum,
		TickleInterval: cfg.TickleInterval,
		Watchdog:       cfg.WatchdogTimeout,
	}
}
