// Package cmd wires up the CLI flags and dispatches to the core.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"gopap/config"
	"gopap/internal/core"
	"gopap/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X gopap/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and sends the print job they describe.
func Execute(ctx context.Context, args []string) error {
	cfg, done, err := parse(args)
	if err != nil || done {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	if cfg.DryRun {
		logger.Info("configuration ok: printer %s socket %d over %s", cfg.PrinterAddr(), cfg.PrinterSocket, cfg.Network)
		return nil
	}

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// parse builds a validated Config from defaults, GOPAP_* variables and
// args, in increasing precedence.  done is set when the invocation was
// fully handled (help or version).
func parse(args []string) (cfg *config.Config, done bool, err error) {
	cfg = config.New()
	config.LoadFromEnv(cfg)
	fs := flag.NewFlagSet("gopap", flag.ContinueOnError)

	// ── printer ──────────────────────────────────────────────────
	fs.IntVarP(&cfg.PrinterPort, "port", "p", cfg.PrinterPort, "Printer gateway port")
	fs.IntVar(&cfg.PrinterSocket, "socket", cfg.PrinterSocket, "ATP socket of the printer's PAP listener")
	fs.StringVarP(&cfg.Network, "network", "N", cfg.Network, "Link to the gateway: udp or tcp")

	// ── session ──────────────────────────────────────────────────
	fs.DurationVarP(&cfg.ConnectTimeout, "connect-timeout", "t", cfg.ConnectTimeout, "Give up waiting for the printer after this long (0 = never)")
	fs.DurationVarP(&cfg.StatusInterval, "status-interval", "s", cfg.StatusInterval, "Printer status poll interval (0 = off)")
	fs.BoolVarP(&cfg.WaitEOF, "wait-eof", "e", cfg.WaitEOF, "Wait for the printer's own end of job")
	fs.DurationVar(&cfg.CloseDelay, "close-delay", cfg.CloseDelay, "Pause before closing the session")
	fs.IntVar(&cfg.MaxFragment, "max-fragment", cfg.MaxFragment, "Largest data fragment in bytes")
	fs.IntVar(&cfg.FlowQuantum, "quantum", cfg.FlowQuantum, "Fragments the printer may send per request")
	fs.DurationVar(&cfg.TickleInterval, "tickle-interval", cfg.TickleInterval, "Keepalive interval")
	fs.DurationVar(&cfg.WatchdogTimeout, "watchdog", cfg.WatchdogTimeout, "Close when the printer is silent this long")
	fs.StringVarP(&cfg.ControlSocket, "control-socket", "c", cfg.ControlSocket, "Unix socket for side-channel queries")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	// CountVarP zeroes its target, so -v counts up from the base level.
	baseVerbose := cfg.Verbose
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	var quiet bool
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only report errors")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	if showHelp || (len(args) == 0 && cfg.Printer == "") {
		printUsage(fs)
		return nil, true, nil
	}
	if showVersion {
		fmt.Printf("gopap %s\n", version)
		return nil, true, nil
	}
	cfg.Verbose += baseVerbose
	if quiet {
		cfg.Verbose = 0
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, false, err
	}
	if err := cfg.ResolvePrinter(); err != nil {
		return nil, false, err
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
		if err != nil {
			return nil, false, fmt.Errorf("tunnel: %w", err)
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional reads "<printer>[:port] [file]".  The printer may
// instead come from GOPAP_PRINTER.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		if cfg.Printer == "" {
			return fmt.Errorf("printer required (use --help for usage)")
		}
	case 1:
		cfg.Printer = remaining[0]
	case 2:
		cfg.Printer = remaining[0]
		cfg.JobFile = remaining[1]
	default:
		return fmt.Errorf("too many arguments: want <printer>[:port] [file]")
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `gopap – PAP print job delivery v%s

Sends a print job to a PAP printer through an ATP gateway, reporting
printer status while it waits and prints.

Usage:
  gopap [options] <printer>[:port] [file]    Print file (stdin if omitted)
  gopap -T user@gateway -N tcp <printer>     Print through an SSH gateway

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  gopap laserwriter.local job.ps              Print a file
  cat job.ps | gopap -v 10.0.0.7              Print stdin, verbose
  gopap -e -s 0 laserwriter.local job.ps      Wait for the printer's EOF, no polling
  gopap -T admin@bastion -N tcp lw job.ps     Through an SSH gateway
`)
}
