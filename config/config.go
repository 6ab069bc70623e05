// Package config defines the runtime configuration for gopap and provides
// helpers for parsing printer addresses and tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	paperr "gopap/internal/errors"
	"gopap/util"
)

// Config holds every tuneable for a single print job.
type Config struct {
	// ── Printer ──────────────────────────────────────────────────────
	Printer       string // raw host[:port] argument
	PrinterHost   string
	PrinterPort   int
	PrinterSocket int    // ATP socket of the printer's PAP listener
	Network       string // "udp" or "tcp"
	JobFile       string // empty or "-" → stdin

	// ── Session ──────────────────────────────────────────────────────
	ConnectTimeout  time.Duration // 0 → unlimited
	StatusInterval  time.Duration // 0 → no status polling
	WaitEOF         bool
	CloseDelay      time.Duration
	MaxFragment     int
	FlowQuantum     int
	TickleInterval  time.Duration
	WatchdogTimeout time.Duration

	// ── Side channel ─────────────────────────────────────────────────
	ControlSocket string // unix socket path; empty disables

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// New returns a Config populated with the defaults from defaults.go.
func New() *Config {
	return &Config{
		PrinterPort:     DefaultPrinterPort,
		PrinterSocket:   DefaultPrinterSocket,
		Network:         DefaultNetwork,
		ConnectTimeout:  DefaultConnectTimeout,
		StatusInterval:  DefaultStatusInterval,
		CloseDelay:      DefaultCloseDelay,
		MaxFragment:     DefaultMaxFragment,
		FlowQuantum:     DefaultFlowQuantum,
		TickleInterval:  DefaultTickleInterval,
		WatchdogTimeout: DefaultWatchdogTimeout,
		TunnelPort:      DefaultSSHPort,
		Verbose:         1,
	}
}

// PrinterAddr returns the printer's "host:port".
func (c *Config) PrinterAddr() string {
	return util.FormatAddr(c.PrinterHost, c.PrinterPort)
}

// ResolvePrinter splits c.Printer into PrinterHost / PrinterPort,
// keeping the current PrinterPort when the argument carries none.
func (c *Config) ResolvePrinter() error {
	port := c.PrinterPort
	if port == 0 {
		port = DefaultPrinterPort
	}
	host, p, err := util.ParsePrinterAddr(c.Printer, port)
	if err != nil {
		return &paperr.ConfigError{
			Field:   "printer",
			Value:   c.Printer,
			Message: err.Error(),
			Hint:    "use host or host:port, e.g. laserwriter.local:" + strconv.Itoa(DefaultPrinterPort),
		}
	}
	c.PrinterHost, c.PrinterPort = host, p
	return nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError carrying a hint.
func (c *Config) Validate() error {
	if c.PrinterHost == "" {
		return &paperr.ConfigError{
			Field:   "printer",
			Message: "printer address is required",
			Hint:    "gopap [flags] <printer>[:port] [file]",
		}
	}
	if c.PrinterPort < 1 || c.PrinterPort > 65535 {
		return &paperr.ConfigError{Field: "printer", Value: c.PrinterPort,
			Message: "port out of range 1-65535"}
	}

	if c.PrinterSocket < 1 || c.PrinterSocket > 254 {
		return &paperr.ConfigError{Field: "socket", Value: c.PrinterSocket,
			Message: "ATP socket out of range 1-254"}
	}

	switch c.Network {
	case "udp", "tcp":
	default:
		return &paperr.ConfigError{Field: "network", Value: c.Network,
			Message: "unsupported network", Hint: "use udp or tcp"}
	}

	if c.MaxFragment < 1 || c.MaxFragment > MaxFragmentLimit {
		return &paperr.ConfigError{Field: "max-fragment", Value: c.MaxFragment,
			Message: fmt.Sprintf("must be between 1 and %d", MaxFragmentLimit)}
	}
	if c.FlowQuantum < 1 || c.FlowQuantum > 8 {
		return &paperr.ConfigError{Field: "quantum", Value: c.FlowQuantum,
			Message: "must be between 1 and 8",
			Hint:    "a transaction carries at most eight response fragments"}
	}

	if c.ConnectTimeout < 0 {
		return &paperr.ConfigError{Field: "connect-timeout", Value: c.ConnectTimeout,
			Message: "must not be negative", Hint: "use 0 to wait forever"}
	}
	if c.StatusInterval < 0 {
		return &paperr.ConfigError{Field: "status-interval", Value: c.StatusInterval,
			Message: "must not be negative", Hint: "use 0 to disable status polling"}
	}
	if c.CloseDelay < 0 {
		return &paperr.ConfigError{Field: "close-delay", Value: c.CloseDelay,
			Message: "must not be negative"}
	}
	if c.TickleInterval <= 0 {
		return &paperr.ConfigError{Field: "tickle-interval", Value: c.TickleInterval,
			Message: "must be positive"}
	}
	if c.WatchdogTimeout <= c.TickleInterval {
		return &paperr.ConfigError{Field: "watchdog", Value: c.WatchdogTimeout,
			Message: "must be longer than the tickle interval",
			Hint:    fmt.Sprintf("the default is %s", DefaultWatchdogTimeout)}
	}

	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &paperr.ConfigError{Field: "tunnel", Value: c.TunnelSpec,
				Message: "tunnel host is required", Hint: "-T user@gateway[:port]"}
		}
		if c.Network == "udp" {
			return &paperr.ConfigError{Field: "network", Value: c.Network,
				Message: "UDP is not supported through SSH tunnels",
				Hint:    "add --network tcp when using -T"}
		}
	}

	return nil
}
