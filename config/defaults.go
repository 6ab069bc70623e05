package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultPrinterPort is the port the ATP gateway listens on when
	// the printer argument has none.
	DefaultPrinterPort = 5387

	// DefaultPrinterSocket is the ATP socket a PAP server listens on
	// when nothing else is configured.
	DefaultPrinterSocket = 8

	// DefaultNetwork carries ATP frames one per datagram.
	DefaultNetwork = "udp"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnectTimeout bounds the whole open-retry loop.
	DefaultConnectTimeout = 7 * 24 * time.Hour

	// DefaultStatusInterval is the gap between SendStatus polls.
	DefaultStatusInterval = 5 * time.Second

	// DefaultCloseDelay is how long Close waits before sending
	// CloseConn, so the last data fragment's release can land first.
	DefaultCloseDelay = 2 * time.Second

	// DefaultMaxFragment is the largest single ATP response fragment.
	DefaultMaxFragment = 512

	// MaxFragmentLimit is the hard ceiling for --max-fragment.
	MaxFragmentLimit = 578

	// DefaultFlowQuantum is the number of fragments we grant the
	// printer per SendData.
	DefaultFlowQuantum = 8

	// DefaultTickleInterval is the retry interval of the keepalive.
	DefaultTickleInterval = 10 * time.Second

	// DefaultWatchdogTimeout tears the session down when the printer
	// has been silent this long.
	DefaultWatchdogTimeout = 120 * time.Second

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultDialTimeout is the TCP/SSH connection timeout.
	DefaultDialTimeout = 30 * time.Second
)
