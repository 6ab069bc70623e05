package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the GOPAP_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// duration syntax ("90s", "5m") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("GOPAP_PRINTER"); v != "" {
		cfg.Printer = v
	}
	if v := envInt("GOPAP_PORT"); v > 0 {
		cfg.PrinterPort = v
	}
	if v := envInt("GOPAP_SOCKET"); v > 0 {
		cfg.PrinterSocket = v
	}
	if v := os.Getenv("GOPAP_NETWORK"); v != "" {
		cfg.Network = strings.ToLower(v)
	}
	if d, ok := envDuration("GOPAP_CONNECT_TIMEOUT"); ok {
		cfg.ConnectTimeout = d
	}
	if d, ok := envDuration("GOPAP_STATUS_INTERVAL"); ok {
		cfg.StatusInterval = d
	}
	if d, ok := envDuration("GOPAP_CLOSE_DELAY"); ok {
		cfg.CloseDelay = d
	}
	if envBool("GOPAP_WAIT_EOF") {
		cfg.WaitEOF = true
	}
	if v := envInt("GOPAP_MAX_FRAGMENT"); v > 0 {
		cfg.MaxFragment = v
	}
	if v := os.Getenv("GOPAP_CONTROL_SOCKET"); v != "" {
		cfg.ControlSocket = v
	}

	// SSH tunnel
	if v := os.Getenv("GOPAP_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("GOPAP_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("GOPAP_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("GOPAP_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("GOPAP_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("GOPAP_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("GOPAP_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

// envDuration reports ok=false for unset or unparseable values, so a
// typo never silently turns a timeout into zero.
func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return secondsDuration(n), true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
