// Package transport opens the byte-level links that ATP frames travel
// over: a UDP socket, a TCP stream, or a TCP stream forwarded through
// an SSH gateway.  Framing is the atp package's job.
package transport

import (
	"context"
	"net"
	"time"

	"gopap/config"
	"gopap/tunnel"
	"gopap/util"
)

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// IsDatagram reports whether conn preserves message boundaries, in
// which case each ATP frame travels as its own packet.
func IsDatagram(conn net.Conn) bool {
	_, ok := conn.(net.PacketConn)
	return ok
}

// ForConfig picks the dialer cfg calls for.
func ForConfig(cfg *config.Config, logger *util.Logger) Dialer {
	if cfg.TunnelEnabled {
		return NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultDialTimeout,
			KeepAlive:     config.DefaultKeepAliveInterval * time.Second,
		}, logger)
	}
	if cfg.Network == "udp" {
		return &UDPDialer{}
	}
	return &TCPDialer{Timeout: config.DefaultDialTimeout}
}
