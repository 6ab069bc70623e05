package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer establishes plain TCP connections to an ATP gateway.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to address over TCP.  Nagle is disabled: ATP frames
// are small and latency-sensitive.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true) //nolint:errcheck
	}
	return conn, nil
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
