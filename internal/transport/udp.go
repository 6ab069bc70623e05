package transport

import (
	"context"
	"fmt"
	"net"
)

// UDPDialer opens a connected UDP socket, one ATP frame per datagram.
type UDPDialer struct {
	LocalPort int // optional source-port binding (0 = ephemeral)
}

// Dial resolves address and connects a UDP socket to it.  Connecting
// makes the kernel drop datagrams from any other source.
func (d *UDPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var dialer net.Dialer
	if d.LocalPort > 0 {
		dialer.LocalAddr = &net.UDPAddr{Port: d.LocalPort}
	}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("udp dial %s: %w", address, err)
	}
	return conn, nil
}

// Close is a no-op for stateless UDP dialers.
func (d *UDPDialer) Close() error { return nil }
