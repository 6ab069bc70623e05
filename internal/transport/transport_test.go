package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"gopap/config"
	"gopap/util"
)

// TestTCPDialer_Connect verifies that TCPDialer can reach a local
// TCP server and exchange data.
func TestTCPDialer_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// Server: accept, send greeting, close.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	ctx := context.Background()

	conn, err := d.Dial(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "hello from server\n" {
		t.Errorf("got %q, want %q", got, "hello from server\n")
	}
}

// TestTCPDialer_ContextCancel verifies that a cancelled context stops the dial.
func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// TestTCPDialer_Close verifies Close is a no-op and returns nil.
func TestTCPDialer_Close(t *testing.T) {
	d := &TCPDialer{}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestUDPDialer_Connect verifies a frame written on the dialed socket
// arrives as one datagram.
func TestUDPDialer_Connect(t *testing.T) {
	ua, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.ListenUDP("udp", ua)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	d := &UDPDialer{}
	conn, err := d.Dial(context.Background(), "udp", ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if !IsDatagram(conn) {
		t.Error("UDP conn should be reported as datagram")
	}

	if _, err = conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ln.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	buf := make([]byte, 16)
	n, _, err := ln.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("server got %q, want ping", buf[:n])
	}
}

// TestIsDatagram_TCP verifies stream conns need length framing.
func TestIsDatagram_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := (&TCPDialer{Timeout: time.Second}).Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if IsDatagram(conn) {
		t.Error("TCP conn should not be reported as datagram")
	}
}

// TestForConfig verifies the dialer choice follows network and tunnel
// settings.
func TestForConfig(t *testing.T) {
	cfg := config.New()
	if _, ok := ForConfig(cfg, util.Discard()).(*UDPDialer); !ok {
		t.Error("default config should dial UDP")
	}
	cfg.Network = "tcp"
	if _, ok := ForConfig(cfg, util.Discard()).(*TCPDialer); !ok {
		t.Error("tcp config should dial TCP")
	}
	cfg.TunnelEnabled = true
	cfg.TunnelHost = "gw"
	d := ForConfig(cfg, util.Discard())
	if _, ok := d.(*SSHDialer); !ok {
		t.Error("tunnel config should dial through SSH")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close on unconnected SSH dialer: %v", err)
	}
}
