package errors

import (
	"fmt"
	"io"
	"net"
	"testing"
)

func TestTransportError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  TransportError
		want string
	}{
		{
			name: "retryable",
			err:  TransportError{Op: "send", Addr: "printer#128", Err: io.EOF, Retryable: true},
			want: "send printer#128: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  TransportError{Op: "open", Addr: "10.0.0.9:5387", Err: fmt.Errorf("bind failed")},
			want: "open 10.0.0.9:5387: bind failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	err := &TransportError{Op: "send", Addr: "x", Err: io.EOF}
	if !Is(err, io.EOF) {
		t.Error("should unwrap to io.EOF")
	}
	if !Is(err, ErrTransport) {
		t.Error("should match ErrTransport")
	}
	if Is(err, ErrPeerTimeout) {
		t.Error("should not match ErrPeerTimeout")
	}
}

func TestTransportError_WrappedMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("status poll: %w", Wrap("send", "x", io.ErrClosedPipe))
	if !Is(err, ErrTransport) {
		t.Error("wrapped TransportError should match ErrTransport")
	}
}

func TestSSHError_Format(t *testing.T) {
	err := WrapSSH("handshake", "bastion.example.com", 22, fmt.Errorf("connection refused"))
	want := "ssh handshake bastion.example.com:22: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSSHError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("auth fail")
	err := WrapSSH("auth", "host", 22, inner)
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "max-fragment",
				Value:   0,
				Message: "must be positive",
				Hint:    "most printers accept 512-byte fragments",
			},
			want: "config: --max-fragment=0: must be positive\n  hint: most printers accept 512-byte fragments",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "printer",
				Message: "required",
			},
			want: "config: --printer: required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := Wrap("open", "10.0.0.1:5387", inner)

	if err.Op != "open" || err.Addr != "10.0.0.1:5387" {
		t.Errorf("wrong fields: Op=%q Addr=%q", err.Op, err.Addr)
	}
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable transport", &TransportError{Op: "send", Addr: "x", Err: io.EOF, Retryable: true}, true},
		{"non-retryable transport", &TransportError{Op: "send", Addr: "x", Err: io.EOF}, false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"peer timeout", fmt.Errorf("session: %w", ErrPeerTimeout), true},
		{"host unreachable", ErrHostUnreachable, true},
		{"mismatch", ErrProtocolMismatch, true},
		{"too large", ErrFragmentTooLarge, true},
		{"transport", Wrap("send", "x", io.EOF), false},
		{"peer close", ErrUnexpectedPeerClose, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyRetryable_NetOpError(t *testing.T) {
	opErr := &net.OpError{
		Op:  "dial",
		Net: "udp",
		Err: &net.DNSError{IsTemporary: true},
	}
	if !classifyRetryable(opErr) {
		t.Error("temporary OpError should be retryable")
	}
}

func TestSentinels(t *testing.T) {
	sentinels := []error{
		ErrHostUnreachable, ErrProtocolMismatch, ErrPeerTimeout,
		ErrUnexpectedPeerClose, ErrTransport, ErrFragmentTooLarge,
		ErrTunnelClosed, ErrNotConnected, ErrCircuitOpen,
		ErrTimeout, ErrAuthFailed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
