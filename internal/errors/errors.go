// Package errors provides the error taxonomy for gopap.
//
// The sentinels mirror the failure classes of a PAP session: the open
// handshake could not reach the printer, the printer answered with
// something we cannot parse, the keepalive watchdog expired, or the
// printer closed the session underneath us.  Structured types carry the
// operation and address involved so callers can log them usefully and
// still match the sentinel with [Is].
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrHostUnreachable means the open request could not be delivered.
	ErrHostUnreachable = errors.New("host unreachable")
	// ErrProtocolMismatch means the handshake reply was malformed or
	// carried the wrong connection id.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrPeerTimeout means no session traffic arrived before the
	// keepalive watchdog expired.
	ErrPeerTimeout = errors.New("printer not responding")
	// ErrUnexpectedPeerClose means the printer closed the session
	// before the whole job was sent.
	ErrUnexpectedPeerClose = errors.New("printer closed the session unexpectedly")
	// ErrTransport is a generic send/receive failure outside the
	// handshake.
	ErrTransport = errors.New("transport error")
	// ErrFragmentTooLarge is a caller programming error: more bytes were
	// offered than one credit window can carry.
	ErrFragmentTooLarge = errors.New("data exceeds credit window")

	ErrTunnelClosed = errors.New("tunnel is closed")
	ErrNotConnected = errors.New("not connected")
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthFailed   = errors.New("authentication failed")
)

// ── Structured error types ───────────────────────────────────────────

// TransportError represents a failure in a transport operation.
type TransportError struct {
	Op        string // "open", "send", "respond", "receive", "abort"
	Addr      string // peer address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *TransportError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets every TransportError match [ErrTransport].
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a TransportError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *TransportError {
	return &TransportError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return classifyRetryable(err)
}

// IsFatal reports whether err must end the session rather than be
// logged and ridden out until the watchdog decides.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrHostUnreachable),
		errors.Is(err, ErrProtocolMismatch),
		errors.Is(err, ErrPeerTimeout),
		errors.Is(err, ErrFragmentTooLarge):
		return true
	}
	return false
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
