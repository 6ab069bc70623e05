package util

import (
	"fmt"
	"net"
	"strconv"
)

// ParsePrinterAddr splits "host[:port]" and fills in defaultPort when
// the port is omitted.  Bracketed IPv6 literals are accepted.
func ParsePrinterAddr(spec string, defaultPort int) (host string, port int, err error) {
	if spec == "" {
		return "", 0, fmt.Errorf("printer address is empty")
	}
	h, p, splitErr := net.SplitHostPort(spec)
	if splitErr != nil {
		// No port: the whole spec is the host (strip IPv6 brackets).
		if len(spec) > 2 && spec[0] == '[' && spec[len(spec)-1] == ']' {
			spec = spec[1 : len(spec)-1]
		}
		if net.ParseIP(spec) == nil && !validHostname(spec) {
			return "", 0, fmt.Errorf("invalid printer address %q", spec)
		}
		return spec, defaultPort, nil
	}
	if h == "" {
		return "", 0, fmt.Errorf("printer host is required in %q", spec)
	}
	port, err = strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid printer port %q", p)
	}
	return h, port, nil
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func validHostname(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_':
		default:
			return false
		}
	}
	return true
}
