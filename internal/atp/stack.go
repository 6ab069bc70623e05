package atp

import "net"

// StackState is the host transport stack's condition, checked before
// every connect attempt.
type StackState int

const (
	Running StackState = iota
	NotLoaded
	Loaded
	OtherError
)

func (s StackState) String() string {
	switch s {
	case Running:
		return "running"
	case NotLoaded:
		return "not loaded"
	case Loaded:
		return "loaded but not running"
	default:
		return "error"
	}
}

// Available reports whether a session can be attempted.  Loaded counts
// as unavailable: a loaded stack that is not running cannot route.
func (s StackState) Available() bool {
	return s == Running
}

// interfaces is swapped out by tests.
var interfaces = net.Interfaces

// ProbeStack inspects the host's network interfaces.  Running means
// at least one non-loopback interface is up; Loaded means interfaces
// exist but none is up.  A loopback-only host is NotLoaded.
func ProbeStack() StackState { return probeStack(false) }

// ProbeStackFor is ProbeStack for a session to host.  A loopback host,
// such as a local port forward, needs only an up loopback interface.
func ProbeStackFor(host string) StackState { return probeStack(isLoopback(host)) }

func probeStack(loopbackOK bool) StackState {
	ifs, err := interfaces()
	if err != nil {
		return OtherError
	}
	var external bool
	for _, ifc := range ifs {
		up := ifc.Flags&net.FlagUp != 0
		if ifc.Flags&net.FlagLoopback != 0 {
			if up && loopbackOK {
				return Running
			}
			continue
		}
		external = true
		if up {
			return Running
		}
	}
	if external {
		return Loaded
	}
	return NotLoaded
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
