// Package core is the orchestration layer.  It turns a Config into a
// runnable print job: the connect loop that waits for the printer, the
// job source, the back channel and the side channel around one PAP
// session.
//
// Architecture layers (bottom → top):
//
//	transport  →  atp  →  pap  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete run of gopap.  It owns its whole lifecycle from
// connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
