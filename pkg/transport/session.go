// Package transport implements Component C (Protocol Session) from
// spec.md §4.C: opening a configured byte-stream session against a
// physical endpoint, executing one command with per-command
// timeout/retry, and a registry so unknown protocol names are reported as
// configuration errors at open time rather than at registration time.
package transport

import (
	"context"
	"time"

	"github.com/bibfleet/fleet/pkg/model"
)

// State is the session lifecycle from spec.md §3.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Session is a configured byte-stream conversation with one physical
// endpoint. Execute never returns a Go error for ordinary protocol
// failures — those are encoded in the returned CommandOutcome's Verdict as
// EXECUTION_ERROR, per spec.md §4.C.
type Session interface {
	ID() string
	Endpoint() string
	Protocol() string
	State() State

	Execute(ctx context.Context, cmd model.ProtocolCommand) model.CommandOutcome

	// Close is idempotent; once Closed every further call is a no-op
	// returning nil.
	Close() error
}

// MinInterCommandSettle is the floor spec.md §4.C places on the pause
// between two commands in a sequence ("≥ 100 ms to allow hardware to
// settle"). The actual pause is the orchestrator's configured
// Timing.InterCommandSettle (stamped onto PortConfiguration), never below
// this floor.
const MinInterCommandSettle = 100 * time.Millisecond

// SettleDelay resolves the pause Execute applies after a command, applied
// after it returns the response but before the caller's next call —
// modeled here as a post-Execute sleep so it never counts toward the
// *next* command's timeout. Exported so Handler implementations outside
// this package (e.g. transporttest's fake) honor the same floor.
func SettleDelay(cfg model.PortConfiguration) time.Duration {
	if cfg.InterCommandSettle > MinInterCommandSettle {
		return cfg.InterCommandSettle
	}
	return MinInterCommandSettle
}
