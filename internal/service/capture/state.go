package capture

import "fmt"

// State represents the lifecycle state of a capture attempt.
//
// State transitions:
//
//	IDLE → ACQUIRING → ACTIVE → FINALIZING → FINALIZED
//	          │          │
//	          └──────────┴──→ ABORTED
type State int

const (
	// StateIdle - Not started.
	StateIdle State = iota
	// StateAcquiring - Waiting on the device.
	StateAcquiring
	// StateActive - Receiving fragments.
	StateActive
	// StateFinalizing - Device released, draining and assembling.
	StateFinalizing
	// StateFinalized - Payload assembled. Terminal.
	StateFinalized
	// StateAborted - Device denied, cancelled or torn down. Terminal.
	StateAborted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAcquiring:
		return "ACQUIRING"
	case StateActive:
		return "ACTIVE"
	case StateFinalizing:
		return "FINALIZING"
	case StateFinalized:
		return "FINALIZED"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (FINALIZED or ABORTED).
func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateAborted
}

// HoldsDevice returns true while the attempt may own a device handle.
func (s State) HoldsDevice() bool {
	return s == StateAcquiring || s == StateActive
}
