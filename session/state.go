// Package session implements the per-transfer finite-state automaton
// (§4.2) shared as a specification by both the Sender and Receiver
// engines, plus the in-memory Session bookkeeping (§3) each engine owns
// exclusively.
//
// The state machine itself is generalized from the teacher's
// file.TransferState enum (Pending/Running/Paused/Completed/Cancelled/
// Error), which only modeled the sender-visible lifecycle; this package
// adds the Negotiating/Transferring/Finalizing split the wire protocol
// needs so both roles can validate message/state compatibility the same
// way.
package session

import "fmt"

// State is a session's position in the finite-state automaton of §4.2.
type State uint8

const (
	// Idle is the pre-handshake state: no TransferRequest sent/received yet.
	Idle State = iota
	// Negotiating: request sent/received, awaiting Accept/Reject.
	Negotiating
	// Transferring: accepted, chunks flowing.
	Transferring
	// Finalizing: all chunks seen, responder validating/converting/writing.
	Finalizing
	// Completed is terminal: FinalResponse{success=true} observed.
	Completed
	// Failed is terminal, carrying a FailureReason.
	Failed
	// Cancelled is terminal: local cancellation.
	Cancelled
	// TimedOut is terminal: overall deadline expired.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Negotiating:
		return "Negotiating"
	case Transferring:
		return "Transferring"
	case Finalizing:
		return "Finalizing"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	case TimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// IsTerminal reports whether s is one of the four terminal states, from
// which no further transition is permitted.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled, TimedOut:
		return true
	default:
		return false
	}
}

// Role distinguishes the two ends of a transfer.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// ErrIllegalTransition is returned by Transition when the requested edge
// is not permitted by the state machine in §4.2. Per §3's invariants, an
// illegal edge is fatal to the session; callers must move the session to
// Failed after observing this error, not retry the same edge.
var ErrIllegalTransition = fmt.Errorf("session: illegal state transition")

// legalEdges enumerates the non-terminal-sourced edges of §4.2. Edges
// into Cancelled/TimedOut are permitted from any non-terminal state and
// are checked separately in Transition.
var legalEdges = map[State]map[State]bool{
	Idle:         {Negotiating: true},
	Negotiating:  {Transferring: true, Failed: true},
	Transferring: {Finalizing: true, Failed: true},
	Finalizing:   {Completed: true, Failed: true},
}

// Transition validates and returns the result of moving from `from` to
// `to`. It does not mutate anything; callers apply the result under their
// own lock (§5: each Session is owned by exactly one task).
func Transition(from, to State) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, from)
	}
	if to == Cancelled || to == TimedOut {
		return nil
	}
	if legalEdges[from][to] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
