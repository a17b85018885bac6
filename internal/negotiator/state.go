// Package negotiator implements the per-session negotiation state machine
// shared by both roles and both session kinds.
package negotiator

import (
	"errors"
	"fmt"
)

// State is the negotiation state of one session.
type State int

const (
	Idle State = iota
	Initiating
	InitiationAcknowledged
	AwaitingAccept
	Offered
	Ringing
	RingAcknowledged
	Accepting
	Accepted
)

var stateNames = [...]string{
	Idle:                   "idle",
	Initiating:             "initiating",
	InitiationAcknowledged: "initiation-acknowledged",
	AwaitingAccept:         "awaiting-accept",
	Offered:                "offered",
	Ringing:                "ringing",
	RingAcknowledged:       "ring-acknowledged",
	Accepting:              "accepting",
	Accepted:               "accepted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// parseState converts an fsm state name back into a State.
func parseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return Idle
}

// Role is the side of the negotiation the local client plays.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Events of the underlying fsm.
const (
	eventInitiate     = "initiate"
	eventAck          = "ack"
	eventAwait        = "await"
	eventRemoteAccept = "remote_accept"
	eventOffer        = "offer"
	eventRing         = "ring"
	eventRingAck      = "ring_ack"
	eventAccept       = "accept"
	eventAccepted     = "accepted"
	eventTerminate    = "terminate"
)

// ErrInvalidTransition is returned when an operation is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError describes a rejected operation.
type TransitionError struct {
	SID   string
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot %s in state %s", e.SID, e.Op, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
