package jingle

// TerminateReason is the reason carried by a session-terminate.
type TerminateReason int

const (
	ReasonSuccess TerminateReason = iota
	ReasonBusy
	ReasonDeclined
	ReasonUnknown
)

// Condition returns the wire element name of the reason.
func (r TerminateReason) Condition() string {
	switch r {
	case ReasonSuccess:
		return "success"
	case ReasonBusy:
		return "busy"
	case ReasonDeclined:
		return "decline"
	default:
		return "general-error"
	}
}

func (r TerminateReason) String() string {
	switch r {
	case ReasonSuccess:
		return "success"
	case ReasonBusy:
		return "busy"
	case ReasonDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// ReasonFromCondition maps a wire condition to a reason. Conditions other
// than success, busy and decline map to ReasonUnknown.
func ReasonFromCondition(cond string) TerminateReason {
	switch cond {
	case "success":
		return ReasonSuccess
	case "busy":
		return ReasonBusy
	case "decline":
		return ReasonDeclined
	default:
		return ReasonUnknown
	}
}
