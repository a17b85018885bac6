// Package events defines the notifications delivered to the application and
// the queue they wait in until the application polls.
package events

import (
	"sync"

	"github.com/1ureka/jinglesig/internal/jingle"
)

// Kind identifies an application-facing event.
type Kind int

const (
	ConnectionStateChanged Kind = iota
	NewMessage
	UserConnected
	UserDisconnected
	InitiationReceived
	InitiationAcknowledged
	SessionAccepted
	Ring
	RingAcknowledged
	Terminated
	FileInitiationReceived
	FileInitiationAccepted
	HashReceived
	HashAcknowledged
	HashTimeout
	TransportInfo
)

var kindNames = [...]string{
	ConnectionStateChanged: "connection-state-changed",
	NewMessage:             "new-message",
	UserConnected:          "user-connected",
	UserDisconnected:       "user-disconnected",
	InitiationReceived:     "initiation-received",
	InitiationAcknowledged: "initiation-acknowledged",
	SessionAccepted:        "session-accepted",
	Ring:                   "ring",
	RingAcknowledged:       "ring-acknowledged",
	Terminated:             "terminated",
	FileInitiationReceived: "file-initiation-received",
	FileInitiationAccepted: "file-initiation-accepted",
	HashReceived:           "hash-received",
	HashAcknowledged:       "hash-acknowledged",
	HashTimeout:            "hash-timeout",
	TransportInfo:          "transport-info",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ConnectionState is the state of the transport connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind
	Peer string
	SID  string

	// ConnectionStateChanged
	State ConnectionState

	// NewMessage
	Body    string
	MsgType string

	// InitiationReceived, SessionAccepted, TransportInfo
	Session *jingle.Session

	// FileInitiationReceived, FileInitiationAccepted
	File *jingle.FileOffer

	// HashReceived, HashAcknowledged, HashTimeout
	Hash *jingle.HashAnnouncement

	// Terminated
	Reason jingle.TerminateReason
	Local  bool // terminated by this side
}

// Queue buffers events between the worker that produces them and the
// application goroutine that drains them.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// Push appends an event.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// Drain removes and returns every queued event in push order.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
