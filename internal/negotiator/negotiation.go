package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/util"
)

// ErrKindMismatch is returned when a description of the wrong kind is given
// to a negotiation.
var ErrKindMismatch = errors.New("description kind mismatch")

// Negotiation is one session negotiation, either a media session or a file
// transfer, seen from either role. Media and file transfers share the same
// transition skeleton; only ringing is restricted to media sessions.
//
// Transitions are expected to be driven from a single goroutine. Accessors
// may be called concurrently.
type Negotiation struct {
	kind jingle.Kind
	role Role
	peer string
	sid  string

	machine *fsm.FSM

	mu         sync.RWMutex
	local      jingle.Description
	remote     jingle.Description
	negotiated jingle.Description
	requestID  string // inbound session-initiate id, answered by Ack
	acked      bool
	ringID     string // inbound ringing id not yet answered
}

// New creates an idle negotiation.
func New(kind jingle.Kind, role Role, peer, sid string) *Negotiation {
	n := &Negotiation{kind: kind, role: role, peer: peer, sid: sid}

	nonIdle := []string{
		Initiating.String(), InitiationAcknowledged.String(), AwaitingAccept.String(),
		Offered.String(), Ringing.String(), RingAcknowledged.String(),
		Accepting.String(), Accepted.String(),
	}

	n.machine = fsm.NewFSM(
		Idle.String(),
		fsm.Events{
			// initiator path
			{Name: eventInitiate, Src: []string{Idle.String()}, Dst: Initiating.String()},
			{Name: eventAck, Src: []string{Initiating.String()}, Dst: InitiationAcknowledged.String()},
			{Name: eventAwait, Src: []string{InitiationAcknowledged.String()}, Dst: AwaitingAccept.String()},
			{Name: eventRemoteAccept, Src: []string{
				Initiating.String(), InitiationAcknowledged.String(), AwaitingAccept.String(),
			}, Dst: Accepted.String()},
			// responder path
			{Name: eventOffer, Src: []string{Idle.String()}, Dst: Offered.String()},
			{Name: eventRing, Src: []string{Offered.String()}, Dst: Ringing.String()},
			{Name: eventRingAck, Src: []string{Ringing.String()}, Dst: RingAcknowledged.String()},
			{Name: eventAccept, Src: []string{
				Offered.String(), Ringing.String(), RingAcknowledged.String(),
			}, Dst: Accepting.String()},
			{Name: eventAccepted, Src: []string{Accepting.String()}, Dst: Accepted.String()},
			// both
			{Name: eventTerminate, Src: nonIdle, Dst: Idle.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				util.LogDebug("[%s] %s %s: %s -> %s", n.sid, n.kind, n.role, e.Src, e.Dst)
			},
		},
	)

	return n
}

func (n *Negotiation) Kind() jingle.Kind { return n.kind }
func (n *Negotiation) Role() Role        { return n.role }
func (n *Negotiation) Peer() string      { return n.peer }
func (n *Negotiation) SID() string       { return n.sid }

// State returns the current state.
func (n *Negotiation) State() State {
	return parseState(n.machine.Current())
}

// Local returns a copy of the description supplied by the local side.
func (n *Negotiation) Local() jingle.Description {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return clone(n.local)
}

// Remote returns a copy of the description received from the peer.
func (n *Negotiation) Remote() jingle.Description {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return clone(n.remote)
}

// Negotiated returns a copy of the agreed description once Accepted.
func (n *Negotiation) Negotiated() jingle.Description {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return clone(n.negotiated)
}

// ──────────────────────────────────────────────────────────────────────────────
// Initiator
// ──────────────────────────────────────────────────────────────────────────────

// Initiate records the local description and moves Idle to Initiating.
func (n *Negotiation) Initiate(local jingle.Description) error {
	if n.role != Initiator {
		return n.reject("initiate")
	}
	if err := n.checkKind(local); err != nil {
		return err
	}
	if err := n.fire(eventInitiate, "initiate"); err != nil {
		return err
	}

	n.mu.Lock()
	n.local = clone(local)
	n.mu.Unlock()
	return nil
}

// Ack handles the peer's acknowledgement of the initiation. It moves
// Initiating through InitiationAcknowledged to AwaitingAccept and reports
// whether it did; in any other state it is a no-op.
func (n *Negotiation) Ack() bool {
	if n.role != Initiator || n.State() != Initiating {
		return false
	}
	if err := n.fire(eventAck, "ack"); err != nil {
		return false
	}
	_ = n.fire(eventAwait, "await")
	return true
}

// RemoteAccept handles the peer's accept and returns the negotiated
// description: the remote description with anything it omitted taken from
// the local one.
func (n *Negotiation) RemoteAccept(remote jingle.Description) (jingle.Description, error) {
	if n.role != Initiator {
		return nil, n.reject("accept")
	}
	if err := n.checkKind(remote); err != nil {
		return nil, err
	}
	if err := n.fire(eventRemoteAccept, "accept"); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.remote = clone(remote)
	n.negotiated = merge(n.local, remote)
	n.ringID = ""
	return clone(n.negotiated), nil
}

// RingReceived records a ringing indication from the peer. The state is
// left unchanged; the id is answered later by TakeRing.
func (n *Negotiation) RingReceived(id string) error {
	if n.role != Initiator || n.kind != jingle.KindMedia {
		return n.reject("receive ring")
	}
	switch n.State() {
	case Initiating, InitiationAcknowledged, AwaitingAccept:
	default:
		return n.reject("receive ring")
	}

	n.mu.Lock()
	n.ringID = id
	n.mu.Unlock()
	return nil
}

// TakeRing returns the id of the pending ringing indication and clears it.
func (n *Negotiation) TakeRing() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ringID == "" || n.State() == Idle {
		return "", n.reject("acknowledge ring")
	}
	id := n.ringID
	n.ringID = ""
	return id, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Responder
// ──────────────────────────────────────────────────────────────────────────────

// Offer records an inbound initiation and moves Idle to Offered. requestID
// is the id of the initiation stanza, answered by MarkAcked.
func (n *Negotiation) Offer(remote jingle.Description, requestID string) error {
	if n.role != Responder {
		return n.reject("offer")
	}
	if err := n.checkKind(remote); err != nil {
		return err
	}
	if err := n.fire(eventOffer, "offer"); err != nil {
		return err
	}

	n.mu.Lock()
	n.remote = clone(remote)
	n.requestID = requestID
	n.mu.Unlock()
	return nil
}

// MarkAcked returns the id of the initiation to acknowledge. It fails if the
// initiation was already acknowledged.
func (n *Negotiation) MarkAcked() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != Responder || n.acked || n.State() == Idle {
		return "", n.reject("acknowledge")
	}
	n.acked = true
	return n.requestID, nil
}

// Ring moves Offered to Ringing. Only media sessions ring, and only after
// the initiation was acknowledged.
func (n *Negotiation) Ring() error {
	if n.role != Responder || n.kind != jingle.KindMedia || !n.isAcked() {
		return n.reject("ring")
	}
	return n.fire(eventRing, "ring")
}

// RingAcked handles the peer's acknowledgement of our ringing indication.
func (n *Negotiation) RingAcked() error {
	return n.fire(eventRingAck, "ring ack")
}

// Accept records the local accept description and moves through Accepting
// to Accepted. A nil description accepts the offer as received. The
// returned description is the accept merged over the offer. The initiation
// must have been acknowledged first.
func (n *Negotiation) Accept(local jingle.Description) (jingle.Description, error) {
	if n.role != Responder || !n.isAcked() {
		return nil, n.reject("accept")
	}
	if local != nil {
		if err := n.checkKind(local); err != nil {
			return nil, err
		}
	}
	if err := n.fire(eventAccept, "accept"); err != nil {
		return nil, err
	}

	n.mu.Lock()
	if local == nil {
		n.local = clone(n.remote)
	} else {
		n.local = clone(local)
	}
	n.negotiated = merge(n.remote, n.local)
	n.mu.Unlock()

	if err := n.fire(eventAccepted, "accept"); err != nil {
		return nil, err
	}
	return n.Negotiated(), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Both roles
// ──────────────────────────────────────────────────────────────────────────────

// Terminate returns the negotiation to Idle and reports whether it was
// active. Terminating an idle negotiation is a no-op.
func (n *Negotiation) Terminate() bool {
	if n.State() == Idle {
		return false
	}
	if err := n.fire(eventTerminate, "terminate"); err != nil {
		return false
	}

	n.mu.Lock()
	n.ringID = ""
	n.mu.Unlock()
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────────────────────────────────

func (n *Negotiation) fire(event, op string) error {
	if !n.machine.Can(event) {
		return n.reject(op)
	}
	if err := n.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("session %s: %s: %w", n.sid, op, err)
	}
	return nil
}

func (n *Negotiation) isAcked() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.acked
}

func (n *Negotiation) reject(op string) error {
	return &TransitionError{SID: n.sid, Op: op, State: n.State()}
}

func (n *Negotiation) checkKind(d jingle.Description) error {
	if d == nil || isNil(d) {
		return fmt.Errorf("session %s: missing %s description", n.sid, n.kind)
	}
	if d.Kind() != n.kind {
		return fmt.Errorf("session %s: got %s, want %s: %w", n.sid, d.Kind(), n.kind, ErrKindMismatch)
	}
	return nil
}

func isNil(d jingle.Description) bool {
	switch v := d.(type) {
	case *jingle.Session:
		return v == nil
	case *jingle.FileOffer:
		return v == nil
	}
	return false
}

func clone(d jingle.Description) jingle.Description {
	switch v := d.(type) {
	case *jingle.Session:
		if v == nil {
			return nil
		}
		return v.Clone()
	case *jingle.FileOffer:
		if v == nil {
			return nil
		}
		return v.Clone()
	}
	return d
}

// merge lays over on top of base, per description kind.
func merge(base, over jingle.Description) jingle.Description {
	switch o := over.(type) {
	case *jingle.Session:
		b, _ := base.(*jingle.Session)
		out := jingle.Merge(b, o)
		if b != nil {
			if out.Peer == "" {
				out.Peer = b.Peer
			}
			if out.SID == "" {
				out.SID = b.SID
			}
		}
		return out
	case *jingle.FileOffer:
		b, _ := base.(*jingle.FileOffer)
		return jingle.MergeFile(b, o)
	}
	return clone(over)
}
