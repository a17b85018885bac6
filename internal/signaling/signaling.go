// Package signaling maps inbound stanzas onto negotiations and negotiation
// actions onto outbound stanzas. All mutations are expected to happen on a
// single worker goroutine; read accessors may be called from anywhere.
package signaling

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/negotiator"
	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/roster"
	"github.com/1ureka/jinglesig/internal/util"
)

var (
	// ErrUnknownSession is returned for operations on a session that is not
	// being negotiated.
	ErrUnknownSession = errors.New("unknown session")
	// ErrDuplicateSession is returned when initiating a session id that is
	// already in use with the same peer.
	ErrDuplicateSession = errors.New("duplicate session")
	// ErrUnknownHash is returned when acknowledging a hash that was never
	// received.
	ErrUnknownHash = errors.New("unknown hash")
)

// Sink receives application events.
type Sink interface {
	Push(e events.Event)
}

// Options tune the adapter.
type Options struct {
	// AutoAck acknowledges inbound initiations before they are reported.
	AutoAck bool
	// HashTimeout bounds the hash exchange after a file transfer is
	// accepted. Zero waits indefinitely.
	HashTimeout time.Duration
}

// key identifies a negotiation: the bare JID of the peer and the session id.
type key struct {
	peer string
	sid  string
}

func keyOf(peer, sid string) key {
	return key{peer: protocol.Bare(peer), sid: sid}
}

// SessionInfo is a snapshot of one negotiation.
type SessionInfo struct {
	Peer  string
	SID   string
	Kind  jingle.Kind
	Role  negotiator.Role
	State negotiator.State
}

// Adapter owns the negotiations of one connection.
type Adapter struct {
	opts     Options
	out      *sender
	sink     Sink
	roster   *roster.Roster
	messages *roster.MessageQueue
	handlers map[Kind]func(*protocol.Stanza)

	mu       sync.RWMutex
	sessions map[key]*negotiator.Negotiation

	hashes map[string]*hashExchange // by file id
}

// New creates an adapter sending through tr and reporting to sink.
func New(tr Transport, sink Sink, r *roster.Roster, q *roster.MessageQueue, opts Options) *Adapter {
	a := &Adapter{
		opts:     opts,
		out:      newSender(tr),
		sink:     sink,
		roster:   r,
		messages: q,
		sessions: make(map[key]*negotiator.Negotiation),
		hashes:   make(map[string]*hashExchange),
	}

	a.handlers = map[Kind]func(*protocol.Stanza){
		KindPresence:         a.onPresence,
		KindChat:             a.onChat,
		KindSessionInitiate:  a.onSessionInitiate,
		KindFileInitiate:     a.onFileInitiate,
		KindSessionAck:       a.onSessionAck,
		KindSessionAccept:    a.onSessionAccept,
		KindFileAccept:       a.onFileAccept,
		KindSessionTerminate: a.onSessionTerminate,
		KindRing:             a.onRing,
		KindRingAck:          a.onRingAck,
		KindHash:             a.onHash,
		KindHashAck:          a.onHashAck,
		KindTransportInfo:    a.onTransportInfo,
		KindResult:           a.onResult,
		KindError:            a.onError,
	}

	return a
}

// SetSelf sets the full JID stamped on outbound stanzas.
func (a *Adapter) SetSelf(jid string) {
	a.out.setSelf(jid)
}

// Self returns the full JID of the local client.
func (a *Adapter) Self() string {
	return a.out.selfJID()
}

// Classify returns the kind of an inbound stanza.
func (a *Adapter) Classify(st *protocol.Stanza) Kind {
	return classify(st, a.out.peek)
}

// Handle classifies an inbound stanza and dispatches it. Stanzas that
// cannot be handled are dropped with a diagnostic.
func (a *Adapter) Handle(st *protocol.Stanza) {
	util.Stats.AddRecv()

	kind := a.Classify(st)
	h, ok := a.handlers[kind]
	if !ok {
		a.drop(st, "unrecognized %s", st.XMLName.Local)
		return
	}
	h(st)
}

// State returns the negotiation state of a session. Unknown sessions are Idle.
func (a *Adapter) State(peer, sid string) negotiator.State {
	if n := a.lookup(keyOf(peer, sid)); n != nil {
		return n.State()
	}
	return negotiator.Idle
}

// Negotiation returns the negotiation of a session.
func (a *Adapter) Negotiation(peer, sid string) (*negotiator.Negotiation, bool) {
	n := a.lookup(keyOf(peer, sid))
	return n, n != nil
}

// Sessions returns a snapshot of every active negotiation.
func (a *Adapter) Sessions() []SessionInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]SessionInfo, 0, len(a.sessions))
	for _, n := range a.sessions {
		out = append(out, SessionInfo{
			Peer:  n.Peer(),
			SID:   n.SID(),
			Kind:  n.Kind(),
			Role:  n.Role(),
			State: n.State(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].SID < out[j].SID
	})
	return out
}

// Fail terminates every negotiation with reason Unknown after a transport
// fault. Nothing is sent.
func (a *Adapter) Fail() {
	for _, n := range a.removeAll() {
		if n.Terminate() {
			util.Stats.AddTerminated()
			a.emit(events.Event{
				Kind:   events.Terminated,
				Peer:   n.Peer(),
				SID:    n.SID(),
				Reason: jingle.ReasonUnknown,
			})
		}
	}
	a.hashes = make(map[string]*hashExchange)
	a.out.forget()
}

// Reset drops every negotiation without events.
func (a *Adapter) Reset() {
	for _, n := range a.removeAll() {
		n.Terminate()
	}
	a.hashes = make(map[string]*hashExchange)
	a.out.forget()
}

// ──────────────────────────────────────────────────────────────────────────────
// Session map
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) lookup(k key) *negotiator.Negotiation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessions[k]
}

// store registers n under k unless the key is taken.
func (a *Adapter) store(k key, n *negotiator.Negotiation) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[k]; ok {
		return false
	}
	a.sessions[k] = n
	return true
}

func (a *Adapter) remove(k key) *negotiator.Negotiation {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.sessions[k]
	delete(a.sessions, k)
	return n
}

func (a *Adapter) removeAll() []*negotiator.Negotiation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*negotiator.Negotiation, 0, len(a.sessions))
	for _, n := range a.sessions {
		out = append(out, n)
	}
	a.sessions = make(map[key]*negotiator.Negotiation)
	return out
}

func (a *Adapter) emit(e events.Event) {
	if a.sink != nil {
		a.sink.Push(e)
	}
}

func (a *Adapter) drop(st *protocol.Stanza, format string, args ...interface{}) {
	util.Stats.AddDropped()
	args = append(args, st.XMLName.Local, st.ID, st.From)
	util.LogWarning("drop: "+format+" (%s id=%s from=%s)", args...)
}
