package signaling

import (
	"time"

	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/negotiator"
	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/roster"
	"github.com/1ureka/jinglesig/internal/util"
)

// ──────────────────────────────────────────────────────────────────────────────
// Presence and chat
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) onPresence(st *protocol.Stanza) {
	if st.From == "" || st.From == a.Self() {
		return
	}

	switch st.Type {
	case protocol.TypeUnavailable:
		for _, c := range a.roster.Remove(st.From) {
			a.emit(events.Event{Kind: events.UserDisconnected, Peer: c.FullJID()})
		}

	case "":
		c := roster.ContactFromPresence(st)
		if a.roster.Update(c) {
			a.emit(events.Event{Kind: events.UserConnected, Peer: c.FullJID()})
		}

	default:
		util.LogDebug("ignoring presence type %q from %s", st.Type, st.From)
	}
}

func (a *Adapter) onChat(st *protocol.Stanza) {
	if name, ok := st.ChatState(); ok {
		if cs, ok := roster.ParseChatState(name); ok {
			a.roster.SetChatState(st.From, cs)
		}
	}
	if st.Body == "" {
		return
	}

	a.messages.Push(roster.ChatMessage{From: st.From, Type: st.Type, Body: st.Body})
	a.emit(events.Event{
		Kind:    events.NewMessage,
		Peer:    st.From,
		Body:    st.Body,
		MsgType: st.Type,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Initiation
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) onSessionInitiate(st *protocol.Stanza) {
	sid := st.Jingle.SID
	contents, warnings := protocol.DecodeContents(st.Jingle.Contents)
	a.warn(st, warnings)

	sess := &jingle.Session{Peer: st.From, SID: sid, Contents: contents}
	n, ok := a.offer(st, sess)
	if !ok {
		return
	}

	a.emit(events.Event{
		Kind:    events.InitiationReceived,
		Peer:    st.From,
		SID:     sid,
		Session: n.Remote().(*jingle.Session),
	})
}

func (a *Adapter) onFileInitiate(st *protocol.Stanza) {
	sid := st.Jingle.SID
	offer, warnings, _ := protocol.DecodeFileOffer(st.Jingle.Contents)
	a.warn(st, warnings)

	offer.Peer = st.From
	offer.SID = sid
	n, ok := a.offer(st, offer)
	if !ok {
		return
	}

	a.emit(events.Event{
		Kind: events.FileInitiationReceived,
		Peer: st.From,
		SID:  sid,
		File: n.Remote().(*jingle.FileOffer),
	})
}

// offer registers a responder negotiation for an inbound initiation and
// acknowledges it when AutoAck is on. Duplicates are dropped.
func (a *Adapter) offer(st *protocol.Stanza, desc jingle.Description) (*negotiator.Negotiation, bool) {
	k := keyOf(st.From, desc.SessionID())
	if a.lookup(k) != nil {
		a.drop(st, "duplicate initiation of session %s", k.sid)
		return nil, false
	}

	n := negotiator.New(desc.Kind(), negotiator.Responder, st.From, k.sid)
	if err := n.Offer(desc, st.ID); err != nil {
		a.drop(st, "%v", err)
		return nil, false
	}
	a.store(k, n)
	util.Stats.AddStarted()

	if a.opts.AutoAck {
		id, _ := n.MarkAcked()
		if err := a.out.reply(st.From, id); err != nil {
			util.LogError("ack session %s: %v", k.sid, err)
		}
	}
	return n, true
}

func (a *Adapter) onSessionAck(st *protocol.Stanza) {
	req, ok := a.out.takeFrom(st.ID, st.From)
	if !ok {
		a.drop(st, "ack %s matches no request to %s", st.ID, protocol.Bare(st.From))
		return
	}
	n := a.lookup(req.key)
	if n == nil {
		a.drop(st, "ack for unknown session %s", req.key.sid)
		return
	}
	if !n.Ack() {
		util.LogDebug("[%s] ack in state %s ignored", n.SID(), n.State())
		return
	}
	a.emit(events.Event{Kind: events.InitiationAcknowledged, Peer: n.Peer(), SID: n.SID()})
}

// ──────────────────────────────────────────────────────────────────────────────
// Acceptance
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) onSessionAccept(st *protocol.Stanza) {
	sid := st.Jingle.SID
	n := a.lookup(keyOf(st.From, sid))
	if n == nil || n.Kind() != jingle.KindMedia {
		a.drop(st, "accept for unknown session %s", sid)
		return
	}

	contents, warnings := protocol.DecodeContents(st.Jingle.Contents)
	a.warn(st, warnings)

	merged, err := n.RemoteAccept(&jingle.Session{Peer: st.From, SID: sid, Contents: contents})
	if err != nil {
		a.drop(st, "%v", err)
		return
	}
	a.answer(st)
	util.Stats.AddAccepted()

	a.emit(events.Event{
		Kind:    events.SessionAccepted,
		Peer:    st.From,
		SID:     sid,
		Session: merged.(*jingle.Session),
	})
}

func (a *Adapter) onFileAccept(st *protocol.Stanza) {
	sid := st.Jingle.SID
	n := a.lookup(keyOf(st.From, sid))
	if n == nil || n.Kind() != jingle.KindFileTransfer {
		a.drop(st, "accept for unknown file transfer %s", sid)
		return
	}

	remote, warnings, _ := protocol.DecodeFileOffer(st.Jingle.Contents)
	a.warn(st, warnings)
	remote.Peer = st.From
	remote.SID = sid

	merged, err := n.RemoteAccept(remote)
	if err != nil {
		a.drop(st, "%v", err)
		return
	}
	a.answer(st)
	util.Stats.AddAccepted()

	f := merged.(*jingle.FileOffer)
	a.armHashTimeout(f, st.From, time.Now())
	a.emit(events.Event{
		Kind: events.FileInitiationAccepted,
		Peer: st.From,
		SID:  sid,
		File: f,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Termination
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) onSessionTerminate(st *protocol.Stanza) {
	sid := st.Jingle.SID
	a.answer(st)

	n := a.remove(keyOf(st.From, sid))
	if n == nil || !n.Terminate() {
		util.LogDebug("[%s] terminate for inactive session", sid)
		return
	}
	util.Stats.AddTerminated()

	a.emit(events.Event{
		Kind:   events.Terminated,
		Peer:   st.From,
		SID:    sid,
		Reason: protocol.DecodeReason(st.Jingle.Reason),
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Ringing
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) onRing(st *protocol.Stanza) {
	sid := st.Jingle.SID
	n := a.lookup(keyOf(st.From, sid))
	if n == nil {
		a.drop(st, "ring for unknown session %s", sid)
		return
	}
	if err := n.RingReceived(st.ID); err != nil {
		a.drop(st, "%v", err)
		return
	}
	a.emit(events.Event{Kind: events.Ring, Peer: st.From, SID: sid})
}

func (a *Adapter) onRingAck(st *protocol.Stanza) {
	req, ok := a.out.takeFrom(st.ID, st.From)
	if !ok {
		a.drop(st, "ring ack %s matches no request to %s", st.ID, protocol.Bare(st.From))
		return
	}
	n := a.lookup(req.key)
	if n == nil {
		a.drop(st, "ring ack for unknown session %s", req.key.sid)
		return
	}
	if err := n.RingAcked(); err != nil {
		a.drop(st, "%v", err)
		return
	}
	a.emit(events.Event{Kind: events.RingAcknowledged, Peer: n.Peer(), SID: n.SID()})
}

// ──────────────────────────────────────────────────────────────────────────────
// Hash confirmation
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) onHash(st *protocol.Stanza) {
	ann := protocol.DecodeChecksum(st.Jingle.SID, st.From, st.Jingle.Checksum)
	if ann.FID == "" || ann.Hash == "" {
		a.drop(st, "checksum without file id or hash")
		return
	}

	h := a.hashFor(ann.FID, ann.SID, st.From)
	h.received = &ann
	h.requestID = st.ID
	h.weAcked = false

	out := ann
	a.emit(events.Event{Kind: events.HashReceived, Peer: st.From, SID: ann.SID, Hash: &out})
}

func (a *Adapter) onHashAck(st *protocol.Stanza) {
	req, ok := a.out.takeFrom(st.ID, st.From)
	if !ok {
		a.drop(st, "hash ack %s matches no request to %s", st.ID, protocol.Bare(st.From))
		return
	}
	h, ok := a.hashes[req.fid]
	if !ok {
		a.drop(st, "hash ack for unknown file %s", req.fid)
		return
	}
	h.peerAcked = true

	ann := jingle.HashAnnouncement{SID: h.sid, FID: h.fid, Peer: st.From}
	a.settle(h)
	a.emit(events.Event{Kind: events.HashAcknowledged, Peer: st.From, SID: ann.SID, Hash: &ann})
}

// ──────────────────────────────────────────────────────────────────────────────
// Transport info, results and errors
// ──────────────────────────────────────────────────────────────────────────────

func (a *Adapter) onTransportInfo(st *protocol.Stanza) {
	sid := st.Jingle.SID
	n := a.lookup(keyOf(st.From, sid))
	if n == nil || n.State() == negotiator.Idle {
		a.drop(st, "transport-info for unknown session %s", sid)
		return
	}

	contents, warnings := protocol.DecodeContents(st.Jingle.Contents)
	a.warn(st, warnings)
	a.answer(st)

	a.emit(events.Event{
		Kind:    events.TransportInfo,
		Peer:    st.From,
		SID:     sid,
		Session: &jingle.Session{Peer: st.From, SID: sid, Contents: contents},
	})
}

func (a *Adapter) onResult(st *protocol.Stanza) {
	if _, ok := a.out.takeFrom(st.ID, st.From); !ok {
		util.LogDebug("result %s from %s matches no request", st.ID, st.From)
	}
}

func (a *Adapter) onError(st *protocol.Stanza) {
	req, ok := a.out.takeFrom(st.ID, st.From)
	if !ok {
		a.drop(st, "error for unknown request")
		return
	}

	cond := ""
	if st.Error != nil && len(st.Error.Conditions) > 0 {
		cond = st.Error.Conditions[0].XMLName.Local
	}
	util.LogWarning("[%s] peer %s rejected request %s: %s", req.key.sid, st.From, st.ID, cond)

	if req.kind != reqInitiate {
		return
	}
	n := a.remove(req.key)
	if n == nil || !n.Terminate() {
		return
	}
	util.Stats.AddTerminated()
	a.emit(events.Event{
		Kind:   events.Terminated,
		Peer:   n.Peer(),
		SID:    n.SID(),
		Reason: jingle.ReasonUnknown,
	})
}

// answer acknowledges an inbound request.
func (a *Adapter) answer(st *protocol.Stanza) {
	if err := a.out.reply(st.From, st.ID); err != nil {
		util.LogError("[%s] answer %s to %s: %v", st.Jingle.SID, st.ID, st.From, err)
	}
}

func (a *Adapter) warn(st *protocol.Stanza, warnings int) {
	if warnings == 0 {
		return
	}
	util.Stats.AddWarnings(warnings)
	util.LogWarning("[%s] skipped %d malformed entries from %s", st.Jingle.SID, warnings, st.From)
}
