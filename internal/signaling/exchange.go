package signaling

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/negotiator"
	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/roster"
	"github.com/1ureka/jinglesig/internal/util"
)

const creatorInitiator = "initiator"

func iqSet(to string, j *protocol.Jingle) *protocol.Stanza {
	return &protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NameIQ},
		Type:    protocol.TypeSet,
		To:      to,
		Jingle:  j,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Presence and chat
// ──────────────────────────────────────────────────────────────────────────────

// Presence is the local presence broadcast to every contact.
type Presence struct {
	Show         roster.ShowState
	Status       string
	Priority     int
	Capabilities []string
}

// SendPresence broadcasts the local presence.
func (a *Adapter) SendPresence(p Presence) error {
	st := &protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NamePresence},
		Show:    p.Show.Wire(),
		Status:  p.Status,
	}
	if p.Priority != 0 {
		st.Priority = strconv.Itoa(p.Priority)
	}
	if len(p.Capabilities) > 0 {
		st.Caps = &protocol.Caps{Node: "jinglesig", Ext: strings.Join(p.Capabilities, " ")}
	}
	return a.out.send(st)
}

// SendUnavailable announces that the local client is going offline.
func (a *Adapter) SendUnavailable() error {
	return a.out.send(&protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NamePresence},
		Type:    protocol.TypeUnavailable,
	})
}

// SendMessage sends a chat message.
func (a *Adapter) SendMessage(to, body string) error {
	return a.out.send(&protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NameMessage},
		Type:    protocol.TypeChat,
		To:      to,
		Body:    body,
	})
}

// SendChatState sends a standalone chat state notification.
func (a *Adapter) SendChatState(to string, s roster.ChatState) error {
	return a.out.send(&protocol.Stanza{
		XMLName:    xml.Name{Local: protocol.NameMessage},
		Type:       protocol.TypeChat,
		To:         to,
		Extensions: []protocol.Element{{XMLName: xml.Name{Space: protocol.NSChatStates, Local: s.String()}}},
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Initiator
// ──────────────────────────────────────────────────────────────────────────────

// Initiate starts a media session with peer and returns its session id.
// A session id is generated when sess carries none.
func (a *Adapter) Initiate(peer string, sess *jingle.Session) (string, error) {
	local := &jingle.Session{}
	if sess != nil {
		local = sess.Clone()
	}
	local.Peer = peer
	if local.SID == "" {
		local.SID = uuid.NewString()
	}

	j := &protocol.Jingle{
		Action:    protocol.ActionSessionInitiate,
		Initiator: a.Self(),
		SID:       local.SID,
		Contents:  protocol.EncodeContents(local.Contents, creatorInitiator),
	}
	if err := a.initiate(peer, local, j); err != nil {
		return "", err
	}
	return local.SID, nil
}

// InitiateFile offers a file to peer and returns the session id. Session
// and file ids are generated when missing.
func (a *Adapter) InitiateFile(peer string, offer *jingle.FileOffer) (string, error) {
	if offer == nil {
		return "", fmt.Errorf("initiate file transfer: missing offer")
	}
	local := offer.Clone()
	local.Peer = peer
	if local.SID == "" {
		local.SID = uuid.NewString()
	}
	if local.FID == "" {
		local.FID = uuid.NewString()
	}

	j := &protocol.Jingle{
		Action:    protocol.ActionSessionInitiate,
		Initiator: a.Self(),
		SID:       local.SID,
		Contents:  []protocol.Content{protocol.EncodeFileOffer(local, creatorInitiator)},
	}
	if err := a.initiate(peer, local, j); err != nil {
		return "", err
	}
	return local.SID, nil
}

func (a *Adapter) initiate(peer string, local jingle.Description, j *protocol.Jingle) error {
	k := keyOf(peer, local.SessionID())
	if a.lookup(k) != nil {
		return fmt.Errorf("session %s with %s: %w", k.sid, k.peer, ErrDuplicateSession)
	}

	n := negotiator.New(local.Kind(), negotiator.Initiator, peer, k.sid)
	if err := n.Initiate(local); err != nil {
		return err
	}
	if err := a.out.request(iqSet(peer, j), request{kind: reqInitiate, key: k}); err != nil {
		return err
	}

	a.store(k, n)
	util.Stats.AddStarted()
	util.LogInfo("[%s] %s initiated with %s", k.sid, local.Kind(), peer)
	return nil
}

// AckRing acknowledges the ringing indication received for a session.
func (a *Adapter) AckRing(peer, sid string) error {
	n, err := a.must(peer, sid)
	if err != nil {
		return err
	}
	id, err := n.TakeRing()
	if err != nil {
		return err
	}
	return a.out.reply(n.Peer(), id)
}

// ──────────────────────────────────────────────────────────────────────────────
// Responder
// ──────────────────────────────────────────────────────────────────────────────

// Ack acknowledges an inbound initiation. Only needed when AutoAck is off.
func (a *Adapter) Ack(peer, sid string) error {
	n, err := a.must(peer, sid)
	if err != nil {
		return err
	}
	id, err := n.MarkAcked()
	if err != nil {
		return err
	}
	return a.out.reply(n.Peer(), id)
}

// Ring tells the initiator that the user is being alerted.
func (a *Adapter) Ring(peer, sid string) error {
	n, err := a.must(peer, sid)
	if err != nil {
		return err
	}
	if err := n.Ring(); err != nil {
		return err
	}

	j := &protocol.Jingle{
		Action:  protocol.ActionSessionInfo,
		SID:     sid,
		Ringing: &protocol.Empty{},
	}
	return a.out.request(iqSet(n.Peer(), j), request{kind: reqRing, key: keyOf(peer, sid)})
}

// Accept accepts an offered media session. A nil session accepts the offer
// as received.
func (a *Adapter) Accept(peer, sid string, sess *jingle.Session) error {
	n, err := a.must(peer, sid)
	if err != nil {
		return err
	}
	if n.Kind() != jingle.KindMedia {
		return fmt.Errorf("session %s: %w", sid, negotiator.ErrKindMismatch)
	}

	var local jingle.Description
	if sess != nil {
		local = sess
	}
	merged, err := n.Accept(local)
	if err != nil {
		return err
	}
	util.Stats.AddAccepted()

	j := &protocol.Jingle{
		Action:    protocol.ActionSessionAccept,
		Responder: a.Self(),
		SID:       sid,
		Contents:  protocol.EncodeContents(merged.(*jingle.Session).Contents, creatorInitiator),
	}
	return a.out.request(iqSet(n.Peer(), j), request{kind: reqOther, key: keyOf(peer, sid)})
}

// AcceptFile accepts an offered file transfer. A nil offer accepts it as
// received.
func (a *Adapter) AcceptFile(peer, sid string, offer *jingle.FileOffer) error {
	n, err := a.must(peer, sid)
	if err != nil {
		return err
	}
	if n.Kind() != jingle.KindFileTransfer {
		return fmt.Errorf("session %s: %w", sid, negotiator.ErrKindMismatch)
	}

	var local jingle.Description
	if offer != nil {
		local = offer
	}
	merged, err := n.Accept(local)
	if err != nil {
		return err
	}
	util.Stats.AddAccepted()

	f := merged.(*jingle.FileOffer)
	a.armHashTimeout(f, n.Peer(), time.Now())

	j := &protocol.Jingle{
		Action:    protocol.ActionSessionAccept,
		Responder: a.Self(),
		SID:       sid,
		Contents:  []protocol.Content{protocol.EncodeFileOffer(f, creatorInitiator)},
	}
	return a.out.request(iqSet(n.Peer(), j), request{kind: reqOther, key: keyOf(peer, sid)})
}

// ──────────────────────────────────────────────────────────────────────────────
// Both roles
// ──────────────────────────────────────────────────────────────────────────────

// Terminate ends a session and tells the peer. Terminating an unknown or
// already terminated session is a no-op.
func (a *Adapter) Terminate(peer, sid string, reason jingle.TerminateReason) error {
	n := a.remove(keyOf(peer, sid))
	if n == nil || !n.Terminate() {
		return nil
	}
	util.Stats.AddTerminated()

	a.emit(events.Event{
		Kind:   events.Terminated,
		Peer:   n.Peer(),
		SID:    sid,
		Reason: reason,
		Local:  true,
	})

	j := &protocol.Jingle{
		Action: protocol.ActionSessionTerminate,
		SID:    sid,
		Reason: protocol.EncodeReason(reason),
	}
	return a.out.request(iqSet(n.Peer(), j), request{kind: reqOther, key: keyOf(peer, sid)})
}

// SendTransportInfo sends additional candidates for contents of an active
// session.
func (a *Adapter) SendTransportInfo(peer, sid string, contents []jingle.Content) error {
	n, err := a.must(peer, sid)
	if err != nil {
		return err
	}

	j := &protocol.Jingle{
		Action: protocol.ActionTransportInfo,
		SID:    sid,
	}
	for _, c := range contents {
		j.Contents = append(j.Contents, protocol.Content{
			Creator:   creatorInitiator,
			Name:      c.Name,
			Transport: protocol.EncodeTransport(c.Transport),
		})
	}
	return a.out.request(iqSet(n.Peer(), j), request{kind: reqOther, key: keyOf(peer, sid)})
}

// SendHash announces the hash of a transferred file.
func (a *Adapter) SendHash(peer string, h jingle.HashAnnouncement) error {
	if h.FID == "" {
		return fmt.Errorf("send hash: missing file id")
	}

	j := &protocol.Jingle{
		Action:   protocol.ActionSessionInfo,
		SID:      h.SID,
		Checksum: protocol.EncodeChecksum(h, creatorInitiator),
	}
	err := a.out.request(iqSet(peer, j), request{kind: reqHash, key: keyOf(peer, h.SID), fid: h.FID})
	if err != nil {
		return err
	}
	a.hashFor(h.FID, h.SID, peer).sent = true
	return nil
}

// AckHash acknowledges the hash received for a file.
func (a *Adapter) AckHash(fid string) error {
	h, ok := a.hashes[fid]
	if !ok || h.received == nil {
		return fmt.Errorf("file %s: %w", fid, ErrUnknownHash)
	}
	if err := a.out.reply(h.received.Peer, h.requestID); err != nil {
		return err
	}
	h.weAcked = true
	a.settle(h)
	return nil
}

func (a *Adapter) must(peer, sid string) (*negotiator.Negotiation, error) {
	n := a.lookup(keyOf(peer, sid))
	if n == nil {
		return nil, fmt.Errorf("session %s with %s: %w", sid, protocol.Bare(peer), ErrUnknownSession)
	}
	return n, nil
}
