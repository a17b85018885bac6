package signaling

import (
	"time"

	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
)

// hashExchange tracks both directions of the hash confirmation of one file.
// It is complete once our hash was acknowledged and we acknowledged theirs.
type hashExchange struct {
	sid  string
	fid  string
	peer string

	sent      bool
	peerAcked bool

	received  *jingle.HashAnnouncement
	requestID string
	weAcked   bool

	deadline time.Time
}

func (h *hashExchange) complete() bool {
	return h.peerAcked && h.weAcked
}

func (h *hashExchange) announcement() jingle.HashAnnouncement {
	if h.received != nil {
		return *h.received
	}
	return jingle.HashAnnouncement{SID: h.sid, FID: h.fid, Peer: h.peer}
}

// hashFor returns the exchange of a file, creating it.
func (a *Adapter) hashFor(fid, sid, peer string) *hashExchange {
	h, ok := a.hashes[fid]
	if !ok {
		h = &hashExchange{fid: fid, sid: sid, peer: peer}
		a.hashes[fid] = h
	}
	if h.sid == "" {
		h.sid = sid
	}
	if h.peer == "" {
		h.peer = peer
	}
	return h
}

// settle forgets a finished exchange.
func (a *Adapter) settle(h *hashExchange) {
	if h.complete() {
		delete(a.hashes, h.fid)
	}
}

// armHashTimeout starts the hash deadline of an accepted file transfer.
func (a *Adapter) armHashTimeout(f *jingle.FileOffer, peer string, now time.Time) {
	if a.opts.HashTimeout <= 0 || f == nil || f.FID == "" {
		return
	}
	h := a.hashFor(f.FID, f.SID, peer)
	if h.deadline.IsZero() {
		h.deadline = now.Add(a.opts.HashTimeout)
	}
}

// ExpireHashes reports every hash exchange whose deadline passed before
// completing and forgets it. The negotiation itself is left untouched.
func (a *Adapter) ExpireHashes(now time.Time) int {
	expired := 0
	for fid, h := range a.hashes {
		if h.deadline.IsZero() || now.Before(h.deadline) || h.complete() {
			continue
		}
		delete(a.hashes, fid)
		expired++

		ann := h.announcement()
		a.emit(events.Event{
			Kind: events.HashTimeout,
			Peer: h.peer,
			SID:  h.sid,
			Hash: &ann,
		})
	}
	return expired
}

// PendingHashes returns the number of hash exchanges in progress.
func (a *Adapter) PendingHashes() int {
	return len(a.hashes)
}
