package signaling

import (
	"encoding/xml"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/util"
)

// Transport is the outbound half of the transport collaborator. Send must
// not block.
type Transport interface {
	Send(st *protocol.Stanza) error
}

type requestKind int

const (
	reqInitiate requestKind = iota
	reqRing
	reqHash
	reqOther
)

// request is an outbound iq waiting for its result.
type request struct {
	kind requestKind
	key  key
	fid  string
}

// sender is the single choke point for outbound stanzas. It assigns unique
// ids, stamps the sender JID and remembers requests for correlation.
type sender struct {
	tr     Transport
	prefix string
	seq    atomic.Uint64

	mu      sync.Mutex
	self    string
	pending map[string]request
}

func newSender(tr Transport) *sender {
	return &sender{
		tr:      tr,
		prefix:  uuid.NewString()[:8],
		pending: make(map[string]request),
	}
}

func (s *sender) nextID() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.seq.Add(1))
}

func (s *sender) setSelf(jid string) {
	s.mu.Lock()
	s.self = jid
	s.mu.Unlock()
}

func (s *sender) selfJID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// send assigns an id when missing and hands the stanza to the transport.
func (s *sender) send(st *protocol.Stanza) error {
	if st.ID == "" {
		st.ID = s.nextID()
	}
	if st.From == "" {
		st.From = s.selfJID()
	}
	if err := s.tr.Send(st); err != nil {
		return fmt.Errorf("send %s %s: %w", st.XMLName.Local, st.ID, err)
	}
	util.Stats.AddSent()
	return nil
}

// request sends an iq and records it until its result arrives.
func (s *sender) request(st *protocol.Stanza, req request) error {
	st.ID = s.nextID()

	s.mu.Lock()
	s.pending[st.ID] = req
	s.mu.Unlock()

	if err := s.send(st); err != nil {
		s.take(st.ID)
		return err
	}
	return nil
}

// reply answers an inbound iq with an empty result.
func (s *sender) reply(to, id string) error {
	return s.send(&protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NameIQ},
		ID:      id,
		Type:    protocol.TypeResult,
		To:      to,
	})
}

func (s *sender) peek(id string) (request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[id]
	return req, ok
}

func (s *sender) take(id string) (request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return req, ok
}

// takeFrom is take restricted to answers from the peer the request was
// sent to. Answers from anyone else leave the request pending.
func (s *sender) takeFrom(id, from string) (request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[id]
	if !ok || req.key.peer != protocol.Bare(from) {
		return request{}, false
	}
	delete(s.pending, id)
	return req, true
}

// forget drops every pending request.
func (s *sender) forget() {
	s.mu.Lock()
	s.pending = make(map[string]request)
	s.mu.Unlock()
}
