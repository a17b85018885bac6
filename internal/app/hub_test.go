package app

import (
	"context"
	"encoding/xml"
	"errors"
	"sync"

	"github.com/1ureka/jinglesig/internal/protocol"
)

var errDropped = errors.New("link dropped")

// hub is an in-memory relay: it routes stanzas between memConns through the
// wire encoding.
type hub struct {
	mu       sync.Mutex
	conns    map[string]*memConn
	presence map[string]*protocol.Stanza
	refuse   error
}

func newHub() *hub {
	return &hub{
		conns:    make(map[string]*memConn),
		presence: make(map[string]*protocol.Stanza),
	}
}

func (h *hub) Dial(_ context.Context, _, jid, _ string) (Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuse != nil {
		return nil, h.refuse
	}
	if protocol.Resource(jid) == "" {
		jid += "/test"
	}
	c := &memConn{
		h:       h,
		jid:     jid,
		inbound: make(chan *protocol.Stanza, 256),
		done:    make(chan struct{}),
	}
	h.conns[jid] = c
	for from, st := range h.presence {
		if from != jid {
			c.inbound <- st
		}
	}
	return c, nil
}

// drop simulates a transport fault on jid.
func (h *hub) drop(jid string) {
	h.mu.Lock()
	c := h.conns[jid]
	h.mu.Unlock()
	if c != nil {
		c.shut(errDropped)
	}
}

func (h *hub) route(from *memConn, st *protocol.Stanza) {
	st.From = from.jid
	data, err := protocol.Encode(st)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var targets []*memConn
	for jid, c := range h.conns {
		switch {
		case st.XMLName.Local == protocol.NamePresence && st.To == "":
			if c != from {
				targets = append(targets, c)
			}
		case jid == st.To || protocol.Bare(jid) == st.To:
			targets = append(targets, c)
		}
	}
	if st.XMLName.Local == protocol.NamePresence && st.To == "" {
		if st.Type == protocol.TypeUnavailable {
			delete(h.presence, from.jid)
		} else {
			h.presence[from.jid], _ = protocol.Decode(data)
		}
	}

	for _, c := range targets {
		dup, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		select {
		case c.inbound <- dup:
		case <-c.done:
		}
	}
}

func (h *hub) leave(c *memConn) {
	h.mu.Lock()
	delete(h.conns, c.jid)
	delete(h.presence, c.jid)
	h.mu.Unlock()
	h.route(c, &protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NamePresence},
		Type:    protocol.TypeUnavailable,
	})
}

type memConn struct {
	h       *hub
	jid     string
	inbound chan *protocol.Stanza
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (c *memConn) Send(st *protocol.Stanza) error {
	select {
	case <-c.done:
		return errDropped
	default:
	}
	c.h.route(c, st)
	return nil
}

func (c *memConn) Inbound() <-chan *protocol.Stanza { return c.inbound }
func (c *memConn) Done() <-chan struct{}            { return c.done }
func (c *memConn) BoundJID() string                 { return c.jid }

func (c *memConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *memConn) Close() error {
	c.shut(nil)
	return nil
}

func (c *memConn) shut(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.h.leave(c)
	})
}
