// Package relay implements a small shared-password stanza router that lets
// clients reach each other by JID.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/util"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connected resource.
type client struct {
	jid string
	ws  *websocket.Conn

	wmu sync.Mutex

	presence *protocol.Stanza // last available presence
}

// priority is the priority of the last available presence, zero without
// one. Callers hold the server lock.
func (c *client) priority() int {
	if c.presence == nil || c.presence.Priority == "" {
		return 0
	}
	p, err := strconv.Atoi(strings.TrimSpace(c.presence.Priority))
	if err != nil {
		return 0
	}
	return p
}

func (c *client) write(st *protocol.Stanza) error {
	data, err := protocol.Encode(st)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server routes stanzas between authenticated clients.
type Server struct {
	password string
	metrics  bool

	listener net.Listener
	httpSrv  *http.Server

	mu      sync.RWMutex
	clients map[string]*client // by full JID
}

// NewServer creates a relay. An empty password is replaced by a generated
// numeric one, see Password.
func NewServer(password string, metrics bool) *Server {
	if password == "" {
		password = generatePIN(6)
	}
	return &Server{
		password: password,
		metrics:  metrics,
		clients:  make(map[string]*client),
	}
}

// Password returns the shared password clients must present.
func (s *Server) Password() string {
	return s.password
}

// Start begins listening on addr (":0" picks a random port) and returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if s.metrics {
		mux.Handle("/metrics", util.MetricsHandler())
	}
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}

// Close stops accepting connections and disconnects every client.
func (s *Server) Close() error {
	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.ws.Close()
	}
	return err
}

// Online returns the full JIDs of every connected client, sorted.
func (s *Server) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.clients))
	for jid := range s.clients {
		out = append(out, jid)
	}
	sort.Strings(out)
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || pass != s.password || protocol.Bare(user) == "" {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := s.register(user, ws)
	defer s.unregister(c)

	bind := &protocol.Stanza{XMLName: xml.Name{Local: protocol.NameBind}, JID: c.jid}
	if err := c.write(bind); err != nil {
		return
	}
	s.replayPresences(c)
	util.LogInfo("relay: %s connected", c.jid)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		st, err := protocol.Decode(data)
		if err != nil {
			util.Stats.AddDropped()
			util.LogWarning("relay: undecodable frame from %s: %v", c.jid, err)
			continue
		}
		s.route(c, st)
	}
}

// register adds a client, assigning a resource when the requested JID has
// none or is already taken.
func (s *Server) register(jid string, ws *websocket.Conn) *client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.clients[jid]; taken || protocol.Resource(jid) == "" {
		jid = protocol.Bare(jid) + "/" + uuid.NewString()[:8]
	}
	c := &client{jid: jid, ws: ws}
	s.clients[jid] = c
	return c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.jid)
	s.mu.Unlock()
	c.ws.Close()

	s.broadcast(c, &protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NamePresence},
		Type:    protocol.TypeUnavailable,
		From:    c.jid,
	})
	util.LogInfo("relay: %s disconnected", c.jid)
}

// route stamps the sender and delivers a stanza.
func (s *Server) route(from *client, st *protocol.Stanza) {
	st.From = from.jid

	if st.XMLName.Local == protocol.NamePresence && st.To == "" {
		s.mu.Lock()
		if st.Type == protocol.TypeUnavailable {
			from.presence = nil
		} else {
			from.presence = st
		}
		s.mu.Unlock()
		s.broadcast(from, st)
		return
	}

	targets := s.resolve(st.To)
	if len(targets) == 0 {
		util.Stats.AddDropped()
		util.LogDebug("relay: no route from %s to %q", from.jid, st.To)
		s.bounce(from, st)
		return
	}
	for _, c := range targets {
		if err := c.write(st); err != nil {
			util.LogWarning("relay: write to %s: %v", c.jid, err)
		}
	}
}

// resolve maps a destination to clients. A full JID matches exactly. A bare
// JID matches the resources with the highest presence priority; resources
// with a negative priority are never picked.
func (s *Server) resolve(to string) []*client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if to == "" {
		return nil
	}
	if protocol.Resource(to) != "" {
		if c, ok := s.clients[to]; ok {
			return []*client{c}
		}
		return nil
	}

	var out []*client
	best := 0
	for jid, c := range s.clients {
		if protocol.Bare(jid) != to {
			continue
		}
		p := c.priority()
		switch {
		case p < 0 || (len(out) > 0 && p < best):
		case len(out) == 0 || p > best:
			out, best = []*client{c}, p
		default:
			out = append(out, c)
		}
	}
	return out
}

// bounce answers an undeliverable request with a service-unavailable error.
func (s *Server) bounce(to *client, st *protocol.Stanza) {
	if st.XMLName.Local != protocol.NameIQ || (st.Type != protocol.TypeSet && st.Type != protocol.TypeGet) {
		return
	}
	_ = to.write(&protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NameIQ},
		ID:      st.ID,
		Type:    protocol.TypeError,
		From:    st.To,
		To:      to.jid,
		Error: &protocol.StanzaError{
			Type:       "cancel",
			Conditions: []protocol.Element{{XMLName: xml.Name{Local: "service-unavailable"}}},
		},
	})
}

func (s *Server) broadcast(from *client, st *protocol.Stanza) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(st); err != nil {
			util.LogWarning("relay: write to %s: %v", c.jid, err)
		}
	}
}

// replayPresences sends the newcomer the last presence of every other client.
func (s *Server) replayPresences(to *client) {
	s.mu.RLock()
	var known []*protocol.Stanza
	for _, c := range s.clients {
		if c != to && c.presence != nil {
			known = append(known, c.presence)
		}
	}
	s.mu.RUnlock()

	for _, st := range known {
		if err := to.write(st); err != nil {
			return
		}
	}
}

// generatePIN returns a random numeric string of length n.
func generatePIN(n int) string {
	pin := make([]byte, n)
	for i := range pin {
		num, _ := rand.Int(rand.Reader, big.NewInt(10))
		pin[i] = '0' + byte(num.Int64())
	}
	return string(pin)
}
