// Package app is the application-facing facade: it owns the connection, the
// background worker and the event queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/negotiator"
	"github.com/1ureka/jinglesig/internal/roster"
	"github.com/1ureka/jinglesig/internal/signaling"
	"github.com/1ureka/jinglesig/internal/util"
)

const (
	defaultStopTimeout       = 5 * time.Second
	defaultHashCheckInterval = time.Second
)

var (
	// ErrNotConnected is returned by operations that need a running worker.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect while a worker is running.
	ErrAlreadyConnected = errors.New("already connected")
)

// Options tune a Client.
type Options struct {
	AutoAck           bool
	HashTimeout       time.Duration
	HashCheckInterval time.Duration
	StopTimeout       time.Duration
}

// DefaultOptions acknowledges initiations automatically and waits for hash
// confirmations indefinitely.
func DefaultOptions() Options {
	return Options{
		AutoAck:     true,
		StopTimeout: defaultStopTimeout,
	}
}

// Client negotiates sessions over one signaling connection.
//
// A single worker goroutine owns the connection, the roster and every
// negotiation. Public operations submit closures to it and wait for their
// result. Events are queued until the application calls Poll or Update.
type Client struct {
	opts    Options
	dialer  Dialer
	queue   *events.Queue
	roster  *roster.Roster
	msgs    *roster.MessageQueue
	link    *link
	adapter *signaling.Adapter

	mu         sync.Mutex
	state      events.ConnectionState
	presence   signaling.Presence
	connecting bool // a Connect is dialing
	cmds       chan func()
	cancel     context.CancelFunc
	done       chan struct{}

	lmu       sync.Mutex
	listeners map[events.Kind][]func(events.Event)
}

// New creates a disconnected client.
func New(dialer Dialer, opts Options) *Client {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.HashCheckInterval <= 0 {
		opts.HashCheckInterval = defaultHashCheckInterval
	}

	c := &Client{
		opts:      opts,
		dialer:    dialer,
		queue:     &events.Queue{},
		roster:    roster.New(),
		msgs:      &roster.MessageQueue{},
		link:      &link{},
		listeners: make(map[events.Kind][]func(events.Event)),
	}
	c.adapter = signaling.New(c.link, c.queue, c.roster, c.msgs, signaling.Options{
		AutoAck:     opts.AutoAck,
		HashTimeout: opts.HashTimeout,
	})
	return c
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect dials host as jid and starts the worker. Failures are reported
// both as the returned error and as a transition back to Disconnected.
func (c *Client) Connect(ctx context.Context, host, jid, password string) error {
	c.mu.Lock()
	if c.done != nil || c.connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.setStateLocked(events.Connecting)
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, host, jid, password)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.setStateLocked(events.Disconnected)
		c.mu.Unlock()
		util.LogError("connect %s as %s: %v", host, jid, err)
		return fmt.Errorf("connect: %w", err)
	}

	c.link.conn = conn
	c.adapter.SetSelf(conn.BoundJID())

	wctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cmds = make(chan func())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.connecting = false
	presence := c.presence
	c.setStateLocked(events.Connected)
	cmds, done := c.cmds, c.done
	c.mu.Unlock()

	if err := c.adapter.SendPresence(presence); err != nil {
		util.LogWarning("initial presence: %v", err)
	}
	util.LogSuccess("connected as %s", conn.BoundJID())

	go c.run(wctx, conn, cmds, done)
	return nil
}

// RequestStop asks the worker to exit without waiting for it.
func (c *Client) RequestStop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop requests shutdown and waits for the worker to exit, bounded by ctx
// and the configured stop timeout. Stopping a disconnected client is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	c.RequestStop()

	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("stop: worker did not exit within %s", c.opts.StopTimeout)
	}
}

// run is the worker loop. It is the only goroutine that mutates the roster
// and the negotiations while connected.
func (c *Client) run(ctx context.Context, conn Conn, cmds chan func(), done chan struct{}) {
	var tick <-chan time.Time
	if c.opts.HashTimeout > 0 {
		ticker := time.NewTicker(c.opts.HashCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer c.finish(conn, done)

	for {
		select {
		case st, ok := <-conn.Inbound():
			if !ok {
				c.fault(conn)
				return
			}
			c.adapter.Handle(st)

		case <-conn.Done():
			c.fault(conn)
			return

		case fn := <-cmds:
			fn()

		case now := <-tick:
			if n := c.adapter.ExpireHashes(now); n > 0 {
				util.LogWarning("%d hash exchange(s) timed out", n)
			}

		case <-ctx.Done():
			if err := c.adapter.SendUnavailable(); err != nil {
				util.LogDebug("unavailable presence: %v", err)
			}
			c.adapter.Reset()
			return
		}
	}
}

// fault force-terminates every negotiation after the connection dropped.
func (c *Client) fault(conn Conn) {
	if err := conn.Err(); err != nil {
		util.LogError("connection lost: %v", err)
	} else {
		util.LogWarning("connection closed")
	}
	c.adapter.Fail()
}

func (c *Client) finish(conn Conn, done chan struct{}) {
	conn.Close()
	c.roster.Clear()

	c.mu.Lock()
	c.link.conn = nil
	c.cmds = nil
	c.cancel = nil
	c.done = nil
	c.setStateLocked(events.Disconnected)
	c.mu.Unlock()

	close(done)
	util.LogInfo("disconnected")
}

func (c *Client) setStateLocked(s events.ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.queue.Push(events.Event{Kind: events.ConnectionStateChanged, State: s})
}

// submit runs fn on the worker and returns its result.
func (c *Client) submit(fn func() error) error {
	c.mu.Lock()
	cmds, done := c.cmds, c.done
	c.mu.Unlock()
	if done == nil {
		return ErrNotConnected
	}

	reply := make(chan error, 1)
	select {
	case cmds <- func() { reply <- fn() }:
	case <-done:
		return ErrNotConnected
	}
	return <-reply
}

// ---------------------------------------------------------------------------
// Presence and chat
// ---------------------------------------------------------------------------

// SetShow sets the local show-state.
func (c *Client) SetShow(s roster.ShowState) error {
	return c.updatePresence(func(p *signaling.Presence) { p.Show = s })
}

// SetStatus sets the local status text.
func (c *Client) SetStatus(status string) error {
	return c.updatePresence(func(p *signaling.Presence) { p.Status = status })
}

// SetCapabilities sets the capability tags advertised to contacts.
func (c *Client) SetCapabilities(tags ...string) error {
	return c.updatePresence(func(p *signaling.Presence) {
		p.Capabilities = append([]string(nil), tags...)
	})
}

// SetPriority sets the local presence priority.
func (c *Client) SetPriority(priority int) error {
	return c.updatePresence(func(p *signaling.Presence) { p.Priority = priority })
}

// updatePresence changes the local presence and broadcasts it when
// connected.
func (c *Client) updatePresence(change func(*signaling.Presence)) error {
	c.mu.Lock()
	change(&c.presence)
	p := c.presence
	connected := c.done != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.submit(func() error { return c.adapter.SendPresence(p) })
}

// SendMessage sends a chat message to a contact.
func (c *Client) SendMessage(to, body string) error {
	return c.submit(func() error { return c.adapter.SendMessage(to, body) })
}

// SendChatState notifies a contact of the local chat state.
func (c *Client) SendChatState(to string, s roster.ChatState) error {
	return c.submit(func() error { return c.adapter.SendChatState(to, s) })
}

// Friends returns every known contact.
func (c *Client) Friends() []roster.Contact {
	return c.roster.Snapshot()
}

// FriendsWithCapability returns the contacts advertising tag.
func (c *Client) FriendsWithCapability(tag string) []roster.Contact {
	return c.roster.WithCapability(tag)
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BoundJID returns the full JID assigned at connect time.
func (c *Client) BoundJID() string {
	return c.adapter.Self()
}

// NextMessage pops the oldest unread chat message.
func (c *Client) NextMessage() (roster.ChatMessage, bool) {
	return c.msgs.Pop()
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// JingleState returns the negotiation state of a session.
func (c *Client) JingleState(peer, sid string) negotiator.State {
	return c.adapter.State(peer, sid)
}

// Sessions returns a snapshot of every active negotiation.
func (c *Client) Sessions() []signaling.SessionInfo {
	return c.adapter.Sessions()
}

// InitiateRTP offers a media session to peer and returns its session id.
func (c *Client) InitiateRTP(peer string, sess *jingle.Session) (string, error) {
	var sid string
	err := c.submit(func() error {
		var err error
		sid, err = c.adapter.Initiate(peer, sess)
		return err
	})
	return sid, err
}

// Ack acknowledges an inbound media or file initiation.
func (c *Client) Ack(peer, sid string) error {
	return c.submit(func() error { return c.adapter.Ack(peer, sid) })
}

// Ring alerts the initiator of a media session.
func (c *Client) Ring(peer, sid string) error {
	return c.submit(func() error { return c.adapter.Ring(peer, sid) })
}

// AckRing acknowledges the peer's ringing indication.
func (c *Client) AckRing(peer, sid string) error {
	return c.submit(func() error { return c.adapter.AckRing(peer, sid) })
}

// AcceptRTPSession accepts an offered media session. A nil session accepts
// the offer unchanged.
func (c *Client) AcceptRTPSession(peer, sid string, sess *jingle.Session) error {
	return c.submit(func() error { return c.adapter.Accept(peer, sid, sess) })
}

// TerminateSession ends a media or file session.
func (c *Client) TerminateSession(peer, sid string, reason jingle.TerminateReason) error {
	return c.submit(func() error { return c.adapter.Terminate(peer, sid, reason) })
}

// SendTransportInfo sends additional candidates for an active session.
func (c *Client) SendTransportInfo(peer, sid string, contents []jingle.Content) error {
	return c.submit(func() error { return c.adapter.SendTransportInfo(peer, sid, contents) })
}

// InitiateFileTransfer offers a file to peer and returns the session id.
func (c *Client) InitiateFileTransfer(peer string, offer *jingle.FileOffer) (string, error) {
	var sid string
	err := c.submit(func() error {
		var err error
		sid, err = c.adapter.InitiateFile(peer, offer)
		return err
	})
	return sid, err
}

// AcceptFileTransfer accepts an offered file. A nil offer accepts it
// unchanged.
func (c *Client) AcceptFileTransfer(peer, sid string, offer *jingle.FileOffer) error {
	return c.submit(func() error { return c.adapter.AcceptFile(peer, sid, offer) })
}

// SendFileHash announces the hash of a transferred file.
func (c *Client) SendFileHash(peer string, h jingle.HashAnnouncement) error {
	return c.submit(func() error { return c.adapter.SendHash(peer, h) })
}

// AckHash acknowledges a received file hash.
func (c *Client) AckHash(fid string) error {
	return c.submit(func() error { return c.adapter.AckHash(fid) })
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Poll returns every queued event in order.
func (c *Client) Poll() []events.Event {
	return c.queue.Drain()
}

// On registers fn for events of kind. Listeners run inside Update.
func (c *Client) On(kind events.Kind, fn func(events.Event)) {
	c.lmu.Lock()
	c.listeners[kind] = append(c.listeners[kind], fn)
	c.lmu.Unlock()
}

// Update dispatches every queued event to the registered listeners and
// returns how many were dispatched. Chat messages delivered this way are
// removed from the message queue.
func (c *Client) Update() int {
	evs := c.queue.Drain()
	for _, e := range evs {
		if e.Kind == events.NewMessage {
			c.msgs.Pop()
		}

		c.lmu.Lock()
		fns := append(([]func(events.Event))(nil), c.listeners[e.Kind]...)
		c.lmu.Unlock()

		for _, fn := range fns {
			fn(e)
		}
	}
	return len(evs)
}

