// Package transport carries signaling stanzas over a WebSocket connection to
// a relay.
package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/util"
)

const (
	defaultInboundSize      = 64
	defaultHandshakeTimeout = 10 * time.Second
)

// Options tune a connection.
type Options struct {
	SendQueueSize    int
	InboundSize      int
	HandshakeTimeout time.Duration
}

// Conn is one authenticated stanza stream to a relay.
//
// Its lifecycle is governed by the WebSocket and the context passed to Dial:
// a read or write failure, Close, or cancelling ctx shuts it down.
type Conn struct {
	ws      *websocket.Conn
	sender  *sender
	inbound chan *protocol.Stanza
	jid     string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	err     error
	closing bool
}

// Dial connects to the relay at host, authenticates as jid and waits for the
// bind frame carrying the full JID assigned by the relay.
func Dial(ctx context.Context, host, jid, password string, opts Options) (*Conn, error) {
	wsURL, err := NormalizeURL(host)
	if err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.InboundSize <= 0 {
		opts.InboundSize = defaultInboundSize
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Basic "+basicAuth(jid, password))

	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", wsURL, ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	bound, err := readBind(ws, opts.HandshakeTimeout)
	if err != nil {
		ws.Close()
		return nil, err
	}

	cCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		ws:      ws,
		inbound: make(chan *protocol.Stanza, opts.InboundSize),
		jid:     bound,
		ctx:     cCtx,
		cancel:  cancel,
	}
	c.sender = newSender(cCtx, ws, opts.SendQueueSize, c.fail)

	go c.readLoop()
	go func() {
		<-cCtx.Done()
		ws.Close()
	}()

	util.LogDebug("connected to %s as %s", wsURL, bound)
	return c, nil
}

func readBind(ws *websocket.Conn, timeout time.Duration) (string, error) {
	ws.SetReadDeadline(time.Now().Add(timeout))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read bind: %w", err)
	}
	st, err := protocol.Decode(data)
	if err != nil {
		return "", fmt.Errorf("read bind: %w", err)
	}
	if st.XMLName.Local != protocol.NameBind || st.JID == "" {
		return "", fmt.Errorf("read bind: unexpected <%s>", st.XMLName.Local)
	}
	return st.JID, nil
}

func (c *Conn) readLoop() {
	defer close(c.inbound)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		st, err := protocol.Decode(data)
		if err != nil {
			util.Stats.AddDropped()
			util.LogWarning("undecodable frame: %v", err)
			continue
		}
		select {
		case c.inbound <- st:
		case <-c.ctx.Done():
			return
		}
	}
}

// fail records the first error and shuts the connection down.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closing && c.ctx.Err() == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// BoundJID returns the full JID assigned by the relay.
func (c *Conn) BoundJID() string {
	return c.jid
}

// Inbound returns the channel of decoded inbound stanzas. It is closed when
// the connection shuts down.
func (c *Conn) Inbound() <-chan *protocol.Stanza {
	return c.inbound
}

// Done returns a channel that is closed when the connection is shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the fault that shut the connection down, or nil after a clean
// Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and shuts the connection down.
func (c *Conn) Close() error {
	c.mu.Lock()
	done := c.closing || c.ctx.Err() != nil
	c.closing = true
	c.mu.Unlock()
	if done {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.cancel()
	return nil
}

// Send enqueues a stanza without blocking.
func (c *Conn) Send(st *protocol.Stanza) error {
	return c.sender.send(c.ctx, st)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// NormalizeURL turns a relay address into its WebSocket endpoint. A bare
// host:port defaults to ws.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay address: %s", raw)
	}
	scheme := "ws"
	switch u.Scheme {
	case "wss", "https":
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

func basicAuth(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}
