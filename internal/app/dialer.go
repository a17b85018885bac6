package app

import (
	"context"

	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/transport"
)

// Conn is an established stanza stream. *transport.Conn satisfies it.
type Conn interface {
	Send(st *protocol.Stanza) error
	Inbound() <-chan *protocol.Stanza
	Done() <-chan struct{}
	Err() error
	BoundJID() string
	Close() error
}

// Dialer opens a Conn for jid.
type Dialer interface {
	Dial(ctx context.Context, host, jid, password string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, host, jid, password string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, host, jid, password string) (Conn, error) {
	return f(ctx, host, jid, password)
}

// WebSocketDialer dials a relay over WebSocket.
func WebSocketDialer(opts transport.Options) Dialer {
	return DialerFunc(func(ctx context.Context, host, jid, password string) (Conn, error) {
		c, err := transport.Dial(ctx, host, jid, password, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// link forwards outbound stanzas to the current connection.
type link struct {
	conn Conn
}

func (l *link) Send(st *protocol.Stanza) error {
	if l.conn == nil {
		return ErrNotConnected
	}
	return l.conn.Send(st)
}
