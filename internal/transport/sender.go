package transport

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/util"
)

const defaultSendQueueSize = 64 // outgoing stanza channel capacity

var (
	// ErrSendQueueFull is returned by Send when the outgoing queue is full.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrClosed is returned by Send after the connection is closed.
	ErrClosed = errors.New("connection closed")
	// ErrUnauthorized is returned by Dial when the relay rejects the
	// credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// sender is a goroutine-based stanza writer that serializes all writes to a
// single WebSocket connection.
type sender struct {
	inbox chan *protocol.Stanza
}

// newSender creates a sender and starts the background loop. The loop exits
// when ctx is cancelled or a write fails; fail is called with the write error.
func newSender(ctx context.Context, ws *websocket.Conn, size int, fail func(error)) *sender {
	if size <= 0 {
		size = defaultSendQueueSize
	}
	s := &sender{inbox: make(chan *protocol.Stanza, size)}

	go s.loop(ctx, ws, fail)

	return s
}

// loop is the single-writer goroutine.
func (s *sender) loop(ctx context.Context, ws *websocket.Conn, fail func(error)) {
	for {
		select {
		case st := <-s.inbox:
			data, err := protocol.Encode(st)
			if err != nil {
				util.LogError("dropping outbound %s %s: %v", st.XMLName.Local, st.ID, err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				fail(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a stanza without blocking.
func (s *sender) send(ctx context.Context, st *protocol.Stanza) error {
	select {
	case <-ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case s.inbox <- st:
		return nil
	default:
		return ErrSendQueueFull
	}
}
