package transport

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/jinglesig/internal/protocol"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"127.0.0.1:5280", "ws://127.0.0.1:5280/ws", true},
		{"ws://relay.example:80/other", "ws://relay.example:80/ws", true},
		{"wss://relay.example", "wss://relay.example/ws", true},
		{"https://relay.example", "wss://relay.example/ws", true},
		{"  relay.example  ", "ws://relay.example/ws", true},
		{"", "", false},
		{"ws://", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// echoServer binds every client to jid and echoes frames back.
func echoServer(t *testing.T, jid string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || pass != "secret" || user == "" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		bind, _ := protocol.Encode(&protocol.Stanza{XMLName: xml.Name{Local: protocol.NameBind}, JID: jid})
		if err := ws.WriteMessage(websocket.TextMessage, bind); err != nil {
			return
		}
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func receive(t *testing.T, c *Conn) *protocol.Stanza {
	t.Helper()
	select {
	case st, ok := <-c.Inbound():
		require.True(t, ok, "inbound closed")
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stanza")
		return nil
	}
}

func TestDialBindAndEcho(t *testing.T) {
	srv := echoServer(t, "alice@example/laptop")

	c, err := Dial(context.Background(), hostOf(srv), "alice@example", "secret", Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "alice@example/laptop", c.BoundJID())

	require.NoError(t, c.Send(&protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NameMessage},
		Type:    protocol.TypeChat,
		To:      "bob@example",
		Body:    "hello",
	}))

	st := receive(t, c)
	assert.Equal(t, protocol.NameMessage, st.XMLName.Local)
	assert.Equal(t, "hello", st.Body)
	assert.Equal(t, "bob@example", st.To)
}

func TestDialUnauthorized(t *testing.T) {
	srv := echoServer(t, "alice@example/laptop")

	_, err := Dial(context.Background(), hostOf(srv), "alice@example", "wrong", Options{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDialRejectsMissingBind(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(`<message type="chat"><body>hi</body></message>`))
		ws.ReadMessage()
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), hostOf(srv), "alice@example", "x", Options{HandshakeTimeout: time.Second})
	assert.ErrorContains(t, err, "read bind")
}

func TestCloseShutsDown(t *testing.T) {
	srv := echoServer(t, "alice@example/laptop")

	c, err := Dial(context.Background(), hostOf(srv), "alice@example", "secret", Options{})
	require.NoError(t, err)

	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
	assert.NoError(t, c.Err())
	assert.ErrorIs(t, c.Send(&protocol.Stanza{XMLName: xml.Name{Local: protocol.NamePresence}}), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestServerDropIsAFault(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		bind, _ := protocol.Encode(&protocol.Stanza{XMLName: xml.Name{Local: protocol.NameBind}, JID: "a@b/c"})
		ws.WriteMessage(websocket.TextMessage, bind)
		ws.Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), hostOf(srv), "a@b", "x", Options{})
	require.NoError(t, err)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
	assert.Error(t, c.Err())
}
