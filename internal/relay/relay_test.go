package relay

import (
	"context"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/jinglesig/internal/protocol"
	"github.com/1ureka/jinglesig/internal/transport"
)

func startRelay(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer("1234", false)
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, addr
}

func dial(t *testing.T, addr, jid string) *transport.Conn {
	t.Helper()
	c, err := transport.Dial(context.Background(), addr, jid, "1234", transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func receive(t *testing.T, c *transport.Conn) *protocol.Stanza {
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

func silent(t *testing.T, c *transport.Conn) {
	t.Helper()
	select {
	case st := <-c.Inbound():
		t.Fatalf("unexpected %s from %s", st.XMLName.Local, st.From)
	case <-time.After(100 * time.Millisecond):
	}
}

func message(to, body string) *protocol.Stanza {
	return &protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NameMessage},
		Type:    protocol.TypeChat,
		To:      to,
		Body:    body,
	}
}

func TestBindAssignsResource(t *testing.T) {
	s, addr := startRelay(t)

	a := dial(t, addr, "alice@example")
	b := dial(t, addr, "bob@example/phone")
	dup := dial(t, addr, "bob@example/phone")

	assert.True(t, strings.HasPrefix(a.BoundJID(), "alice@example/"))
	assert.Equal(t, "bob@example/phone", b.BoundJID())
	assert.NotEqual(t, b.BoundJID(), dup.BoundJID())
	assert.Equal(t, "bob@example", protocol.Bare(dup.BoundJID()))
	assert.Len(t, s.Online(), 3)
}

func TestRejectsWrongPassword(t *testing.T) {
	_, addr := startRelay(t)

	_, err := transport.Dial(context.Background(), addr, "alice@example", "nope", transport.Options{})
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
}

func TestRouting(t *testing.T) {
	_, addr := startRelay(t)

	alice := dial(t, addr, "alice@example/laptop")
	phone := dial(t, addr, "bob@example/phone")
	desk := dial(t, addr, "bob@example/desk")

	t.Run("full JID", func(t *testing.T) {
		require.NoError(t, alice.Send(message("bob@example/phone", "one")))
		st := receive(t, phone)
		assert.Equal(t, "one", st.Body)
		assert.Equal(t, "alice@example/laptop", st.From)
		silent(t, desk)
	})

	t.Run("bare JID", func(t *testing.T) {
		require.NoError(t, alice.Send(message("bob@example", "all")))
		assert.Equal(t, "all", receive(t, phone).Body)
		assert.Equal(t, "all", receive(t, desk).Body)
	})

	t.Run("from is stamped", func(t *testing.T) {
		m := message("alice@example/laptop", "spoof")
		m.From = "mallory@example/x"
		require.NoError(t, phone.Send(m))
		assert.Equal(t, "bob@example/phone", receive(t, alice).From)
	})
}

func TestBareJIDPrefersHighestPriority(t *testing.T) {
	_, addr := startRelay(t)

	alice := dial(t, addr, "alice@example/laptop")
	phone := dial(t, addr, "bob@example/phone")
	desk := dial(t, addr, "bob@example/desk")

	require.NoError(t, desk.Send(&protocol.Stanza{
		XMLName:  xml.Name{Local: protocol.NamePresence},
		Priority: "5",
	}))
	assert.Equal(t, "bob@example/desk", receive(t, alice).From)
	assert.Equal(t, "bob@example/desk", receive(t, phone).From)

	require.NoError(t, alice.Send(message("bob@example", "hello")))
	assert.Equal(t, "hello", receive(t, desk).Body)
	silent(t, phone)

	require.NoError(t, desk.Send(&protocol.Stanza{
		XMLName:  xml.Name{Local: protocol.NamePresence},
		Priority: "-1",
	}))
	receive(t, alice)
	receive(t, phone)

	require.NoError(t, alice.Send(message("bob@example", "again")))
	assert.Equal(t, "again", receive(t, phone).Body)
	silent(t, desk)
}

func TestUnroutableRequestBounces(t *testing.T) {
	_, addr := startRelay(t)
	alice := dial(t, addr, "alice@example/laptop")

	require.NoError(t, alice.Send(&protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NameIQ},
		ID:      "q1",
		Type:    protocol.TypeSet,
		To:      "nobody@example/x",
		Jingle:  &protocol.Jingle{Action: protocol.ActionSessionInitiate, SID: "s1"},
	}))

	st := receive(t, alice)
	assert.Equal(t, protocol.TypeError, st.Type)
	assert.Equal(t, "q1", st.ID)
	require.NotNil(t, st.Error)
	require.NotEmpty(t, st.Error.Conditions)
	assert.Equal(t, "service-unavailable", st.Error.Conditions[0].XMLName.Local)

	// Messages are dropped silently.
	require.NoError(t, alice.Send(message("nobody@example", "hi")))
	silent(t, alice)
}

func TestPresenceBroadcastAndReplay(t *testing.T) {
	_, addr := startRelay(t)

	alice := dial(t, addr, "alice@example/laptop")
	bob := dial(t, addr, "bob@example/phone")

	require.NoError(t, alice.Send(&protocol.Stanza{
		XMLName: xml.Name{Local: protocol.NamePresence},
		Show:    "away",
		Status:  "lunch",
	}))
	st := receive(t, bob)
	assert.Equal(t, protocol.NamePresence, st.XMLName.Local)
	assert.Equal(t, "alice@example/laptop", st.From)
	assert.Equal(t, "lunch", st.Status)
	silent(t, alice)

	carol := dial(t, addr, "carol@example/tab")
	st = receive(t, carol)
	assert.Equal(t, "alice@example/laptop", st.From)
	assert.Equal(t, "away", st.Show)
}

func TestDisconnectBroadcastsUnavailable(t *testing.T) {
	_, addr := startRelay(t)

	alice := dial(t, addr, "alice@example/laptop")
	bob := dial(t, addr, "bob@example/phone")

	require.NoError(t, alice.Close())

	st := receive(t, bob)
	assert.Equal(t, protocol.NamePresence, st.XMLName.Local)
	assert.Equal(t, protocol.TypeUnavailable, st.Type)
	assert.Equal(t, "alice@example/laptop", st.From)
}

func TestGeneratedPassword(t *testing.T) {
	s := NewServer("", false)
	assert.Len(t, s.Password(), 6)
	for _, r := range s.Password() {
		assert.True(t, r >= '0' && r <= '9')
	}
	assert.Equal(t, "x", NewServer("x", false).Password())
}
