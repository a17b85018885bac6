package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/negotiator"
	"github.com/1ureka/jinglesig/internal/roster"
	"github.com/1ureka/jinglesig/internal/signaling"
)

const waitTimeout = 2 * time.Second

// harness polls a client and keeps events not yet matched.
type harness struct {
	t    *testing.T
	c    *Client
	seen []events.Event
}

func (h *harness) waitMatch(desc string, match func(events.Event) bool) events.Event {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		for i, e := range h.seen {
			if match(e) {
				h.seen = append(h.seen[:i:i], h.seen[i+1:]...)
				return e
			}
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("%s: timed out waiting for %s", h.c.BoundJID(), desc)
		}
		h.seen = append(h.seen, h.c.Poll()...)
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) waitFor(kind events.Kind) events.Event {
	h.t.Helper()
	return h.waitMatch(kind.String(), func(e events.Event) bool { return e.Kind == kind })
}

func (h *harness) waitState(s events.ConnectionState) {
	h.t.Helper()
	h.waitMatch("state "+s.String(), func(e events.Event) bool {
		return e.Kind == events.ConnectionStateChanged && e.State == s
	})
}

func connect(t *testing.T, d Dialer, jid string, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, c: New(d, opts)}
	require.NoError(t, h.c.Connect(context.Background(), "relay", jid, "pw"))
	h.waitState(events.Connected)
	t.Cleanup(func() { h.c.Stop(context.Background()) })
	return h
}

func audioOffer() *jingle.Session {
	return &jingle.Session{Contents: []jingle.Content{{
		Name:     "audio",
		Media:    "audio",
		Payloads: []jingle.Payload{{ID: 111, Name: "opus", ClockRate: 48000}},
		Transport: jingle.ICETransport{
			Pwd:   "asd88fgpdd777uzjYhagZg",
			Ufrag: "8hhy",
			Candidates: []jingle.Candidate{{
				Component: 1, Foundation: "1", Generation: 0, ID: "el0747fg11",
				IP: "10.0.1.1", Network: 1, Port: 8998, Priority: 2130706431,
				Protocol: "udp", Type: "host",
			}},
		},
	}}}
}

func TestConnectEmitsStates(t *testing.T) {
	c := New(newHub(), DefaultOptions())
	assert.Equal(t, events.Disconnected, c.ConnectionState())

	require.NoError(t, c.Connect(context.Background(), "relay", "alice@example", "pw"))
	defer c.Stop(context.Background())

	evs := c.Poll()
	require.Len(t, evs, 2)
	assert.Equal(t, events.Connecting, evs[0].State)
	assert.Equal(t, events.Connected, evs[1].State)
	assert.Equal(t, events.Connected, c.ConnectionState())
	assert.Equal(t, "alice@example/test", c.BoundJID())

	assert.ErrorIs(t, c.Connect(context.Background(), "relay", "alice@example", "pw"), ErrAlreadyConnected)
}

func TestConnectFailure(t *testing.T) {
	hub := newHub()
	hub.refuse = errors.New("auth failed")
	c := New(hub, DefaultOptions())

	err := c.Connect(context.Background(), "relay", "alice@example", "pw")
	assert.ErrorIs(t, err, hub.refuse)
	assert.Equal(t, events.Disconnected, c.ConnectionState())

	var states []events.ConnectionState
	for _, e := range c.Poll() {
		states = append(states, e.State)
	}
	assert.Equal(t, []events.ConnectionState{events.Connecting, events.Disconnected}, states)
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	hub := newHub()
	release := make(chan struct{})
	dials := 0
	c := New(DialerFunc(func(ctx context.Context, host, jid, password string) (Conn, error) {
		dials++
		<-release
		return hub.Dial(ctx, host, jid, password)
	}), DefaultOptions())
	defer c.Stop(context.Background())

	first := make(chan error, 1)
	go func() { first <- c.Connect(context.Background(), "relay", "alice@example", "pw") }()

	require.Eventually(t, func() bool { return c.ConnectionState() == events.Connecting }, waitTimeout, 5*time.Millisecond)
	assert.ErrorIs(t, c.Connect(context.Background(), "relay", "alice@example", "pw"), ErrAlreadyConnected)

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, dials)
	assert.Equal(t, events.Connected, c.ConnectionState())
}

func TestOperationsNeedConnection(t *testing.T) {
	c := New(newHub(), DefaultOptions())

	_, err := c.InitiateRTP("bob@example", audioOffer())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.SendMessage("bob@example", "hi"), ErrNotConnected)
	assert.ErrorIs(t, c.AckHash("f1"), ErrNotConnected)
	assert.NoError(t, c.SetShow(roster.Away))
	assert.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, negotiator.Idle, c.JingleState("bob@example", "s1"))
}

func TestMediaCall(t *testing.T) {
	hub := newHub()
	alice := connect(t, hub, "alice@example", DefaultOptions())
	bob := connect(t, hub, "bob@example", DefaultOptions())

	offer := audioOffer()
	sid, err := alice.c.InitiateRTP("bob@example", offer)
	require.NoError(t, err)
	require.NotEmpty(t, sid)

	in := bob.waitFor(events.InitiationReceived)
	assert.Equal(t, "alice@example/test", in.Peer)
	assert.Equal(t, sid, in.SID)
	require.NotNil(t, in.Session)
	assert.Equal(t, offer.Contents, in.Session.Contents)

	alice.waitFor(events.InitiationAcknowledged)
	assert.Equal(t, negotiator.AwaitingAccept, alice.c.JingleState("bob@example", sid))

	require.NoError(t, bob.c.Ring(in.Peer, sid))
	alice.waitFor(events.Ring)
	require.NoError(t, alice.c.AckRing("bob@example", sid))
	bob.waitFor(events.RingAcknowledged)

	require.NoError(t, bob.c.AcceptRTPSession(in.Peer, sid, nil))
	assert.Equal(t, negotiator.Accepted, bob.c.JingleState(in.Peer, sid))

	acc := alice.waitFor(events.SessionAccepted)
	require.NotNil(t, acc.Session)
	assert.Equal(t, offer.Contents, acc.Session.Contents)
	assert.Equal(t, negotiator.Accepted, alice.c.JingleState("bob@example", sid))

	require.NoError(t, alice.c.TerminateSession("bob@example", sid, jingle.ReasonSuccess))
	local := alice.waitFor(events.Terminated)
	assert.True(t, local.Local)

	remote := bob.waitFor(events.Terminated)
	assert.False(t, remote.Local)
	assert.Equal(t, jingle.ReasonSuccess, remote.Reason)
	assert.Equal(t, negotiator.Idle, bob.c.JingleState(in.Peer, sid))
	assert.Equal(t, negotiator.Idle, alice.c.JingleState("bob@example", sid))
}

func TestMisuseIsLocal(t *testing.T) {
	hub := newHub()
	alice := connect(t, hub, "alice@example", DefaultOptions())

	err := alice.c.AcceptRTPSession("bob@example", "nope", nil)
	assert.ErrorIs(t, err, signaling.ErrUnknownSession)

	sid, err := alice.c.InitiateRTP("bob@example", audioOffer())
	require.NoError(t, err)
	_, err = alice.c.InitiateRTP("bob@example", &jingle.Session{SID: sid})
	assert.ErrorIs(t, err, signaling.ErrDuplicateSession)

	err = alice.c.AckRing("bob@example", sid)
	assert.ErrorIs(t, err, negotiator.ErrInvalidTransition)
}

func TestManualAck(t *testing.T) {
	hub := newHub()
	opts := DefaultOptions()
	opts.AutoAck = false
	alice := connect(t, hub, "alice@example", DefaultOptions())
	bob := connect(t, hub, "bob@example", opts)

	sid, err := alice.c.InitiateRTP("bob@example", audioOffer())
	require.NoError(t, err)

	in := bob.waitFor(events.InitiationReceived)
	assert.Equal(t, negotiator.Initiating, alice.c.JingleState("bob@example", sid))

	assert.ErrorIs(t, bob.c.Ring(in.Peer, sid), negotiator.ErrInvalidTransition)
	assert.ErrorIs(t, bob.c.AcceptRTPSession(in.Peer, sid, nil), negotiator.ErrInvalidTransition)
	assert.Equal(t, negotiator.Offered, bob.c.JingleState(in.Peer, sid))

	require.NoError(t, bob.c.Ack(in.Peer, sid))
	alice.waitFor(events.InitiationAcknowledged)
	assert.Error(t, bob.c.Ack(in.Peer, sid))

	require.NoError(t, bob.c.AcceptRTPSession(in.Peer, sid, nil))
	alice.waitFor(events.SessionAccepted)
}

func TestTransportFaultTerminatesSessions(t *testing.T) {
	hub := newHub()
	alice := connect(t, hub, "alice@example", DefaultOptions())
	bob := connect(t, hub, "bob@example", DefaultOptions())

	sid, err := alice.c.InitiateRTP("bob@example", audioOffer())
	require.NoError(t, err)
	in := bob.waitFor(events.InitiationReceived)

	hub.drop(bob.c.BoundJID())

	term := bob.waitFor(events.Terminated)
	assert.Equal(t, sid, term.SID)
	assert.Equal(t, jingle.ReasonUnknown, term.Reason)
	assert.False(t, term.Local)
	bob.waitState(events.Disconnected)

	assert.Equal(t, events.Disconnected, bob.c.ConnectionState())
	assert.Equal(t, negotiator.Idle, bob.c.JingleState(in.Peer, sid))
	assert.Empty(t, bob.c.Friends())
	assert.ErrorIs(t, bob.c.Ring(in.Peer, sid), ErrNotConnected)

	gone := alice.waitFor(events.UserDisconnected)
	assert.Equal(t, "bob@example/test", gone.Peer)

	require.NoError(t, bob.c.Connect(context.Background(), "relay", "bob@example", "pw"))
	bob.waitState(events.Connected)
}

func TestStopLeavesNothingBehind(t *testing.T) {
	hub := newHub()
	alice := connect(t, hub, "alice@example", DefaultOptions())
	bob := connect(t, hub, "bob@example", DefaultOptions())

	sid, err := alice.c.InitiateRTP("bob@example", audioOffer())
	require.NoError(t, err)
	bob.waitFor(events.InitiationReceived)

	require.NoError(t, alice.c.Stop(context.Background()))
	assert.Equal(t, events.Disconnected, alice.c.ConnectionState())
	assert.Equal(t, negotiator.Idle, alice.c.JingleState("bob@example", sid))
	assert.Empty(t, alice.c.Sessions())
	assert.Empty(t, alice.c.Friends())
	alice.waitState(events.Disconnected)

	gone := bob.waitFor(events.UserDisconnected)
	assert.Equal(t, "alice@example/test", gone.Peer)

	assert.NoError(t, alice.c.Stop(context.Background()))
}

func TestPresenceAndCapabilities(t *testing.T) {
	hub := newHub()
	alice := New(hub, DefaultOptions())
	require.NoError(t, alice.SetCapabilities("audio", "file"))
	require.NoError(t, alice.SetStatus("around"))
	require.NoError(t, alice.Connect(context.Background(), "relay", "alice@example", "pw"))
	defer alice.Stop(context.Background())

	bob := connect(t, hub, "bob@example", DefaultOptions())

	require.Eventually(t, func() bool {
		return len(bob.c.FriendsWithCapability("file")) == 1
	}, waitTimeout, 5*time.Millisecond)
	c := bob.c.Friends()[0]
	assert.Equal(t, "alice@example/test", c.FullJID())
	assert.Equal(t, "around", c.Status)

	require.NoError(t, alice.SetCapabilities("audio"))
	require.NoError(t, alice.SetShow(roster.Away))
	require.Eventually(t, func() bool {
		f := bob.c.Friends()
		return len(f) == 1 && f[0].Show == roster.Away && !f[0].HasCapability("file")
	}, waitTimeout, 5*time.Millisecond)
	assert.Len(t, bob.c.FriendsWithCapability("audio"), 1)
}

func TestMessagesThroughUpdate(t *testing.T) {
	hub := newHub()
	alice := connect(t, hub, "alice@example", DefaultOptions())
	bob := connect(t, hub, "bob@example", DefaultOptions())

	var got []events.Event
	bob.c.On(events.NewMessage, func(e events.Event) { got = append(got, e) })

	require.NoError(t, alice.c.SendMessage("bob@example", "hi"))
	require.Eventually(t, func() bool {
		bob.c.Update()
		return len(got) == 1
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, "hi", got[0].Body)
	assert.Equal(t, "alice@example/test", got[0].Peer)
	_, ok := bob.c.NextMessage()
	assert.False(t, ok, "Update consumes delivered messages")
}

func TestNextMessageIsFIFO(t *testing.T) {
	hub := newHub()
	alice := connect(t, hub, "alice@example", DefaultOptions())
	bob := connect(t, hub, "bob@example", DefaultOptions())

	require.NoError(t, alice.c.SendMessage("bob@example", "one"))
	require.NoError(t, alice.c.SendChatState("bob@example", roster.Composing))
	require.NoError(t, alice.c.SendMessage("bob@example", "two"))

	require.Eventually(t, func() bool { return bob.c.msgs.Len() == 2 }, waitTimeout, 5*time.Millisecond)

	first, ok := bob.c.NextMessage()
	require.True(t, ok)
	second, ok := bob.c.NextMessage()
	require.True(t, ok)
	assert.Equal(t, "one", first.Body)
	assert.Equal(t, "two", second.Body)
	assert.Equal(t, "alice@example/test", first.From)
}

func TestHashTimeout(t *testing.T) {
	hub := newHub()
	opts := DefaultOptions()
	opts.HashTimeout = 50 * time.Millisecond
	opts.HashCheckInterval = 10 * time.Millisecond
	alice := connect(t, hub, "alice@example", opts)
	bob := connect(t, hub, "bob@example", opts)

	sid, err := alice.c.InitiateFileTransfer("bob@example", &jingle.FileOffer{Name: "a.bin", Size: 10})
	require.NoError(t, err)
	in := bob.waitFor(events.FileInitiationReceived)
	require.NoError(t, bob.c.AcceptFileTransfer(in.Peer, sid, nil))
	acc := alice.waitFor(events.FileInitiationAccepted)

	for _, h := range []*harness{alice, bob} {
		ev := h.waitFor(events.HashTimeout)
		require.NotNil(t, ev.Hash)
		assert.Equal(t, acc.File.FID, ev.Hash.FID)
	}
	assert.Equal(t, negotiator.Accepted, alice.c.JingleState("bob@example", sid))
}
