package roster

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/jinglesig/internal/protocol"
)

func presence(from, show, status, priority, ext string) *protocol.Stanza {
	st := &protocol.Stanza{
		XMLName:  xml.Name{Local: protocol.NamePresence},
		From:     from,
		Show:     show,
		Status:   status,
		Priority: priority,
	}
	if ext != "" {
		st.Caps = &protocol.Caps{Ext: ext}
	}
	return st
}

func TestContactFromPresence(t *testing.T) {
	testCases := []struct {
		name string
		st   *protocol.Stanza
		want Contact
	}{
		{
			name: "full presence",
			st:   presence("bob@example/phone", "dnd", "in a meeting", "5", "voice-v1 video-v1"),
			want: Contact{
				JID: "bob@example", Resource: "phone", Status: "in a meeting",
				Show: DoNotDisturb, Priority: 5, Capabilities: []string{"voice-v1", "video-v1"},
			},
		},
		{
			name: "chat show is available",
			st:   presence("bob@example/pc", "chat", "", "", ""),
			want: Contact{JID: "bob@example", Resource: "pc", Show: Available},
		},
		{
			name: "bad priority",
			st:   presence("bob@example", "xa", "", "high", ""),
			want: Contact{JID: "bob@example", Show: ExtendedAway},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ContactFromPresence(tc.st))
		})
	}
}

func TestRosterUpdateRemove(t *testing.T) {
	r := New()

	assert.True(t, r.Update(Contact{JID: "bob@example", Resource: "phone", Capabilities: []string{"voice-v1"}}))
	assert.True(t, r.Update(Contact{JID: "bob@example", Resource: "pc"}))
	assert.True(t, r.Update(Contact{JID: "carol@example", Resource: "pc", Capabilities: []string{"voice-v1", "ft"}}))
	assert.False(t, r.Update(Contact{JID: "bob@example", Resource: "pc", Status: "back"}))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "bob@example/pc", snap[0].FullJID())
	assert.Equal(t, "back", snap[0].Status)

	voice := r.WithCapability("voice-v1")
	require.Len(t, voice, 2)
	assert.Equal(t, "bob@example/phone", voice[0].FullJID())
	assert.Equal(t, "carol@example/pc", voice[1].FullJID())

	removed := r.Remove("bob@example")
	assert.Len(t, removed, 2)
	assert.Len(t, r.Snapshot(), 1)

	assert.Empty(t, r.Remove("nobody@example/x"))
	assert.Len(t, r.Remove("carol@example/pc"), 1)
	assert.Empty(t, r.Snapshot())
}

func TestRosterSnapshotIsCopy(t *testing.T) {
	r := New()
	r.Update(Contact{JID: "bob@example", Capabilities: []string{"a"}})

	snap := r.Snapshot()
	snap[0].Capabilities[0] = "changed"

	c, ok := r.Get("bob@example")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, c.Capabilities)
}

func TestChatStateSurvivesPresence(t *testing.T) {
	r := New()
	r.Update(Contact{JID: "bob@example", Resource: "pc"})
	assert.True(t, r.SetChatState("bob@example/pc", Composing))
	assert.False(t, r.SetChatState("bob@example/other", Composing))

	r.Update(Contact{JID: "bob@example", Resource: "pc", Status: "new"})
	c, _ := r.Get("bob@example/pc")
	assert.Equal(t, Composing, c.ChatState)
}

func TestParseChatState(t *testing.T) {
	for _, s := range []ChatState{Active, Inactive, Gone, Composing, Paused} {
		got, ok := ParseChatState(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseChatState("dancing")
	assert.False(t, ok)
}

func TestShowWire(t *testing.T) {
	for _, s := range []ShowState{Available, Away, DoNotDisturb, ExtendedAway} {
		assert.Equal(t, s, ParseShow(s.Wire()))
	}
}

func TestMessageQueueFIFO(t *testing.T) {
	var q MessageQueue
	for _, body := range []string{"one", "two", "three"} {
		q.Push(ChatMessage{From: "bob@example", Type: "chat", Body: body})
	}
	assert.Equal(t, 3, q.Len())

	var got []string
	for {
		m, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, m.Body)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.Zero(t, q.Len())
}
