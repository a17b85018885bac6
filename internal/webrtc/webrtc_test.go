package webrtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/jinglesig/internal/jingle"
)

func hostCandidate() jingle.Candidate {
	return jingle.Candidate{
		Component:  1,
		Foundation: "1",
		ID:         "el0747fg11",
		IP:         "10.0.1.1",
		Port:       8998,
		Priority:   2130706431,
		Protocol:   "udp",
		Type:       "host",
	}
}

// sameWire compares the fields an ICE candidate attribute carries.
func sameWire(t *testing.T, want, got jingle.Candidate) {
	t.Helper()
	assert.Equal(t, want.Component, got.Component)
	assert.Equal(t, want.Foundation, got.Foundation)
	assert.Equal(t, want.IP, got.IP)
	assert.Equal(t, want.Port, got.Port)
	assert.Equal(t, want.Priority, got.Priority)
	assert.Equal(t, want.Protocol, got.Protocol)
	assert.Equal(t, want.Type, got.Type)
}

func TestCandidateFromString(t *testing.T) {
	tests := []string{
		"candidate:1 1 udp 2130706431 10.0.1.1 8998 typ host",
		"1 1 udp 2130706431 10.0.1.1 8998 typ host",
		"a=candidate:1 1 UDP 2130706431 10.0.1.1 8998 typ host",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			c, err := CandidateFromString(raw)
			require.NoError(t, err)
			sameWire(t, hostCandidate(), c)
		})
	}

	_, err := CandidateFromString("not a candidate")
	assert.Error(t, err)
}

func TestCandidateToInit(t *testing.T) {
	ci, err := CandidateToInit(hostCandidate(), "audio", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ci.Candidate, "candidate:"))
	require.NotNil(t, ci.SDPMid)
	assert.Equal(t, "audio", *ci.SDPMid)

	back, err := CandidateFromString(ci.Candidate)
	require.NoError(t, err)
	sameWire(t, hostCandidate(), back)

	bad := hostCandidate()
	bad.Protocol = "sctp"
	_, err = CandidateToInit(bad, "audio", 0)
	assert.Error(t, err)
}

func TestCandidateFromICE(t *testing.T) {
	c, err := CandidateFromICE(&webrtc.ICECandidate{
		StatsID:    "gathered-1",
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.1.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       8998,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	require.NoError(t, err)
	sameWire(t, hostCandidate(), c)
	assert.Equal(t, "gathered-1", c.ID)

	_, err = CandidateFromICE(nil)
	assert.Error(t, err)
}

func TestSessionSDPRoundTrip(t *testing.T) {
	s := &jingle.Session{Contents: []jingle.Content{{
		Name:     "voice",
		Media:    "audio",
		Payloads: []jingle.Payload{{ID: 111, Name: "opus", ClockRate: 48000}, {ID: 0, Name: "PCMU", ClockRate: 8000}},
		Transport: jingle.ICETransport{
			Ufrag:      "8hhy",
			Pwd:        "asd88fgpdd777uzjYhagZg",
			Candidates: []jingle.Candidate{hostCandidate()},
		},
	}}}

	raw, err := SessionToSDP(s)
	require.NoError(t, err)
	assert.Contains(t, raw, "a=rtpmap:111 opus/48000")
	assert.Contains(t, raw, "a=ice-ufrag:8hhy")

	contents, warnings, err := ContentsFromSDP(raw)
	require.NoError(t, err)
	assert.Zero(t, warnings)
	require.Len(t, contents, 1)

	c := contents[0]
	assert.Equal(t, "voice", c.Name)
	assert.Equal(t, "audio", c.Media)
	assert.Equal(t, s.Contents[0].Payloads, c.Payloads)
	assert.Equal(t, "8hhy", c.Transport.Ufrag)
	assert.Equal(t, "asd88fgpdd777uzjYhagZg", c.Transport.Pwd)
	require.Len(t, c.Transport.Candidates, 1)
	sameWire(t, hostCandidate(), c.Transport.Candidates[0])
}

func TestContentsFromSDPCountsBadLines(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 1 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=ice-ufrag:sess\r\n" +
		"a=ice-pwd:sesspwd\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=mid:a\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=rtpmap:xx broken\r\n" +
		"a=candidate:garbage\r\n"

	contents, warnings, err := ContentsFromSDP(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, warnings)
	require.Len(t, contents, 1)
	assert.Equal(t, []jingle.Payload{{ID: 111, Name: "opus", ClockRate: 48000}}, contents[0].Payloads)
	assert.Equal(t, "sess", contents[0].Transport.Ufrag)
	assert.Equal(t, "sesspwd", contents[0].Transport.Pwd)
	assert.Empty(t, contents[0].Transport.Candidates)
}

func TestSessionToSDPNil(t *testing.T) {
	_, err := SessionToSDP(nil)
	assert.Error(t, err)
}

func TestGatherTransportHostOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr, err := GatherTransport(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.Ufrag)
	assert.NotEmpty(t, tr.Pwd)
}
