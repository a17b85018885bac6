package webrtc

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/jinglesig/internal/jingle"
)

// CandidateToInit converts a jingle candidate into the form accepted by
// PeerConnection.AddICECandidate.
func CandidateToInit(c jingle.Candidate, mid string, mline uint16) (webrtc.ICECandidateInit, error) {
	proto, err := webrtc.NewICEProtocol(strings.ToLower(c.Protocol))
	if err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("candidate %s: %w", c.ID, err)
	}
	typ, err := webrtc.NewICECandidateType(c.Type)
	if err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("candidate %s: %w", c.ID, err)
	}

	ic := webrtc.ICECandidate{
		StatsID:       c.ID,
		Foundation:    c.Foundation,
		Priority:      uint32(c.Priority),
		Address:       c.IP,
		Protocol:      proto,
		Port:          uint16(c.Port),
		Typ:           typ,
		Component:     uint16(c.Component),
		SDPMid:        mid,
		SDPMLineIndex: mline,
	}
	ci := ic.ToJSON()
	if strings.TrimPrefix(ci.Candidate, "candidate:") == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("candidate %s: cannot be marshaled", c.ID)
	}
	return ci, nil
}

// CandidateFromString parses an ICE candidate attribute, with or without
// the "candidate:" prefix. Generation and network are not carried by the
// attribute and are left zero.
func CandidateFromString(raw string) (jingle.Candidate, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "a=")
	raw = strings.TrimPrefix(raw, "candidate:")

	c, err := ice.UnmarshalCandidate(raw)
	if err != nil {
		return jingle.Candidate{}, fmt.Errorf("parse candidate %q: %w", raw, err)
	}
	return jingle.Candidate{
		Component:  int(c.Component()),
		Foundation: c.Foundation(),
		ID:         c.ID(),
		IP:         c.Address(),
		Port:       c.Port(),
		Priority:   int(c.Priority()),
		Protocol:   c.NetworkType().NetworkShort(),
		Type:       c.Type().String(),
	}, nil
}

// CandidateFromICE converts a locally gathered candidate, as delivered by
// PeerConnection.OnICECandidate.
func CandidateFromICE(c *webrtc.ICECandidate) (jingle.Candidate, error) {
	if c == nil {
		return jingle.Candidate{}, fmt.Errorf("nil candidate")
	}
	out, err := CandidateFromString(c.ToJSON().Candidate)
	if err != nil {
		return jingle.Candidate{}, err
	}
	if c.StatsID != "" {
		out.ID = c.StatsID
	}
	return out, nil
}
