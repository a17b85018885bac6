package webrtc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/1ureka/jinglesig/internal/jingle"
)

var rtpProtos = []string{"UDP", "TLS", "RTP", "SAVPF"}

// SessionToSDP renders a media session as an SDP offer for an external RTP
// stack. Each content becomes one media section identified by its name.
func SessionToSDP(s *jingle.Session) (string, error) {
	if s == nil {
		return "", fmt.Errorf("session to sdp: nil session")
	}

	sd, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return "", err
	}

	for i, c := range s.Contents {
		media := c.Media
		if media == "" {
			media = c.Name
		}
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:  media,
				Port:   sdp.RangedPort{Value: 9},
				Protos: rtpProtos,
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			},
		}
		md.WithValueAttribute("mid", c.Name)
		for _, p := range c.Payloads {
			md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(p.ID))
			md.WithValueAttribute("rtpmap", fmt.Sprintf("%d %s/%d", p.ID, p.Name, p.ClockRate))
		}
		if c.Transport.Ufrag != "" || c.Transport.Pwd != "" {
			md.WithICECredentials(c.Transport.Ufrag, c.Transport.Pwd)
		}
		for _, cand := range c.Transport.Candidates {
			ci, err := CandidateToInit(cand, c.Name, uint16(i))
			if err != nil {
				return "", err
			}
			md.WithCandidate(strings.TrimPrefix(ci.Candidate, "candidate:"))
		}
		sd.WithMedia(md)
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ContentsFromSDP extracts contents from an SDP blob. Malformed rtpmap and
// candidate lines are skipped and counted in the returned warning total.
func ContentsFromSDP(raw string) ([]jingle.Content, int, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, 0, fmt.Errorf("parse sdp: %w", err)
	}

	sessionUfrag, _ := sd.Attribute("ice-ufrag")
	sessionPwd, _ := sd.Attribute("ice-pwd")

	var contents []jingle.Content
	warnings := 0
	for _, md := range sd.MediaDescriptions {
		c := jingle.Content{
			Name:  md.MediaName.Media,
			Media: md.MediaName.Media,
			Transport: jingle.ICETransport{
				Ufrag: sessionUfrag,
				Pwd:   sessionPwd,
			},
		}
		if mid, ok := md.Attribute("mid"); ok && mid != "" {
			c.Name = mid
		}

		for _, a := range md.Attributes {
			switch a.Key {
			case "ice-ufrag":
				c.Transport.Ufrag = a.Value
			case "ice-pwd":
				c.Transport.Pwd = a.Value
			case "rtpmap":
				p, ok := parseRTPMap(a.Value)
				if !ok {
					warnings++
					continue
				}
				c.Payloads = append(c.Payloads, p)
			case "candidate":
				cand, err := CandidateFromString(a.Value)
				if err != nil {
					warnings++
					continue
				}
				c.Transport.Candidates = append(c.Transport.Candidates, cand)
			}
		}
		contents = append(contents, c)
	}
	return contents, warnings, nil
}

// parseRTPMap parses "<pt> <name>/<clock>[/<channels>]".
func parseRTPMap(v string) (jingle.Payload, bool) {
	pt, rest, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok {
		return jingle.Payload{}, false
	}
	id, err := strconv.Atoi(pt)
	if err != nil {
		return jingle.Payload{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return jingle.Payload{}, false
	}
	clock, err := strconv.Atoi(parts[1])
	if err != nil {
		return jingle.Payload{}, false
	}
	return jingle.Payload{ID: id, Name: parts[0], ClockRate: clock}, true
}
