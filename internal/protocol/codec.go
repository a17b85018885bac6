package protocol

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/1ureka/jinglesig/internal/jingle"
)

// Encode serializes a stanza for transmission.
func Encode(st *Stanza) ([]byte, error) {
	data, err := xml.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode %s stanza: %w", st.XMLName.Local, err)
	}
	return data, nil
}

// Decode deserializes one stanza.
func Decode(data []byte) (*Stanza, error) {
	var st Stanza
	if err := xml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode stanza: %w", err)
	}
	if st.XMLName.Local == "" {
		return nil, fmt.Errorf("decode stanza: missing element name")
	}
	return &st, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// EncodeTransport converts a transport description into its wire element.
// Candidates keep their input order and field values are written verbatim.
func EncodeTransport(t jingle.ICETransport) *Transport {
	out := &Transport{Pwd: t.Pwd, Ufrag: t.Ufrag}
	for _, c := range t.Candidates {
		out.Candidates = append(out.Candidates, Candidate{
			Component:  strconv.Itoa(c.Component),
			Foundation: c.Foundation,
			Generation: strconv.Itoa(c.Generation),
			ID:         c.ID,
			IP:         c.IP,
			Network:    strconv.Itoa(c.Network),
			Port:       strconv.Itoa(c.Port),
			Priority:   strconv.Itoa(c.Priority),
			Protocol:   c.Protocol,
			Type:       c.Type,
		})
	}
	return out
}

// DecodeTransport converts a wire transport into a transport description.
// Missing attributes decode to zero values. A candidate with a malformed
// numeric attribute is skipped; the number of skipped candidates is
// returned so callers can report it.
func DecodeTransport(t *Transport) (jingle.ICETransport, int) {
	if t == nil {
		return jingle.ICETransport{}, 0
	}

	out := jingle.ICETransport{Pwd: t.Pwd, Ufrag: t.Ufrag}
	warnings := 0
	for _, c := range t.Candidates {
		var p numParser
		cand := jingle.Candidate{
			Component:  p.int(c.Component),
			Foundation: c.Foundation,
			Generation: p.int(c.Generation),
			ID:         c.ID,
			IP:         c.IP,
			Network:    p.int(c.Network),
			Port:       p.int(c.Port),
			Priority:   p.int(c.Priority),
			Protocol:   c.Protocol,
			Type:       c.Type,
		}
		if p.bad {
			warnings++
			continue
		}
		out.Candidates = append(out.Candidates, cand)
	}
	return out, warnings
}

// numParser parses optional integer attributes and remembers whether any
// of them was malformed.
type numParser struct {
	bad bool
}

func (p *numParser) int(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.bad = true
		return 0
	}
	return n
}

func (p *numParser) int64(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.bad = true
		return 0
	}
	return n
}

// ---------------------------------------------------------------------------
// Media contents
// ---------------------------------------------------------------------------

// EncodeContents converts media contents into wire contents.
func EncodeContents(contents []jingle.Content, creator string) []Content {
	out := make([]Content, 0, len(contents))
	for _, c := range contents {
		desc := &RTPDescription{Media: c.Media}
		for _, p := range c.Payloads {
			desc.Payloads = append(desc.Payloads, PayloadType{
				ID:        strconv.Itoa(p.ID),
				Name:      p.Name,
				ClockRate: strconv.Itoa(p.ClockRate),
			})
		}
		out = append(out, Content{
			Creator:   creator,
			Name:      c.Name,
			RTP:       desc,
			Transport: EncodeTransport(c.Transport),
		})
	}
	return out
}

// DecodeContents converts wire contents into media contents. Malformed
// payload types and candidates are skipped and counted.
func DecodeContents(contents []Content) ([]jingle.Content, int) {
	var out []jingle.Content
	warnings := 0
	for _, c := range contents {
		jc := jingle.Content{Name: c.Name}
		if c.RTP != nil {
			jc.Media = c.RTP.Media
			for _, pt := range c.RTP.Payloads {
				var p numParser
				payload := jingle.Payload{
					ID:        p.int(pt.ID),
					Name:      pt.Name,
					ClockRate: p.int(pt.ClockRate),
				}
				if p.bad {
					warnings++
					continue
				}
				jc.Payloads = append(jc.Payloads, payload)
			}
		}
		var w int
		jc.Transport, w = DecodeTransport(c.Transport)
		warnings += w
		out = append(out, jc)
	}
	return out, warnings
}

// ---------------------------------------------------------------------------
// File transfer
// ---------------------------------------------------------------------------

// EncodeFileOffer converts a file offer into a wire content named after the
// file id.
func EncodeFileOffer(f *jingle.FileOffer, creator string) Content {
	file := File{
		Date: f.Date,
		Desc: f.Desc,
		Name: f.Name,
		Size: strconv.FormatInt(f.Size, 10),
	}
	if f.Hash != "" {
		algo := f.HashAlgo
		if algo == "" {
			algo = jingle.HashAlgoSHA1
		}
		file.Hash = &Hash{Algo: algo, Value: f.Hash}
	}
	return Content{
		Creator:   creator,
		Name:      f.FID,
		File:      &FileDescription{Offer: &FileOfferElement{File: file}},
		Transport: EncodeTransport(f.Transport),
	}
}

// DecodeFileOffer finds the first file-transfer content and converts it
// into a file offer. The boolean is false when no such content exists.
func DecodeFileOffer(contents []Content) (*jingle.FileOffer, int, bool) {
	for _, c := range contents {
		if c.File == nil {
			continue
		}
		f := &jingle.FileOffer{FID: c.Name}
		warnings := 0
		if c.File.Offer != nil {
			file := c.File.Offer.File
			var p numParser
			f.Name = file.Name
			f.Date = file.Date
			f.Desc = file.Desc
			f.Size = p.int64(file.Size)
			if p.bad {
				warnings++
			}
			if file.Hash != nil {
				f.Hash = strings.TrimSpace(file.Hash.Value)
				f.HashAlgo = file.Hash.Algo
			}
		}
		var w int
		f.Transport, w = DecodeTransport(c.Transport)
		return f, warnings + w, true
	}
	return nil, 0, false
}

// HasFileContent reports whether any content carries a file description.
func HasFileContent(contents []Content) bool {
	for _, c := range contents {
		if c.File != nil {
			return true
		}
	}
	return false
}

// EncodeChecksum converts a hash announcement into a checksum element.
func EncodeChecksum(h jingle.HashAnnouncement, creator string) *Checksum {
	algo := h.Algo
	if algo == "" {
		algo = jingle.HashAlgoSHA1
	}
	return &Checksum{
		Creator: creator,
		Name:    h.FID,
		File:    File{Hash: &Hash{Algo: algo, Value: h.Hash}},
	}
}

// DecodeChecksum converts a checksum element into a hash announcement.
func DecodeChecksum(sid, from string, c *Checksum) jingle.HashAnnouncement {
	h := jingle.HashAnnouncement{SID: sid, FID: c.Name, Peer: from}
	if c.File.Hash != nil {
		h.Hash = strings.TrimSpace(c.File.Hash.Value)
		h.Algo = c.File.Hash.Algo
	}
	return h
}

// ---------------------------------------------------------------------------
// Reason
// ---------------------------------------------------------------------------

// EncodeReason converts a terminate reason into its wire element.
func EncodeReason(r jingle.TerminateReason) *Reason {
	return &Reason{Conditions: []Element{{XMLName: xml.Name{Local: r.Condition()}}}}
}

// DecodeReason converts a wire reason into a terminate reason. A missing
// reason decodes as unknown.
func DecodeReason(r *Reason) jingle.TerminateReason {
	return jingle.ReasonFromCondition(r.Condition())
}
