// Package jingle defines the session descriptions exchanged during a
// Jingle negotiation: media contents with their codecs and ICE transports,
// file-transfer offers, and hash announcements.
package jingle

// Kind identifies the payload shape carried by a negotiation.
type Kind int

const (
	KindMedia Kind = iota
	KindFileTransfer
)

func (k Kind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindFileTransfer:
		return "file-transfer"
	default:
		return "unknown"
	}
}

// Description is the payload of a negotiation. It is implemented by
// *Session and *FileOffer.
type Description interface {
	Kind() Kind
	SessionID() string
	PeerJID() string
}

// Payload is one RTP payload type. IDs are typically in the dynamic range 96-127.
type Payload struct {
	ID        int
	Name      string
	ClockRate int
}

// Candidate is one ICE candidate as carried on the wire. Priority and
// Generation are echoed back verbatim and never interpreted here.
type Candidate struct {
	Component  int
	Foundation string
	Generation int
	ID         string
	IP         string
	Network    int
	Port       int
	Priority   int
	Protocol   string
	Type       string
}

// ICETransport holds the ICE credentials and candidates of one content.
type ICETransport struct {
	Pwd        string
	Ufrag      string
	Candidates []Candidate
}

// Clone returns a deep copy of the transport.
func (t ICETransport) Clone() ICETransport {
	out := t
	if t.Candidates != nil {
		out.Candidates = append([]Candidate(nil), t.Candidates...)
	}
	return out
}

// Content is one media stream of a session.
type Content struct {
	Name      string
	Media     string
	Payloads  []Payload
	Transport ICETransport
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	out := c
	if c.Payloads != nil {
		out.Payloads = append([]Payload(nil), c.Payloads...)
	}
	out.Transport = c.Transport.Clone()
	return out
}

// Session describes a media session initiation or acceptance.
type Session struct {
	Peer     string
	SID      string
	Contents []Content
}

func (s *Session) Kind() Kind        { return KindMedia }
func (s *Session) SessionID() string { return s.SID }
func (s *Session) PeerJID() string   { return s.Peer }

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{Peer: s.Peer, SID: s.SID}
	if s.Contents != nil {
		out.Contents = make([]Content, len(s.Contents))
		for i, c := range s.Contents {
			out.Contents[i] = c.Clone()
		}
	}
	return out
}

// Content returns the content with the given name.
func (s *Session) Content(name string) (Content, bool) {
	for _, c := range s.Contents {
		if c.Name == name {
			return c, true
		}
	}
	return Content{}, false
}

// FileOffer describes a file-transfer initiation. Hash is the hex digest of
// the file contents; HashAlgo defaults to sha-1 on the wire.
type FileOffer struct {
	FID       string
	Peer      string
	SID       string
	Name      string
	Date      string
	Desc      string
	Size      int64
	Hash      string
	HashAlgo  string
	Transport ICETransport
}

func (f *FileOffer) Kind() Kind        { return KindFileTransfer }
func (f *FileOffer) SessionID() string { return f.SID }
func (f *FileOffer) PeerJID() string   { return f.Peer }

// Clone returns a deep copy of the offer.
func (f *FileOffer) Clone() *FileOffer {
	if f == nil {
		return nil
	}
	out := *f
	out.Transport = f.Transport.Clone()
	return &out
}

// HashAlgoSHA1 is the default file hash algorithm.
const HashAlgoSHA1 = "sha-1"

// HashAnnouncement confirms the hash of a transferred file once its bytes
// have been moved.
type HashAnnouncement struct {
	SID  string
	FID  string
	Peer string
	Hash string
	Algo string
}

// Merge combines the local description of a session with the description
// echoed by the remote side in its accept. The remote contents win; a
// remote content that omits its media type or payloads inherits them from
// the local content of the same name.
func Merge(local, remote *Session) *Session {
	out := remote.Clone()
	if local == nil {
		return out
	}
	for i, rc := range out.Contents {
		lc, ok := local.Content(rc.Name)
		if !ok {
			continue
		}
		if rc.Media == "" {
			out.Contents[i].Media = lc.Media
		}
		if len(rc.Payloads) == 0 && len(lc.Payloads) > 0 {
			out.Contents[i].Payloads = append([]Payload(nil), lc.Payloads...)
		}
	}
	return out
}

// MergeFile combines a local file offer with the remote accept: the
// remote transport is used, and non-empty remote fields override.
func MergeFile(local, remote *FileOffer) *FileOffer {
	if local == nil {
		return remote.Clone()
	}
	out := local.Clone()
	out.Transport = remote.Transport.Clone()
	if remote.FID != "" {
		out.FID = remote.FID
	}
	if remote.Name != "" {
		out.Name = remote.Name
	}
	if remote.Hash != "" {
		out.Hash = remote.Hash
		out.HashAlgo = remote.HashAlgo
	}
	if remote.Size != 0 {
		out.Size = remote.Size
	}
	return out
}
