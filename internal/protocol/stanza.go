// Package protocol defines the stanza wire format used for signaling and
// the codec between wire elements and jingle descriptions.
package protocol

import "encoding/xml"

// Namespaces.
const (
	NSJingle       = "urn:xmpp:jingle:1"
	NSRTP          = "urn:xmpp:jingle:apps:rtp:1"
	NSRTPInfo      = "urn:xmpp:jingle:apps:rtp:info:1"
	NSICEUDP       = "urn:xmpp:jingle:transports:ice-udp:1"
	NSFileTransfer = "urn:xmpp:jingle:apps:file-transfer:3"
	NSHashes       = "urn:xmpp:hashes:1"
	NSChatStates   = "http://jabber.org/protocol/chatstates"
	NSCaps         = "http://jabber.org/protocol/caps"
)

// Top-level element names.
const (
	NameIQ       = "iq"
	NameMessage  = "message"
	NamePresence = "presence"
	NameBind     = "bind"
)

// Stanza type attribute values.
const (
	TypeSet         = "set"
	TypeGet         = "get"
	TypeResult      = "result"
	TypeError       = "error"
	TypeChat        = "chat"
	TypeUnavailable = "unavailable"
)

// Jingle actions.
const (
	ActionSessionInitiate  = "session-initiate"
	ActionSessionAccept    = "session-accept"
	ActionSessionTerminate = "session-terminate"
	ActionSessionInfo      = "session-info"
	ActionTransportInfo    = "transport-info"
)

// Stanza is one discrete signaling message. A single struct covers iq,
// message, presence and the transport-level bind frame; unused fields are
// omitted when encoding.
type Stanza struct {
	XMLName xml.Name
	ID      string `xml:"id,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	From    string `xml:"from,attr,omitempty"`
	To      string `xml:"to,attr,omitempty"`
	JID     string `xml:"jid,attr,omitempty"`

	// message
	Body string `xml:"body,omitempty"`

	// presence
	Show     string `xml:"show,omitempty"`
	Status   string `xml:"status,omitempty"`
	Priority string `xml:"priority,omitempty"`
	Caps     *Caps  `xml:"http://jabber.org/protocol/caps c,omitempty"`

	// iq
	Jingle *Jingle      `xml:"urn:xmpp:jingle:1 jingle,omitempty"`
	Error  *StanzaError `xml:"error,omitempty"`

	// Anything not matched above, e.g. chat state notifications.
	Extensions []Element `xml:",any"`
}

// Element is a generic child element.
type Element struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

// Caps carries the opaque capability tags of a presence.
type Caps struct {
	Node string `xml:"node,attr,omitempty"`
	Ext  string `xml:"ext,attr,omitempty"`
}

// StanzaError is the error child of an iq of type error.
type StanzaError struct {
	Type       string    `xml:"type,attr,omitempty"`
	Conditions []Element `xml:",any"`
}

// Jingle is the session-control payload of an iq.
type Jingle struct {
	Action    string    `xml:"action,attr"`
	Initiator string    `xml:"initiator,attr,omitempty"`
	Responder string    `xml:"responder,attr,omitempty"`
	SID       string    `xml:"sid,attr"`
	Contents  []Content `xml:"content"`
	Reason    *Reason   `xml:"reason,omitempty"`
	Ringing   *Empty    `xml:"urn:xmpp:jingle:apps:rtp:info:1 ringing,omitempty"`
	Checksum  *Checksum `xml:"urn:xmpp:jingle:apps:file-transfer:3 checksum,omitempty"`
}

// Empty is an element without attributes or children.
type Empty struct{}

// Reason carries the terminate condition as its single child element.
type Reason struct {
	Conditions []Element `xml:",any"`
}

// Content is one negotiated stream: either an RTP description or a file
// description, plus an ICE transport.
type Content struct {
	Creator   string           `xml:"creator,attr,omitempty"`
	Name      string           `xml:"name,attr"`
	RTP       *RTPDescription  `xml:"urn:xmpp:jingle:apps:rtp:1 description,omitempty"`
	File      *FileDescription `xml:"urn:xmpp:jingle:apps:file-transfer:3 description,omitempty"`
	Transport *Transport       `xml:"urn:xmpp:jingle:transports:ice-udp:1 transport,omitempty"`
}

// RTPDescription lists the payload types of a media content.
type RTPDescription struct {
	Media    string        `xml:"media,attr,omitempty"`
	Payloads []PayloadType `xml:"payload-type"`
}

// PayloadType attributes are kept as text so one malformed entry does not
// fail the whole stanza.
type PayloadType struct {
	ID        string `xml:"id,attr"`
	Name      string `xml:"name,attr,omitempty"`
	ClockRate string `xml:"clockrate,attr,omitempty"`
}

// FileDescription is the file-transfer application description.
type FileDescription struct {
	Offer *FileOfferElement `xml:"offer,omitempty"`
}

// FileOfferElement wraps the offered file.
type FileOfferElement struct {
	File File `xml:"file"`
}

// File is the metadata of a transferred file.
type File struct {
	Date string `xml:"date,omitempty"`
	Desc string `xml:"desc,omitempty"`
	Name string `xml:"name,omitempty"`
	Size string `xml:"size,omitempty"`
	Hash *Hash  `xml:"urn:xmpp:hashes:1 hash,omitempty"`
}

// Hash is a hash value with its algorithm.
type Hash struct {
	Algo  string `xml:"algo,attr"`
	Value string `xml:",chardata"`
}

// Checksum announces the hash of a transferred file; Name is the file id.
type Checksum struct {
	Creator string `xml:"creator,attr,omitempty"`
	Name    string `xml:"name,attr"`
	File    File   `xml:"file"`
}

// Transport is the ICE-UDP transport of a content.
type Transport struct {
	Pwd        string      `xml:"pwd,attr,omitempty"`
	Ufrag      string      `xml:"ufrag,attr,omitempty"`
	Candidates []Candidate `xml:"candidate"`
}

// Candidate attributes are kept as text; see DecodeTransport.
type Candidate struct {
	Component  string `xml:"component,attr"`
	Foundation string `xml:"foundation,attr,omitempty"`
	Generation string `xml:"generation,attr"`
	ID         string `xml:"id,attr,omitempty"`
	IP         string `xml:"ip,attr,omitempty"`
	Network    string `xml:"network,attr"`
	Port       string `xml:"port,attr"`
	Priority   string `xml:"priority,attr"`
	Protocol   string `xml:"protocol,attr,omitempty"`
	Type       string `xml:"type,attr,omitempty"`
}

// ChatState returns the chat state notification carried by a message, if any.
func (s *Stanza) ChatState() (string, bool) {
	for _, e := range s.Extensions {
		if e.XMLName.Space == NSChatStates {
			return e.XMLName.Local, true
		}
	}
	return "", false
}

// Condition returns the first condition element name of a reason.
func (r *Reason) Condition() string {
	if r == nil || len(r.Conditions) == 0 {
		return ""
	}
	return r.Conditions[0].XMLName.Local
}
