package signaling

import "github.com/1ureka/jinglesig/internal/protocol"

// Kind is the classification of an inbound stanza.
type Kind int

const (
	KindUnknown Kind = iota
	KindPresence
	KindChat
	KindSessionInitiate
	KindSessionAck
	KindSessionAccept
	KindSessionTerminate
	KindRing
	KindRingAck
	KindFileInitiate
	KindFileAccept
	KindHash
	KindHashAck
	KindTransportInfo
	KindResult
	KindError
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindPresence:         "presence",
	KindChat:             "chat",
	KindSessionInitiate:  "session-initiate",
	KindSessionAck:       "session-ack",
	KindSessionAccept:    "session-accept",
	KindSessionTerminate: "session-terminate",
	KindRing:             "ring",
	KindRingAck:          "ring-ack",
	KindFileInitiate:     "file-initiate",
	KindFileAccept:       "file-accept",
	KindHash:             "hash",
	KindHashAck:          "hash-ack",
	KindTransportInfo:    "transport-info",
	KindResult:           "result",
	KindError:            "error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// classify maps a stanza to its kind. Results are told apart by the
// pending request their id answers; lookup may be nil.
func classify(st *protocol.Stanza, lookup func(id string) (request, bool)) Kind {
	switch st.XMLName.Local {
	case protocol.NamePresence:
		return KindPresence

	case protocol.NameMessage:
		if _, ok := st.ChatState(); ok || st.Body != "" {
			return KindChat
		}
		return KindUnknown

	case protocol.NameIQ:
		switch st.Type {
		case protocol.TypeResult:
			if lookup == nil {
				return KindResult
			}
			req, ok := lookup(st.ID)
			if !ok {
				return KindResult
			}
			switch req.kind {
			case reqInitiate:
				return KindSessionAck
			case reqRing:
				return KindRingAck
			case reqHash:
				return KindHashAck
			}
			return KindResult

		case protocol.TypeError:
			return KindError

		case protocol.TypeSet:
			return classifyJingle(st.Jingle)
		}
	}
	return KindUnknown
}

func classifyJingle(j *protocol.Jingle) Kind {
	if j == nil || j.SID == "" {
		return KindUnknown
	}

	switch j.Action {
	case protocol.ActionSessionInitiate:
		if protocol.HasFileContent(j.Contents) {
			return KindFileInitiate
		}
		return KindSessionInitiate
	case protocol.ActionSessionAccept:
		if protocol.HasFileContent(j.Contents) {
			return KindFileAccept
		}
		return KindSessionAccept
	case protocol.ActionSessionTerminate:
		return KindSessionTerminate
	case protocol.ActionSessionInfo:
		switch {
		case j.Ringing != nil:
			return KindRing
		case j.Checksum != nil:
			return KindHash
		}
	case protocol.ActionTransportInfo:
		return KindTransportInfo
	}
	return KindUnknown
}
