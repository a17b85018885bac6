// Package roster keeps the presence-driven contact list and the inbound
// chat-message queue.
package roster

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/1ureka/jinglesig/internal/protocol"
)

// ShowState is the availability a contact advertises.
type ShowState int

const (
	Available ShowState = iota
	Away
	DoNotDisturb
	ExtendedAway
)

// Wire returns the show element text; Available has none.
func (s ShowState) Wire() string {
	switch s {
	case Away:
		return "away"
	case DoNotDisturb:
		return "dnd"
	case ExtendedAway:
		return "xa"
	default:
		return ""
	}
}

func (s ShowState) String() string {
	if s == Available {
		return "available"
	}
	return s.Wire()
}

// ParseShow converts show element text. Unknown values and "chat" are
// Available.
func ParseShow(s string) ShowState {
	switch strings.TrimSpace(s) {
	case "away":
		return Away
	case "dnd":
		return DoNotDisturb
	case "xa":
		return ExtendedAway
	default:
		return Available
	}
}

// ChatState is a chat state notification.
type ChatState int

const (
	Active ChatState = iota
	Inactive
	Gone
	Composing
	Paused
)

var chatStateNames = [...]string{
	Active:    "active",
	Inactive:  "inactive",
	Gone:      "gone",
	Composing: "composing",
	Paused:    "paused",
}

func (c ChatState) String() string {
	if c < 0 || int(c) >= len(chatStateNames) {
		return "active"
	}
	return chatStateNames[c]
}

// ParseChatState converts a chat state element name.
func ParseChatState(name string) (ChatState, bool) {
	for i, n := range chatStateNames {
		if n == name {
			return ChatState(i), true
		}
	}
	return Active, false
}

// Contact is one resource of a peer as last seen in its presence.
type Contact struct {
	JID          string // bare
	Resource     string
	Status       string
	Show         ShowState
	ChatState    ChatState
	Priority     int
	Capabilities []string
}

// FullJID returns the JID including the resource.
func (c Contact) FullJID() string {
	if c.Resource == "" {
		return c.JID
	}
	return c.JID + "/" + c.Resource
}

// HasCapability reports whether the contact advertises the tag.
func (c Contact) HasCapability(tag string) bool {
	return slices.Contains(c.Capabilities, tag)
}

func (c Contact) clone() Contact {
	c.Capabilities = slices.Clone(c.Capabilities)
	return c
}

// ContactFromPresence builds a contact from an available presence.
func ContactFromPresence(st *protocol.Stanza) Contact {
	c := Contact{
		JID:      protocol.Bare(st.From),
		Resource: protocol.Resource(st.From),
		Status:   st.Status,
		Show:     ParseShow(st.Show),
	}
	if p, err := strconv.Atoi(strings.TrimSpace(st.Priority)); err == nil {
		c.Priority = p
	}
	if st.Caps != nil {
		c.Capabilities = strings.Fields(st.Caps.Ext)
	}
	return c
}

// Roster is the set of known contacts, keyed by full JID.
type Roster struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{contacts: make(map[string]Contact)}
}

// Update stores the contact and reports whether it was not known before.
// The chat state survives presence updates.
func (r *Roster) Update(c Contact) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := c.FullJID()
	old, ok := r.contacts[key]
	if ok {
		c.ChatState = old.ChatState
	}
	r.contacts[key] = c.clone()
	return !ok
}

// Remove deletes a contact by full JID. A bare JID removes every resource.
func (r *Roster) Remove(jid string) []Contact {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Contact
	if c, ok := r.contacts[jid]; ok {
		delete(r.contacts, jid)
		return append(removed, c)
	}
	if protocol.Resource(jid) != "" {
		return nil
	}
	for key, c := range r.contacts {
		if c.JID == jid {
			delete(r.contacts, key)
			removed = append(removed, c)
		}
	}
	return removed
}

// SetChatState records a chat state for the full JID, if known.
func (r *Roster) SetChatState(jid string, s ChatState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[jid]
	if !ok {
		return false
	}
	c.ChatState = s
	r.contacts[jid] = c
	return true
}

// Get returns the contact with the full JID.
func (r *Roster) Get(jid string) (Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[jid]
	return c.clone(), ok
}

// Snapshot returns copies of every contact ordered by full JID.
func (r *Roster) Snapshot() []Contact {
	return r.filter(func(Contact) bool { return true })
}

// WithCapability returns copies of the contacts advertising tag.
func (r *Roster) WithCapability(tag string) []Contact {
	return r.filter(func(c Contact) bool { return c.HasCapability(tag) })
}

// Clear removes every contact.
func (r *Roster) Clear() {
	r.mu.Lock()
	r.contacts = make(map[string]Contact)
	r.mu.Unlock()
}

func (r *Roster) filter(keep func(Contact) bool) []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		if keep(c) {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullJID() < out[j].FullJID() })
	return out
}
