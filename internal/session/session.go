// Package session owns the per-identity conversation state: the session
// record, its lazy expiry, merge-patch updates and the bounded history log.
package session

import (
	"slices"
	"time"
)

// Context determines how the next free-text message is interpreted.
type Context string

const (
	ContextMenu        Context = "MENU"
	ContextPendingList Context = "PENDING_LIST"
	ContextStats       Context = "STATS"
)

func (c Context) Valid() bool {
	switch c {
	case ContextMenu, ContextPendingList, ContextStats:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleUser   Role = "USER"
	RoleSystem Role = "SYSTEM"
)

type HistoryEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Scratch holds context-local working data. ItemRefs is the ordered snapshot
// of request ids the user refers to by ordinal.
type Scratch struct {
	ItemRefs []string          `json:"item_refs,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
}

func (s Scratch) clone() Scratch {
	out := Scratch{ItemRefs: slices.Clone(s.ItemRefs)}
	if s.Values != nil {
		out.Values = make(map[string]string, len(s.Values))
		for k, v := range s.Values {
			out.Values[k] = v
		}
	}
	return out
}

// ItemRef resolves a 1-based ordinal against ItemRefs.
func (s Scratch) ItemRef(ordinal int) (string, bool) {
	if ordinal < 1 || ordinal > len(s.ItemRefs) {
		return "", false
	}
	return s.ItemRefs[ordinal-1], true
}

type Session struct {
	Identity       string         `json:"identity"`
	Context        Context        `json:"context"`
	LastCommand    string         `json:"last_command,omitempty"`
	Scratch        Scratch        `json:"scratch"`
	History        []HistoryEntry `json:"history"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// New returns an empty session in the MENU context.
func New(identity string, now time.Time) Session {
	return Session{
		Identity:       identity,
		Context:        ContextMenu,
		History:        []HistoryEntry{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Expired reports whether more than ttl has passed since the last activity.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivityAt) > ttl
}

// Patch is a merge patch: nil fields are left alone, non-nil fields replace
// the stored value wholesale.
type Patch struct {
	Context     *Context
	LastCommand *string
	Scratch     *Scratch
	History     *[]HistoryEntry
}

func (p Patch) Empty() bool {
	return p.Context == nil && p.LastCommand == nil && p.Scratch == nil && p.History == nil
}

func (p Patch) apply(s *Session) {
	if p.Context != nil {
		s.Context = *p.Context
	}
	if p.LastCommand != nil {
		s.LastCommand = *p.LastCommand
	}
	if p.Scratch != nil {
		s.Scratch = p.Scratch.clone()
	}
	if p.History != nil {
		s.History = slices.Clone(*p.History)
		if s.History == nil {
			s.History = []HistoryEntry{}
		}
	}
}
