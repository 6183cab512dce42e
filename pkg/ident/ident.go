// Package ident derives the deterministic identifiers the sync core routes
// on: user ids, peer addresses and direct chat ids.
package ident

import "strings"

const DefaultPrefix = "zylos-node-"

// Scheme maps usernames and participant pairs to identifiers. All methods
// must be pure: two nodes that never talked must derive the same values.
type Scheme interface {
	UserID(username string) string
	PeerAddress(userID string) string
	DirectChatID(a, b string) string
}

type DefaultScheme struct {
	Prefix string
}

func NewScheme(prefix string) DefaultScheme {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return DefaultScheme{Prefix: prefix}
}

func (s DefaultScheme) UserID(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s DefaultScheme) PeerAddress(userID string) string {
	return s.Prefix + strings.ToLower(userID)
}

// DirectChatID sorts the pair so both sides derive the same dm:<a>:<b> id
// without talking to each other.
func (s DefaultScheme) DirectChatID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// ParseDirectChatID splits a dm:<a>:<b> id. ok is false for anything else,
// including group chat ids.
func ParseDirectChatID(chatID string) (a, b string, ok bool) {
	if !strings.HasPrefix(chatID, "dm:") {
		return "", "", false
	}
	parts := strings.Split(chatID, ":")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
