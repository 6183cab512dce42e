// Package broadcast keeps several contexts on one device (processes, or
// independent stores inside one process) eventually consistent without a
// server in between.
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/mahaj/zylos/pkg/model"
)

// DefaultChannel is the channel name every context of a device joins.
const DefaultChannel = "zylos_global_sync"

type EventType string

const (
	TypeNewPost    EventType = "NEW_POST"
	TypeSyncPosts  EventType = "SYNC_POSTS"
	TypeNewMessage EventType = "NEW_MESSAGE"
)

// Event is the envelope every backend carries. Origin identifies the
// publishing context so it can skip its own events.
type Event struct {
	Type    EventType       `json:"type"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type MessagePayload struct {
	ChatID  string        `json:"chatId"`
	Message model.Message `json:"message"`
}

func newEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: data}, nil
}

func NewPostEvent(p model.Post) (Event, error) {
	return newEvent(TypeNewPost, p)
}

func SyncPostsEvent(posts []model.Post) (Event, error) {
	return newEvent(TypeSyncPosts, posts)
}

func NewMessageEvent(chatID string, msg model.Message) (Event, error) {
	return newEvent(TypeNewMessage, MessagePayload{ChatID: chatID, Message: msg})
}

// Decoded is one of PostCreated, PostsSynced, MessageAdded or Unknown.
type Decoded interface {
	isDecoded()
}

type PostCreated struct{ Post model.Post }

type PostsSynced struct{ Posts []model.Post }

type MessageAdded struct {
	ChatID  string
	Message model.Message
}

// Unknown is an event type this build does not understand. It is ignored.
type Unknown struct{ Type EventType }

func (PostCreated) isDecoded()  {}
func (PostsSynced) isDecoded()  {}
func (MessageAdded) isDecoded() {}
func (Unknown) isDecoded()      {}

func (e Event) Decode() (Decoded, error) {
	switch e.Type {
	case TypeNewPost:
		var p model.Post
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return PostCreated{Post: p}, nil
	case TypeSyncPosts:
		var posts []model.Post
		if err := json.Unmarshal(e.Payload, &posts); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return PostsSynced{Posts: posts}, nil
	case TypeNewMessage:
		var p MessagePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return MessageAdded{ChatID: p.ChatID, Message: p.Message}, nil
	default:
		return Unknown{Type: e.Type}, nil
	}
}
