// Package store owns every domain entity of a client: users, chats, posts
// and per-chat messages. It is the only writer of durable state; every
// mutation commits the touched collections before returning.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/zylos/pkg/ident"
	"github.com/mahaj/zylos/pkg/kv"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/snowflake"
)

// Storage keys. The suffix is the only schema versioning there is.
const (
	KeyUser     = "zylos_user_v3"
	KeyUsers    = "zylos_users_v3"
	KeyChats    = "zylos_chats_v3"
	KeyPosts    = "zylos_posts_v3"
	KeyMessages = "zylos_messages_v3"
)

// ErrUnavailable wraps the last failed durability write.
var ErrUnavailable = errors.New("store unavailable")

type dirty uint8

const (
	dirtyUser dirty = 1 << iota
	dirtyUsers
	dirtyChats
	dirtyPosts
	dirtyMessages
)

type ChangeKind string

const (
	ChangeUser     ChangeKind = "user"
	ChangeChats    ChangeKind = "chats"
	ChangePosts    ChangeKind = "posts"
	ChangeMessages ChangeKind = "messages"
)

// Change describes a committed mutation. ChatID and MessageID are set for
// message changes.
type Change struct {
	Kind      ChangeKind
	ChatID    string
	MessageID string
}

type Config struct {
	Backend kv.Backend
	Scheme  ident.Scheme
	IDs     *snowflake.Node

	// Now defaults to time.Now.
	Now func() time.Time

	// WriteTimeout bounds a single commit. Defaults to 5s.
	WriteTimeout time.Duration
}

type Store struct {
	mu      sync.Mutex
	backend kv.Backend
	scheme  ident.Scheme
	ids     *snowflake.Node
	now     func() time.Time
	timeout time.Duration

	currentUser  *model.User
	users        map[string]model.User
	chats        []model.Chat
	posts        []model.Post
	messages     map[string][]model.Message
	activeChatID string

	err       error
	listeners []func(Change)
}

// New builds a store and rehydrates it from cfg.Backend. Missing keys mean
// empty collections; unreadable blobs are logged and skipped.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("store: backend is required")
	}
	if cfg.Scheme == nil {
		cfg.Scheme = ident.NewScheme("")
	}
	if cfg.IDs == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, err
		}
		cfg.IDs = node
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	s := &Store{
		backend:  cfg.Backend,
		scheme:   cfg.Scheme,
		ids:      cfg.IDs,
		now:      cfg.Now,
		timeout:  cfg.WriteTimeout,
		users:    make(map[string]model.User),
		messages: make(map[string][]model.Message),
	}
	s.rehydrate(ctx)
	return s, nil
}

func (s *Store) rehydrate(ctx context.Context) {
	var current *model.User
	var users []model.User
	s.load(ctx, KeyUser, &current)
	s.load(ctx, KeyUsers, &users)
	s.load(ctx, KeyChats, &s.chats)
	s.load(ctx, KeyPosts, &s.posts)
	s.load(ctx, KeyMessages, &s.messages)

	for _, u := range users {
		s.users[u.ID] = u
	}
	if current != nil && current.ID != "" {
		s.currentUser = current
		s.users[current.ID] = *current
	}
	if s.messages == nil {
		s.messages = make(map[string][]model.Message)
	}
	// Connectivity is never carried over a restart.
	for i := range s.chats {
		s.chats[i].P2PStatus = model.P2PDisconnected
	}
	log.Printf("store: rehydrated %d chats, %d posts, %d users", len(s.chats), len(s.posts), len(s.users))
}

func (s *Store) load(ctx context.Context, key string, dst any) {
	raw, err := s.backend.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("store: failed to read %s: %v", key, err)
		s.err = fmt.Errorf("%w: reading %s: %v", ErrUnavailable, key, err)
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Printf("store: ignoring unreadable %s: %v", key, err)
	}
}

// OnChange registers fn to be called after every committed mutation. fn runs
// outside the store lock and may read the store.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Err returns the last durability failure, wrapped in ErrUnavailable, or nil
// once a later commit has succeeded.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// commit writes the dirty collections. Callers hold s.mu.
func (s *Store) commit(d dirty) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var failed error
	write := func(key string, v any) {
		data, err := json.Marshal(v)
		if err == nil {
			err = s.backend.Put(ctx, key, data)
		}
		if err != nil {
			log.Printf("store: failed to persist %s: %v", key, err)
			failed = fmt.Errorf("%w: writing %s: %v", ErrUnavailable, key, err)
		}
	}

	if d&dirtyUser != 0 {
		if s.currentUser == nil {
			if err := s.backend.Delete(ctx, KeyUser); err != nil {
				log.Printf("store: failed to clear %s: %v", KeyUser, err)
				failed = fmt.Errorf("%w: deleting %s: %v", ErrUnavailable, KeyUser, err)
			}
		} else {
			write(KeyUser, s.currentUser)
		}
	}
	if d&dirtyUsers != 0 {
		write(KeyUsers, s.usersLocked())
	}
	if d&dirtyChats != 0 {
		write(KeyChats, s.chats)
	}
	if d&dirtyPosts != 0 {
		write(KeyPosts, s.posts)
	}
	if d&dirtyMessages != 0 {
		write(KeyMessages, s.messages)
	}
	s.err = failed
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	listeners := append([]func(Change){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func (s *Store) usersLocked() []model.User {
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) millis() int64 {
	return s.now().UnixMilli()
}

// Login makes username the current user. A blank username is ignored; an
// earlier user with the same derived id is replaced, not merged.
func (s *Store) Login(username string) (model.User, bool) {
	username = strings.TrimSpace(username)
	if username == "" {
		return model.User{}, false
	}

	s.mu.Lock()
	u := model.User{
		ID:        s.scheme.UserID(username),
		Username:  username,
		Avatar:    "https://api.dicebear.com/7.x/avataaars/svg?seed=" + username,
		Status:    model.PresenceOnline,
		Following: []string{},
		Followers: []string{},
	}
	s.currentUser = &u
	s.users[u.ID] = u
	s.commit(dirtyUser | dirtyUsers)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUser})
	return u.Clone(), true
}

// Logout clears the current user. Chats, posts and messages stay on the
// device.
func (s *Store) Logout() {
	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return
	}
	s.currentUser = nil
	s.activeChatID = ""
	s.commit(dirtyUser)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUser})
}

// CreatePost prepends a post by the current user. It returns nil when nobody
// is logged in or content is blank.
func (s *Store) CreatePost(content string, attachments ...model.Attachment) *model.Post {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return nil
	}
	p := model.Post{
		ID:          s.ids.ID("post"),
		AuthorID:    s.currentUser.ID,
		Content:     content,
		Timestamp:   s.millis(),
		Likes:       []string{},
		Replies:     []model.Post{},
		Reposts:     []string{},
		Attachments: attachments,
	}
	s.posts = append([]model.Post{p}, s.posts...)
	s.commit(dirtyPosts)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePosts})
	out := p.Clone()
	return &out
}

// LikePost toggles the current user in the post's likes. It returns the full
// post collection after the change and whether anything changed.
func (s *Store) LikePost(postID string) ([]model.Post, bool) {
	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return nil, false
	}
	idx := s.postIndex(postID)
	if idx < 0 {
		s.mu.Unlock()
		return nil, false
	}
	s.posts[idx].Likes, _ = model.Toggle(s.posts[idx].Likes, s.currentUser.ID)
	s.commit(dirtyPosts)
	posts := clonePosts(s.posts)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePosts})
	return posts, true
}

// FollowUser toggles userID in the current user's following set and keeps
// the target's followers in step when the target is known.
func (s *Store) FollowUser(userID string) bool {
	if userID == "" {
		return false
	}

	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return false
	}
	me := s.currentUser.Clone()
	var added bool
	me.Following, added = model.Toggle(me.Following, userID)

	if target, ok := s.users[userID]; ok && target.ID != me.ID {
		target = target.Clone()
		has := model.Contains(target.Followers, me.ID)
		if added != has {
			target.Followers, _ = model.Toggle(target.Followers, me.ID)
		}
		s.users[target.ID] = target
	}
	s.currentUser = &me
	s.users[me.ID] = me
	s.commit(dirtyUser | dirtyUsers)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUser})
	return true
}

// CreateChat returns the id of the direct chat between the current user and
// a single participant, creating it if needed. Several participants make a
// new group chat. It returns "" when nothing can be created.
func (s *Store) CreateChat(participantIDs ...string) string {
	return s.CreateGroupChat("", participantIDs...)
}

// CreateGroupChat is CreateChat with a group name for multi-party chats.
func (s *Store) CreateGroupChat(name string, participantIDs ...string) string {
	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return ""
	}
	me := s.currentUser.ID

	seen := map[string]bool{me: true}
	var others []string
	for _, id := range participantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}

	var chat model.Chat
	switch len(others) {
	case 0:
		s.mu.Unlock()
		return ""
	case 1:
		for _, c := range s.chats {
			if c.IsDirectBetween(me, others[0]) {
				s.mu.Unlock()
				return c.ID
			}
		}
		chat = model.Chat{
			ID:           s.scheme.DirectChatID(me, others[0]),
			Participants: []string{me, others[0]},
			P2PStatus:    model.P2PDisconnected,
		}
	default:
		chat = model.Chat{
			ID:           s.ids.ID("chat"),
			Participants: append([]string{me}, others...),
			IsGroup:      true,
			GroupName:    name,
			P2PStatus:    model.P2PDisconnected,
		}
	}
	s.chats = append([]model.Chat{chat}, s.chats...)
	s.commit(dirtyChats)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeChats})
	return chat.ID
}

// SetActiveChat selects the chat sendMessage and markViewOnceAsSeen act on.
// The selection is session state and is not persisted.
func (s *Store) SetActiveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeChatID = chatID
}

// MarkViewOnceAsSeen flags one attachment of one message in the active chat
// as viewed.
func (s *Store) MarkViewOnceAsSeen(messageID, attachmentID string) bool {
	s.mu.Lock()
	chatID := s.activeChatID
	if chatID == "" {
		s.mu.Unlock()
		return false
	}
	msgs := s.messages[chatID]
	changed := false
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		for j := range msgs[i].Attachments {
			if msgs[i].Attachments[j].ID == attachmentID && !msgs[i].Attachments[j].Viewed {
				msgs[i].Attachments[j].Viewed = true
				changed = true
			}
		}
	}
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.commit(dirtyMessages)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ChatID: chatID, MessageID: messageID})
	return true
}
