package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/zylos/pkg/broadcast"
	"github.com/mahaj/zylos/pkg/collab"
	"github.com/mahaj/zylos/pkg/ident"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/peer"
	"github.com/mahaj/zylos/pkg/snowflake"
	"github.com/mahaj/zylos/pkg/store"
)

var (
	ErrInvalidUsername = errors.New("session: username must be at least 3 characters")
	ErrNotVerified     = errors.New("session: human verification failed")
)

// How many recent messages the reply assistant sees.
const suggestWindow = 10

type Options struct {
	Scheme    ident.Scheme
	IDs       *snowflake.Node
	Directory peer.Directory

	// ListenAddr is where the peer listener binds. Defaults to
	// 127.0.0.1:0, an ephemeral port.
	ListenAddr string
	PublicURL  string

	// Channel joins the device's broadcast channel. Nil disables sync
	// between contexts.
	Channel        func(ctx context.Context) (broadcast.Channel, error)
	Verifier       collab.HumanVerifier
	Assistant      collab.Assistant
	Cloud          collab.CloudSync
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
}

// Client is the facade a front end talks to. It lives as long as the
// process and owns at most one Session at a time. Every operation that
// needs a logged-in user is a no-op without one.
type Client struct {
	store     *store.Store
	opts      Options
	assistant collab.FallbackAssistant

	mu   sync.Mutex
	sess *Session
}

func NewClient(st *store.Store, opts Options) *Client {
	if opts.Scheme == nil {
		opts.Scheme = ident.NewScheme("")
	}
	if opts.Directory == nil {
		opts.Directory = peer.NewStaticDirectory()
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}
	return &Client{
		store:     st,
		opts:      opts,
		assistant: collab.FallbackAssistant{Next: opts.Assistant},
	}
}

func (c *Client) Store() *store.Store { return c.store }

// Session returns the running session, or nil when logged out.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Login verifies the user when a verifier is configured, makes username the
// current user and brings the session online. A running session for
// another user is logged out first.
func (c *Client) Login(ctx context.Context, username string) (model.User, error) {
	if !collab.ValidUsername(username) {
		return model.User{}, ErrInvalidUsername
	}
	if c.opts.Verifier != nil && !c.opts.Verifier.Verify(ctx) {
		return model.User{}, ErrNotVerified
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		if err := c.logoutLocked(ctx); err != nil {
			log.Printf("session: closing previous session: %v", err)
		}
	}

	u, ok := c.store.Login(username)
	if !ok {
		return model.User{}, ErrInvalidUsername
	}
	sess, err := start(ctx, c.store, u, c.opts)
	if err != nil {
		c.store.Logout()
		return model.User{}, err
	}
	c.sess = sess
	return u, nil
}

// Resume brings the session back online for a user rehydrated from
// storage. It does nothing when nobody was logged in.
func (c *Client) Resume(ctx context.Context) (model.User, bool, error) {
	u, ok := c.store.CurrentUser()
	if !ok {
		return model.User{}, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess.user, true, nil
	}
	sess, err := start(ctx, c.store, u, c.opts)
	if err != nil {
		return model.User{}, false, err
	}
	c.sess = sess
	return u, true, nil
}

// Logout tears the session down, then clears the current user. Local
// history stays on the device.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoutLocked(ctx)
}

func (c *Client) logoutLocked(ctx context.Context) error {
	var err error
	if c.sess != nil {
		err = c.sess.close(ctx)
		c.sess = nil
	}
	c.store.Logout()
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

// Close logs out without clearing the current user, so the next start can
// Resume.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	err := c.sess.close(ctx)
	c.sess = nil
	return err
}

func (c *Client) SendMessage(ctx context.Context, content string, attachments ...model.Attachment) *model.Message {
	s := c.Session()
	if s == nil {
		return nil
	}
	return s.pipeline.SendMessage(ctx, content, attachments...)
}

// CreatePost stores a post and announces it to the other contexts.
func (c *Client) CreatePost(ctx context.Context, content string, attachments ...model.Attachment) *model.Post {
	s := c.Session()
	if s == nil {
		return nil
	}
	p := c.store.CreatePost(content, attachments...)
	if p == nil {
		return nil
	}
	if s.sync != nil {
		s.sync.PublishPost(ctx, *p)
	}
	s.mirror("posts", *p)
	return p
}

// LikePost toggles the current user's like and shares the updated feed.
func (c *Client) LikePost(ctx context.Context, postID string) bool {
	s := c.Session()
	if s == nil {
		return false
	}
	posts, ok := c.store.LikePost(postID)
	if !ok {
		return false
	}
	if s.sync != nil {
		s.sync.PublishPosts(ctx, posts)
	}
	return true
}

func (c *Client) FollowUser(userID string) bool {
	if c.Session() == nil {
		return false
	}
	return c.store.FollowUser(userID)
}

func (c *Client) CreateChat(participantIDs ...string) string {
	if c.Session() == nil {
		return ""
	}
	return c.store.CreateChat(participantIDs...)
}

func (c *Client) CreateGroupChat(name string, participantIDs ...string) string {
	if c.Session() == nil {
		return ""
	}
	return c.store.CreateGroupChat(name, participantIDs...)
}

// OpenChat makes chatID the active chat. Unknown ids are refused.
func (c *Client) OpenChat(chatID string) bool {
	if c.Session() == nil {
		return false
	}
	if _, ok := c.store.Chat(chatID); !ok {
		return false
	}
	c.store.SetActiveChat(chatID)
	return true
}

func (c *Client) MarkViewOnceAsSeen(messageID, attachmentID string) bool {
	if c.Session() == nil {
		return false
	}
	return c.store.MarkViewOnceAsSeen(messageID, attachmentID)
}

// SuggestReplies asks the assistant for quick replies to the active chat.
func (c *Client) SuggestReplies(ctx context.Context) []string {
	msgs := c.store.Messages(c.store.ActiveChatID())
	if len(msgs) > suggestWindow {
		msgs = msgs[len(msgs)-suggestWindow:]
	}
	recent := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			recent = append(recent, m.Content)
		}
	}
	return c.assistant.SuggestReplies(ctx, recent)
}

// Summarize asks the assistant to sum up the active chat.
func (c *Client) Summarize(ctx context.Context) string {
	msgs := c.store.Messages(c.store.ActiveChatID())
	transcript := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		transcript = append(transcript, c.store.DisplayName(m.SenderID)+": "+m.Content)
	}
	return c.assistant.Summarize(ctx, transcript)
}

func (s *Session) mirror(table string, data any) {
	if s.cloud == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.cloud.Sync(ctx, table, data); err != nil {
			log.Printf("session: cloud sync to %s failed: %v", table, err)
		}
	}()
}
