package broadcast

import (
	"context"
	"log"

	"github.com/mahaj/zylos/pkg/model"
)

// Store is the part of the local store the sync merger writes into.
type Store interface {
	MergePost(p model.Post) bool
	ReplacePosts(posts []model.Post)
	AppendMessage(chatID string, msg model.Message) bool
}

// Sync publishes local changes to a Channel and merges what other contexts
// publish into the local Store.
type Sync struct {
	store Store
	ch    Channel
}

func NewSync(st Store, ch Channel) *Sync {
	s := &Sync{store: st, ch: ch}
	ch.Subscribe(s.Apply)
	return s
}

// Apply merges one inbound event. Replays are harmless: posts and messages
// are keyed by id.
func (s *Sync) Apply(e Event) {
	decoded, err := e.Decode()
	if err != nil {
		log.Printf("broadcast: %v", err)
		return
	}
	switch ev := decoded.(type) {
	case PostCreated:
		s.store.MergePost(ev.Post)
	case PostsSynced:
		s.store.ReplacePosts(ev.Posts)
	case MessageAdded:
		s.store.AppendMessage(ev.ChatID, ev.Message)
	case Unknown:
		log.Printf("broadcast: ignoring unknown event type %q", ev.Type)
	}
}

// PublishPost announces a newly created post. Nobody listening is not an
// error; the local store already has the post.
func (s *Sync) PublishPost(ctx context.Context, p model.Post) {
	s.publish(ctx, func() (Event, error) { return NewPostEvent(p) })
}

// PublishPosts announces the whole feed after an in-place change such as a
// like.
func (s *Sync) PublishPosts(ctx context.Context, posts []model.Post) {
	s.publish(ctx, func() (Event, error) { return SyncPostsEvent(posts) })
}

func (s *Sync) PublishMessage(ctx context.Context, chatID string, msg model.Message) {
	s.publish(ctx, func() (Event, error) { return NewMessageEvent(chatID, msg) })
}

func (s *Sync) publish(ctx context.Context, build func() (Event, error)) {
	e, err := build()
	if err != nil {
		log.Printf("broadcast: %v", err)
		return
	}
	if err := s.ch.Publish(ctx, e); err != nil {
		log.Printf("broadcast: failed to publish %s: %v", e.Type, err)
	}
}

func (s *Sync) Close() error {
	return s.ch.Close()
}
