package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/zylos/pkg/kv"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/store"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), store.Config{Backend: kv.NewMemory()})
	require.NoError(t, err)
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDecode(t *testing.T) {
	e, err := NewMessageEvent("dm:a:b", model.Message{ID: "m1", Content: "hi"})
	require.NoError(t, err)

	decoded, err := e.Decode()
	require.NoError(t, err)
	added, ok := decoded.(MessageAdded)
	require.True(t, ok)
	assert.Equal(t, "dm:a:b", added.ChatID)
	assert.Equal(t, "hi", added.Message.Content)

	decoded, err = Event{Type: "TYPING"}.Decode()
	require.NoError(t, err)
	assert.Equal(t, Unknown{Type: "TYPING"}, decoded)

	_, err = Event{Type: TypeNewPost, Payload: json.RawMessage(`"nope"`)}.Decode()
	assert.Error(t, err)
}

func TestWireShape(t *testing.T) {
	e, err := NewMessageEvent("c1", model.Message{ID: "m1"})
	require.NoError(t, err)
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "NEW_MESSAGE", raw["type"])
	payload := raw["payload"].(map[string]any)
	assert.Equal(t, "c1", payload["chatId"])
	assert.Equal(t, "m1", payload["message"].(map[string]any)["id"])
}

func TestHubSkipsPublisher(t *testing.T) {
	h := runHub(t)
	a, b, c := h.Join(), h.Join(), h.Join()
	var ra, rb, rc recorder
	a.Subscribe(ra.handle)
	b.Subscribe(rb.handle)
	c.Subscribe(rc.handle)

	e, err := NewPostEvent(model.Post{ID: "p1"})
	require.NoError(t, err)
	require.NoError(t, a.Publish(context.Background(), e))

	require.Eventually(t, func() bool { return rb.len() == 1 && rc.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, ra.len())
	rb.mu.Lock()
	defer rb.mu.Unlock()
	assert.Equal(t, a.Origin(), rb.events[0].Origin)
}

func TestHubUnobservedPublishSucceeds(t *testing.T) {
	h := runHub(t)
	a := h.Join()
	e, err := NewPostEvent(model.Post{ID: "p1"})
	require.NoError(t, err)
	assert.NoError(t, a.Publish(context.Background(), e))
}

func TestHubClosedMember(t *testing.T) {
	h := runHub(t)
	a, b := h.Join(), h.Join()
	var rb recorder
	b.Subscribe(rb.handle)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	e, _ := NewPostEvent(model.Post{ID: "p1"})
	require.NoError(t, a.Publish(context.Background(), e))
	assert.ErrorIs(t, b.Publish(context.Background(), e), ErrClosed)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rb.len())
}

func TestHubStopped(t *testing.T) {
	h := NewHub()
	go h.Run()
	a := h.Join()
	h.Stop()

	e, _ := NewPostEvent(model.Post{ID: "p1"})
	assert.ErrorIs(t, a.Publish(context.Background(), e), ErrClosed)
	assert.NoError(t, a.Close())
}

// Two contexts with their own stores, like two tabs of one device.
func TestSyncPostsBetweenContexts(t *testing.T) {
	h := runHub(t)
	st1, st2 := newStore(t), newStore(t)
	sync1 := NewSync(st1, h.Join())
	NewSync(st2, h.Join())

	st1.Login("alice")
	p1 := st1.CreatePost("p1")
	require.NotNil(t, p1)
	sync1.PublishPost(context.Background(), *p1)
	// A replay must not duplicate the post.
	sync1.PublishPost(context.Background(), *p1)

	require.Eventually(t, func() bool { return len(st2.Posts()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	posts := st2.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, p1.ID, posts[0].ID)

	liked, ok := st1.LikePost(p1.ID)
	require.True(t, ok)
	sync1.PublishPosts(context.Background(), liked)
	require.Eventually(t, func() bool {
		p, ok := st2.Post(p1.ID)
		return ok && len(p.Likes) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSyncMessagesAreIdempotent(t *testing.T) {
	h := runHub(t)
	st1, st2 := newStore(t), newStore(t)
	sync1 := NewSync(st1, h.Join())
	NewSync(st2, h.Join())

	msg := model.Message{ID: "m1", SenderID: "alice", Content: "hello"}
	for i := 0; i < 3; i++ {
		sync1.PublishMessage(context.Background(), "dm:alice:bob", msg)
	}

	require.Eventually(t, func() bool { return len(st2.Messages("dm:alice:bob")) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, st2.Messages("dm:alice:bob"), 1)
	assert.Empty(t, st1.Messages("dm:alice:bob"), "the publisher never hears itself")
}

func TestApplyIgnoresUnknownAndBroken(t *testing.T) {
	st := newStore(t)
	s := &Sync{store: st}
	s.Apply(Event{Type: "SOMETHING_NEW", Payload: json.RawMessage(`{}`)})
	s.Apply(Event{Type: TypeSyncPosts, Payload: json.RawMessage(`{"bad":true}`)})
	assert.Empty(t, st.Posts())
}
