package session

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/zylos/pkg/broadcast"
	"github.com/mahaj/zylos/pkg/collab"
	"github.com/mahaj/zylos/pkg/kv"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/peer"
	"github.com/mahaj/zylos/pkg/store"
)

func newStore(t *testing.T, backend kv.Backend) *store.Store {
	t.Helper()
	st, err := store.New(context.Background(), store.Config{Backend: backend})
	require.NoError(t, err)
	return st
}

func newClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	c := NewClient(newStore(t, kv.NewMemory()), opts)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func login(t *testing.T, c *Client, name string) model.User {
	t.Helper()
	u, err := c.Login(context.Background(), name)
	require.NoError(t, err)
	return u
}

func hubChannel(t *testing.T) func(context.Context) (broadcast.Channel, error) {
	t.Helper()
	h := broadcast.NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return func(context.Context) (broadcast.Channel, error) { return h.Join(), nil }
}

func TestLoginValidation(t *testing.T) {
	c := newClient(t, Options{})
	_, err := c.Login(context.Background(), " ab ")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	refusing := newClient(t, Options{Verifier: collab.StaticVerifier(false)})
	_, err = refusing.Login(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotVerified)
	_, ok := refusing.Store().CurrentUser()
	assert.False(t, ok)
	assert.Nil(t, refusing.Session())
}

func TestOperationsNeedASession(t *testing.T) {
	c := newClient(t, Options{})
	ctx := context.Background()
	assert.Nil(t, c.SendMessage(ctx, "hi"))
	assert.Nil(t, c.CreatePost(ctx, "hi"))
	assert.False(t, c.LikePost(ctx, "post_1"))
	assert.False(t, c.FollowUser("bob"))
	assert.Empty(t, c.CreateChat("bob"))
	assert.False(t, c.OpenChat("dm:alice:bob"))
	assert.False(t, c.MarkViewOnceAsSeen("m", "a"))
}

// alice messages bob, who has never talked to her before.
func TestScenarioDirectMessage(t *testing.T) {
	dir := peer.NewStaticDirectory()
	alice := newClient(t, Options{Directory: dir})
	bob := newClient(t, Options{Directory: dir})
	login(t, alice, "alice")
	login(t, bob, "bob")

	chatID := alice.CreateChat("bob")
	assert.Equal(t, "dm:alice:bob", chatID)
	require.True(t, alice.OpenChat(chatID))
	assert.Equal(t, peer.StateAbsent, alice.Session().PeerState("bob"))

	msg := alice.SendMessage(context.Background(), "hello")
	require.NotNil(t, msg)
	local := alice.Store().Messages(chatID)
	require.Len(t, local, 1, "committed before any network outcome")
	assert.Equal(t, "hello", local[0].Content)
	assert.Equal(t, "alice", local[0].SenderID)

	require.Eventually(t, func() bool {
		got, ok := bob.Store().Message(chatID, msg.ID)
		return ok && got.Content == "hello"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		got, _ := alice.Store().Message(chatID, msg.ID)
		return got.Status == model.StatusDelivered
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, peer.StateOpen, alice.Session().PeerState("bob"))
	require.Eventually(t, func() bool {
		chat, _ := alice.Store().Chat(chatID)
		return chat.P2PStatus == model.P2PConnected
	}, 5*time.Second, 10*time.Millisecond)

	bobChat, ok := bob.Store().Chat(chatID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob"}, bobChat.Participants)
	assert.Equal(t, "alice", bob.Store().DisplayName("alice"))

	// bob replies over the same connection.
	require.True(t, bob.OpenChat(chatID))
	reply := bob.SendMessage(context.Background(), "hey alice")
	require.NotNil(t, reply)
	require.Eventually(t, func() bool {
		_, ok := alice.Store().Message(chatID, reply.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, alice.Store().Messages(chatID), 2)
}

// A retransmitted CHAT_MSG is stored once but acknowledged every time.
func TestDuplicateFrameAckedTwiceStoredOnce(t *testing.T) {
	bob := newClient(t, Options{Directory: peer.NewStaticDirectory()})
	login(t, bob, "bob")

	ws, _, err := websocket.DefaultDialer.Dial(bob.Session().Endpoint(), nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() peer.Payload {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		p, err := peer.Decode(data)
		require.NoError(t, err)
		return p
	}

	hello, err := peer.Encode(peer.Hello{From: "zylos-node-alice", UserID: "alice", Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, hello))
	ack, ok := read().(peer.HelloAck)
	require.True(t, ok)
	assert.Equal(t, "zylos-node-bob", ack.From)

	frame, err := peer.Encode(peer.ChatMsg{
		ChatID:  "dm:alice:bob",
		Message: model.Message{ID: "msg_1", SenderID: "alice", Content: "hi", Status: model.StatusSent},
	})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))

	for i := 0; i < 2; i++ {
		got, ok := read().(peer.ChatAck)
		require.True(t, ok)
		assert.Equal(t, peer.ChatAck{ChatID: "dm:alice:bob", MessageID: "msg_1"}, got)
	}

	msgs := bob.Store().Messages("dm:alice:bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, model.StatusDelivered, msgs[0].Status)
}

func TestSendToOfflinePeerFails(t *testing.T) {
	alice := newClient(t, Options{})
	login(t, alice, "alice")
	chatID := alice.CreateChat("ghost")
	require.True(t, alice.OpenChat(chatID))

	msg := alice.SendMessage(context.Background(), "anyone?")
	require.NotNil(t, msg)
	require.Eventually(t, func() bool {
		got, _ := alice.Store().Message(chatID, msg.ID)
		return got.Status == model.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		chat, _ := alice.Store().Chat(chatID)
		return chat.P2PStatus == model.P2PError
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, alice.Store().Messages(chatID), 1)
}

// Two contexts on one device share posts through the broadcast channel.
func TestScenarioPostSync(t *testing.T) {
	channel := hubChannel(t)
	first := newClient(t, Options{Channel: channel})
	second := newClient(t, Options{Channel: channel})
	login(t, first, "alice")
	login(t, second, "alice")

	p1 := first.CreatePost(context.Background(), "p1")
	require.NotNil(t, p1)

	require.Eventually(t, func() bool { return len(second.Store().Posts()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	posts := second.Store().Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, p1.ID, posts[0].ID)

	require.True(t, first.LikePost(context.Background(), p1.ID))
	require.Eventually(t, func() bool {
		p, ok := second.Store().Post(p1.ID)
		return ok && assert.ObjectsAreEqual([]string{"alice"}, p.Likes)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScenarioFollowParity(t *testing.T) {
	c := newClient(t, Options{})
	login(t, c, "alice")

	following := func() []string {
		u, ok := c.Store().CurrentUser()
		require.True(t, ok)
		return u.Following
	}
	for i := 0; i < 3; i++ {
		require.True(t, c.FollowUser("bob"))
	}
	assert.Contains(t, following(), "bob")
	require.True(t, c.FollowUser("bob"))
	assert.NotContains(t, following(), "bob")
}

func TestLogoutTearsSessionDown(t *testing.T) {
	dir := peer.NewStaticDirectory()
	c := newClient(t, Options{Directory: dir})
	login(t, c, "alice")
	chatID := c.CreateChat("bob")
	require.NotEmpty(t, chatID)

	_, err := dir.Resolve(context.Background(), "zylos-node-alice")
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	assert.Nil(t, c.Session())
	_, ok := c.Store().CurrentUser()
	assert.False(t, ok)
	_, err = dir.Resolve(context.Background(), "zylos-node-alice")
	assert.ErrorIs(t, err, peer.ErrUnknownPeer)

	_, ok = c.Store().Chat(chatID)
	assert.True(t, ok, "history stays on the device")
}

func TestLoginSwitchesUser(t *testing.T) {
	dir := peer.NewStaticDirectory()
	c := newClient(t, Options{Directory: dir})
	login(t, c, "alice")
	login(t, c, "carol")

	assert.Equal(t, "carol", c.Session().User().ID)
	_, err := dir.Resolve(context.Background(), "zylos-node-alice")
	assert.ErrorIs(t, err, peer.ErrUnknownPeer)
	_, err = dir.Resolve(context.Background(), "zylos-node-carol")
	assert.NoError(t, err)
}

func TestResumeAfterRestart(t *testing.T) {
	backend := kv.NewMemory()
	first := NewClient(newStore(t, backend), Options{})
	login(t, first, "alice")
	require.NoError(t, first.Close(context.Background()))

	second := NewClient(newStore(t, backend), Options{})
	t.Cleanup(func() { second.Close(context.Background()) })
	u, ok, err := second.Resume(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", u.ID)
	require.NotNil(t, second.Session())

	empty := newClient(t, Options{})
	_, ok, err = empty.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssistantFallbacks(t *testing.T) {
	c := newClient(t, Options{})
	login(t, c, "alice")
	assert.Equal(t, collab.DefaultReplies, c.SuggestReplies(context.Background()))
	assert.Equal(t, collab.NoAssistantSummary, c.Summarize(context.Background()))
}

type echoAssistant struct{ seen []string }

func (e *echoAssistant) SuggestReplies(_ context.Context, recent []string) ([]string, error) {
	e.seen = recent
	return []string{"ok"}, nil
}

func (e *echoAssistant) Summarize(_ context.Context, transcript []string) (string, error) {
	e.seen = transcript
	return "short", nil
}

func TestSummarizeUsesDisplayNames(t *testing.T) {
	a := &echoAssistant{}
	c := newClient(t, Options{Assistant: a})
	login(t, c, "alice")
	chatID := c.CreateChat("bob")
	require.True(t, c.OpenChat(chatID))
	require.NotNil(t, c.SendMessage(context.Background(), "hi bob"))

	assert.Equal(t, "short", c.Summarize(context.Background()))
	assert.Equal(t, []string{"alice: hi bob"}, a.seen)
	assert.Equal(t, []string{"ok"}, c.SuggestReplies(context.Background()))
	assert.Equal(t, []string{"hi bob"}, a.seen)
}
