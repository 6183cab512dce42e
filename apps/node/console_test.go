package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/zylos/pkg/kv"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/session"
	"github.com/mahaj/zylos/pkg/store"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConsole(t *testing.T) (*console, *syncBuffer) {
	t.Helper()
	st, err := store.New(context.Background(), store.Config{Backend: kv.NewMemory()})
	require.NoError(t, err)
	c := session.NewClient(st, session.Options{ConnectTimeout: time.Second})
	t.Cleanup(func() { c.Close(context.Background()) })
	out := &syncBuffer{}
	return newConsole(c, out), out
}

func TestConsoleChatFlow(t *testing.T) {
	con, out := newTestConsole(t)
	ctx := context.Background()

	assert.False(t, con.exec(ctx, "/login alice"))
	assert.Contains(t, out.String(), "logged in as alice")

	con.exec(ctx, "/chat Bob")
	st := con.client.Store()
	assert.Equal(t, "dm:alice:bob", st.ActiveChatID())

	con.exec(ctx, "hello bob")
	msgs := st.Messages("dm:alice:bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello bob", msgs[0].Content)

	// nobody is listening as bob, so the send fails and is reported once.
	require.Eventually(t, func() bool {
		m, _ := st.Message("dm:alice:bob", msgs[0].ID)
		return m.Status == model.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return bytes.Count([]byte(out.String()), []byte("not delivered")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConsoleCommands(t *testing.T) {
	con, out := newTestConsole(t)
	ctx := context.Background()

	con.exec(ctx, "hi")
	assert.Contains(t, out.String(), "open a chat first")

	con.exec(ctx, "/login alice")
	con.exec(ctx, "/post first post")
	require.Len(t, con.client.Store().Posts(), 1)

	con.exec(ctx, "/feed")
	assert.Contains(t, out.String(), "alice: first post  (0 likes)")

	con.exec(ctx, "/group team bob carol")
	chat, ok := con.client.Store().Chat(con.client.Store().ActiveChatID())
	require.True(t, ok)
	assert.True(t, chat.IsGroup)
	assert.Equal(t, "team", chat.GroupName)

	con.exec(ctx, "/open nope")
	assert.Contains(t, out.String(), "no such chat")

	con.exec(ctx, "/bogus")
	assert.Contains(t, out.String(), "unknown command /bogus")

	assert.True(t, con.exec(ctx, "/QUIT"))
}

func TestConsoleLoopStopsOnEOF(t *testing.T) {
	con, _ := newTestConsole(t)
	lines := make(chan string, 1)
	lines <- "/help"
	close(lines)
	assert.NoError(t, con.loop(context.Background(), lines))
}
