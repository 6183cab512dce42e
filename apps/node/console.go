package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/session"
	"github.com/mahaj/zylos/pkg/store"
)

const help = `commands:
  /login <name>            log in, switching user if needed
  /logout                  log out and go offline
  /chat <user>             open a direct chat
  /group <name> <users..>  create and open a group chat
  /open <chatId>           open an existing chat
  /chats                   list chats
  /history                 show the active chat
  /post <text>             publish a post
  /feed                    list posts
  /like <postId>           toggle a like
  /follow <user>           toggle following
  /users                   list known users
  /suggest                 suggest quick replies
  /summary                 summarize the active chat
  /seen <msgId> <attId>    mark a view-once attachment seen
  /help
  /quit
anything else is sent to the active chat`

type console struct {
	client *session.Client
	out    io.Writer

	mu      sync.Mutex
	printed map[string]bool
}

func newConsole(c *session.Client, out io.Writer) *console {
	con := &console{client: c, out: out, printed: make(map[string]bool)}
	c.Store().OnChange(con.changed)
	return con
}

func (con *console) printf(format string, args ...any) {
	con.mu.Lock()
	defer con.mu.Unlock()
	fmt.Fprintf(con.out, format, args...)
}

// changed prints incoming messages for the active chat and reports failed
// sends. Each message is printed once per status.
func (con *console) changed(c store.Change) {
	if c.Kind != store.ChangeMessages {
		return
	}
	st := con.client.Store()
	if c.ChatID != st.ActiveChatID() {
		return
	}
	msg, ok := st.Message(c.ChatID, c.MessageID)
	if !ok {
		return
	}
	me, _ := st.CurrentUser()

	key := msg.ID + "/" + string(msg.Status)
	con.mu.Lock()
	defer con.mu.Unlock()
	if con.printed[key] {
		return
	}
	con.printed[key] = true

	switch {
	case msg.SenderID != me.ID:
		fmt.Fprintf(con.out, "\r%s: %s\n> ", st.DisplayName(msg.SenderID), describe(msg))
	case msg.Status == model.StatusFailed:
		fmt.Fprintf(con.out, "\r! not delivered: %s\n> ", describe(msg))
	}
}

func (con *console) loop(ctx context.Context, lines <-chan string) error {
	con.printf("> ")
	for {
		select {
		case <-ctx.Done():
			con.printf("\n")
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := con.exec(ctx, strings.TrimSpace(text)); quit {
				return nil
			}
			con.printf("> ")
		}
	}
}

// exec runs one line of input and reports whether the user asked to quit.
func (con *console) exec(ctx context.Context, text string) bool {
	if text == "" {
		return false
	}
	if !strings.HasPrefix(text, "/") {
		con.send(ctx, text)
		return false
	}

	cmd, args := splitCommand(text)
	c := con.client
	st := c.Store()

	switch cmd {
	case "/quit":
		return true
	case "/help":
		con.printf("%s\n", help)
	case "/login":
		if len(args) != 1 {
			con.printf("usage: /login <name>\n")
			break
		}
		con.login(ctx, args[0])
	case "/logout":
		if err := c.Logout(ctx); err != nil {
			con.printf("logout: %v\n", err)
		}
		con.printf("logged out\n")
	case "/chat":
		if len(args) != 1 {
			con.printf("usage: /chat <user>\n")
			break
		}
		con.open(c.CreateChat(strings.ToLower(args[0])))
	case "/group":
		if len(args) < 2 {
			con.printf("usage: /group <name> <users..>\n")
			break
		}
		members := make([]string, 0, len(args)-1)
		for _, a := range args[1:] {
			members = append(members, strings.ToLower(a))
		}
		con.open(c.CreateGroupChat(args[0], members...))
	case "/open":
		if len(args) != 1 {
			con.printf("usage: /open <chatId>\n")
			break
		}
		con.open(args[0])
	case "/chats":
		for _, chat := range st.Chats() {
			con.printf("%s  %s  [%s]\n", chat.ID, con.title(chat), chat.P2PStatus)
		}
	case "/history":
		con.history()
	case "/post":
		if p := c.CreatePost(ctx, strings.Join(args, " ")); p == nil {
			con.printf("nothing posted\n")
		} else {
			con.printf("posted %s\n", p.ID)
		}
	case "/feed":
		for _, p := range st.Posts() {
			con.printf("%s  %s: %s  (%d likes)\n", p.ID, st.DisplayName(p.AuthorID), p.Content, len(p.Likes))
		}
	case "/like":
		if len(args) != 1 || !c.LikePost(ctx, args[0]) {
			con.printf("usage: /like <postId>\n")
		}
	case "/follow":
		if len(args) != 1 || !c.FollowUser(strings.ToLower(args[0])) {
			con.printf("usage: /follow <user>\n")
		}
	case "/users":
		for _, u := range st.Users() {
			con.printf("%s  %s  following %d\n", u.ID, u.Username, len(u.Following))
		}
	case "/suggest":
		for i, r := range c.SuggestReplies(ctx) {
			con.printf("%d. %s\n", i+1, r)
		}
	case "/summary":
		con.printf("%s\n", c.Summarize(ctx))
	case "/seen":
		if len(args) != 2 || !c.MarkViewOnceAsSeen(args[0], args[1]) {
			con.printf("usage: /seen <msgId> <attId>\n")
		}
	default:
		con.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func (con *console) login(ctx context.Context, name string) {
	u, err := con.client.Login(ctx, name)
	if err != nil {
		con.printf("login: %v\n", err)
		return
	}
	con.printf("logged in as %s, reachable at %s\n", u.Username, con.client.Session().Endpoint())
}

func (con *console) open(chatID string) {
	if chatID == "" || !con.client.OpenChat(chatID) {
		con.printf("no such chat\n")
		return
	}
	chat, _ := con.client.Store().Chat(chatID)
	con.printf("now in %s\n", con.title(chat))
	con.history()
}

func (con *console) send(ctx context.Context, text string) {
	if con.client.Store().ActiveChatID() == "" {
		con.printf("open a chat first, try /help\n")
		return
	}
	if msg := con.client.SendMessage(ctx, text); msg == nil {
		con.printf("not sent\n")
	}
}

func (con *console) history() {
	st := con.client.Store()
	for _, m := range st.Messages(st.ActiveChatID()) {
		ts := time.UnixMilli(m.Timestamp).Format("15:04")
		con.printf("[%s] %s: %s (%s)\n", ts, st.DisplayName(m.SenderID), describe(m), m.Status)
	}
}

func (con *console) title(chat model.Chat) string {
	if chat.IsGroup {
		return chat.GroupName
	}
	st := con.client.Store()
	me, _ := st.CurrentUser()
	names := make([]string, 0, len(chat.Participants))
	for _, id := range chat.Others(me.ID) {
		names = append(names, st.DisplayName(id))
	}
	return strings.Join(names, ", ")
}

func describe(m model.Message) string {
	if len(m.Attachments) == 0 {
		return m.Content
	}
	return fmt.Sprintf("%s [%d attachments]", m.Content, len(m.Attachments))
}

func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	return strings.ToLower(fields[0]), fields[1:]
}
