// Package delivery turns a send request into a stored message plus one
// CHAT_MSG per partner, and applies what partners send back.
package delivery

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/zylos/pkg/ident"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/peer"
	"github.com/mahaj/zylos/pkg/snowflake"
)

const DefaultAckTimeout = 30 * time.Second

var ErrAckTimeout = errors.New("delivery: no acknowledgement")

// Store is the slice of the local store the pipeline reads and writes.
type Store interface {
	CurrentUser() (model.User, bool)
	ActiveChatID() string
	Chat(id string) (model.Chat, bool)
	AppendMessage(chatID string, msg model.Message) bool
	EnsureChat(chatID string, participants []string, groupName string) bool
	SetMessageStatus(chatID, messageID string, status model.MessageStatus) bool
	RememberUser(u model.User) bool
}

// Sender hands frames to remote peers. *peer.Manager implements it.
type Sender interface {
	Send(address string, p peer.Payload, done func(error))
}

// Publisher tells the other contexts on this device about a message.
type Publisher interface {
	PublishMessage(ctx context.Context, chatID string, msg model.Message)
}

// Cloud mirrors data to a remote backend. Calls run off the send path.
type Cloud interface {
	Sync(ctx context.Context, table string, data any) error
}

type Config struct {
	Store     Store
	Scheme    ident.Scheme
	IDs       *snowflake.Node
	Peers     Sender
	Broadcast Publisher
	Cloud     Cloud

	// AckTimeout is how long a transmitted message waits for CHAT_ACK
	// before it is marked failed. Defaults to 30s.
	AckTimeout time.Duration
	Now        func() time.Time
}

type Pipeline struct {
	store      Store
	scheme     ident.Scheme
	ids        *snowflake.Node
	broadcast  Publisher
	cloud      Cloud
	ackTimeout time.Duration
	now        func() time.Time

	mu       sync.Mutex
	peers    Sender
	lastTS   int64
	inflight map[flightKey]*flight
	closed   bool
}

type flightKey struct {
	chatID    string
	messageID string
}

// flight tracks one message until a partner acknowledges it or every
// partner has failed.
type flight struct {
	waiting map[string]*time.Timer // address -> ack timer, nil until written
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("delivery: store is required")
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
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		store:      cfg.Store,
		scheme:     cfg.Scheme,
		ids:        cfg.IDs,
		peers:      cfg.Peers,
		broadcast:  cfg.Broadcast,
		cloud:      cfg.Cloud,
		ackTimeout: cfg.AckTimeout,
		now:        cfg.Now,
		inflight:   make(map[flightKey]*flight),
	}, nil
}

// UsePeers sets the Sender after construction. The peer manager needs the
// pipeline as its inbound handler, so one of the two has to come second.
func (p *Pipeline) UsePeers(s Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = s
}

// timestamp returns now in milliseconds, bumped past the previous message so
// messages sent in one millisecond still sort in call order.
func (p *Pipeline) timestamp() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.now().UnixMilli()
	if ts <= p.lastTS {
		ts = p.lastTS + 1
	}
	p.lastTS = ts
	return ts
}

// SendMessage stores a new message in the active chat and transmits it to
// every other participant. It returns nil, doing nothing, when there is no
// current user or active chat, when both content and attachments are empty,
// or when the chat has no other participant. Network outcomes arrive later
// as status changes on the stored message.
func (p *Pipeline) SendMessage(ctx context.Context, content string, attachments ...model.Attachment) *model.Message {
	me, ok := p.store.CurrentUser()
	if !ok {
		return nil
	}
	chatID := p.store.ActiveChatID()
	if chatID == "" {
		return nil
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil
	}
	chat, ok := p.store.Chat(chatID)
	if !ok {
		return nil
	}
	partners := chat.Others(me.ID)
	if len(partners) == 0 {
		return nil
	}

	msg := model.Message{
		ID:        p.ids.ID("msg"),
		SenderID:  me.ID,
		Content:   content,
		Timestamp: p.timestamp(),
		Status:    model.StatusSent,
	}
	for _, a := range attachments {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		msg.Attachments = append(msg.Attachments, a)
	}
	if !p.store.AppendMessage(chatID, msg) {
		return nil
	}
	if p.broadcast != nil {
		p.broadcast.PublishMessage(ctx, chatID, msg)
	}

	frame := peer.ChatMsg{ChatID: chatID, Message: msg}
	if chat.IsGroup {
		frame.Participants = chat.Participants
		frame.GroupName = chat.GroupName
	}
	p.transmit(chatID, msg.ID, partners, frame)
	p.mirror(msg)
	return &msg
}

func (p *Pipeline) transmit(chatID, messageID string, partners []string, frame peer.ChatMsg) {
	key := flightKey{chatID: chatID, messageID: messageID}
	addrs := make([]string, 0, len(partners))
	f := &flight{waiting: make(map[string]*time.Timer, len(partners))}
	for _, id := range partners {
		addr := p.scheme.PeerAddress(id)
		if _, dup := f.waiting[addr]; dup {
			continue
		}
		f.waiting[addr] = nil
		addrs = append(addrs, addr)
	}

	p.mu.Lock()
	peers := p.peers
	if peers == nil || p.closed {
		p.mu.Unlock()
		log.Printf("delivery: no peer transport, %s stays local", messageID)
		p.store.SetMessageStatus(chatID, messageID, model.StatusFailed)
		return
	}
	p.inflight[key] = f
	p.mu.Unlock()

	for _, addr := range addrs {
		addr := addr
		peers.Send(addr, frame, func(err error) { p.written(key, addr, err) })
	}
}

// written runs once the frame for addr has gone out, or could not.
func (p *Pipeline) written(key flightKey, addr string, err error) {
	if err != nil {
		log.Printf("delivery: sending %s to %s failed: %v", key.messageID, addr, err)
		p.partnerFailed(key, addr)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.inflight[key]
	if !ok {
		return
	}
	if t, waiting := f.waiting[addr]; !waiting || t != nil {
		return
	}
	f.waiting[addr] = time.AfterFunc(p.ackTimeout, func() {
		log.Printf("delivery: %s: %v from %s", key.messageID, ErrAckTimeout, addr)
		p.partnerFailed(key, addr)
	})
}

// partnerFailed drops addr from the flight. The message is failed once no
// partner is left to acknowledge it.
func (p *Pipeline) partnerFailed(key flightKey, addr string) {
	p.mu.Lock()
	f, ok := p.inflight[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	if t := f.waiting[addr]; t != nil {
		t.Stop()
	}
	delete(f.waiting, addr)
	exhausted := len(f.waiting) == 0
	if exhausted {
		delete(p.inflight, key)
	}
	p.mu.Unlock()

	if exhausted {
		p.store.SetMessageStatus(key.chatID, key.messageID, model.StatusFailed)
	}
}

// Acknowledge marks a message delivered after a partner confirmed it. One
// acknowledgement is enough, also for group chats. Acks from addresses
// outside the chat are ignored.
func (p *Pipeline) Acknowledge(from, chatID, messageID string) {
	if !p.isPartner(chatID, from) {
		log.Printf("delivery: ignoring ack for %s from %s, not in %s", messageID, from, chatID)
		return
	}
	key := flightKey{chatID: chatID, messageID: messageID}
	p.mu.Lock()
	if f, ok := p.inflight[key]; ok {
		f.stop()
		delete(p.inflight, key)
	}
	p.mu.Unlock()

	if p.store.SetMessageStatus(chatID, messageID, model.StatusDelivered) {
		log.Printf("delivery: %s delivered to %s", messageID, from)
	}
}

// isPartner reports whether address belongs to another participant of
// chatID.
func (p *Pipeline) isPartner(chatID, address string) bool {
	me, ok := p.store.CurrentUser()
	if !ok {
		return false
	}
	chat, ok := p.store.Chat(chatID)
	if !ok {
		return false
	}
	for _, id := range chat.Others(me.ID) {
		if p.scheme.PeerAddress(id) == address {
			return true
		}
	}
	return false
}

func (f *flight) stop() {
	for _, t := range f.waiting {
		if t != nil {
			t.Stop()
		}
	}
}

func (p *Pipeline) mirror(msg model.Message) {
	if p.cloud == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.cloud.Sync(ctx, "messages", msg); err != nil {
			log.Printf("delivery: cloud sync of %s failed: %v", msg.ID, err)
		}
	}()
}

// Pending reports how many messages still wait for an acknowledgement.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Close stops every ack timer. Messages still in flight keep their status.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for key, f := range p.inflight {
		f.stop()
		delete(p.inflight, key)
	}
}
