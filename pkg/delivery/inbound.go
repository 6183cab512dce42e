package delivery

import (
	"context"
	"log"

	"github.com/mahaj/zylos/pkg/ident"
	"github.com/mahaj/zylos/pkg/model"
	"github.com/mahaj/zylos/pkg/peer"
)

// HandleHello remembers the user behind a newly connected peer so their
// name can be shown.
func (p *Pipeline) HandleHello(h peer.Hello) {
	if h.UserID == "" {
		return
	}
	p.store.RememberUser(model.User{
		ID:       h.UserID,
		Username: h.Username,
		Avatar:   h.Avatar,
		Status:   model.PresenceOnline,
	})
}

// HandleMessage stores a message a partner sent, creating the chat first
// when this is the first message of the conversation. Duplicates are
// dropped by the store.
func (p *Pipeline) HandleMessage(from string, m peer.ChatMsg) {
	if m.ChatID == "" || m.Message.ID == "" {
		log.Printf("delivery: dropping malformed CHAT_MSG from %s", from)
		return
	}

	participants := m.Participants
	if len(participants) == 0 {
		if a, b, ok := ident.ParseDirectChatID(m.ChatID); ok {
			participants = []string{a, b}
		} else if me, ok := p.store.CurrentUser(); ok {
			participants = []string{m.Message.SenderID, me.ID}
		}
	}
	p.store.EnsureChat(m.ChatID, participants, m.GroupName)

	msg := m.Message
	msg.Status = model.StatusDelivered
	if !p.store.AppendMessage(m.ChatID, msg) {
		return
	}
	if p.broadcast != nil {
		p.broadcast.PublishMessage(context.Background(), m.ChatID, msg)
	}
}

func (p *Pipeline) HandleAck(from string, a peer.ChatAck) {
	p.Acknowledge(from, a.ChatID, a.MessageID)
}
