package store

import "github.com/mahaj/zylos/pkg/model"

// AppendMessage adds msg to the end of chatID's sequence. A message whose id
// is already stored is dropped, which makes replayed or duplicated deliveries
// harmless.
func (s *Store) AppendMessage(chatID string, msg model.Message) bool {
	if chatID == "" || msg.ID == "" {
		return false
	}

	s.mu.Lock()
	for _, m := range s.messages[chatID] {
		if m.ID == msg.ID {
			s.mu.Unlock()
			return false
		}
	}
	msg = msg.Clone()
	s.messages[chatID] = append(s.messages[chatID], msg)
	d := dirtyMessages
	if idx := s.chatIndex(chatID); idx >= 0 {
		last := msg.Clone()
		s.chats[idx].LastMessage = &last
		d |= dirtyChats
	}
	s.commit(d)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ChatID: chatID, MessageID: msg.ID})
	return true
}

// EnsureChat creates a chat with the given id and participants if no chat
// with that id exists. More than two participants make a group named
// groupName. Inbound peer messages use it so the first message of a
// conversation shows up on the receiving side.
func (s *Store) EnsureChat(chatID string, participants []string, groupName string) bool {
	if chatID == "" || len(participants) == 0 {
		return false
	}

	s.mu.Lock()
	if s.chatIndex(chatID) >= 0 {
		s.mu.Unlock()
		return false
	}
	chat := model.Chat{
		ID:           chatID,
		Participants: append([]string(nil), participants...),
		IsGroup:      len(participants) > 2,
		P2PStatus:    model.P2PDisconnected,
	}
	if chat.IsGroup {
		chat.GroupName = groupName
	}
	s.chats = append([]model.Chat{chat}, s.chats...)
	s.commit(dirtyChats)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeChats})
	return true
}

// MergePost prepends p unless a post with the same id is already present.
func (s *Store) MergePost(p model.Post) bool {
	if p.ID == "" {
		return false
	}

	s.mu.Lock()
	if s.postIndex(p.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.posts = append([]model.Post{p.Clone()}, s.posts...)
	s.commit(dirtyPosts)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePosts})
	return true
}

// ReplacePosts swaps the whole feed for posts, keeping the first occurrence
// of every id.
func (s *Store) ReplacePosts(posts []model.Post) {
	seen := make(map[string]bool, len(posts))
	next := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		next = append(next, p.Clone())
	}

	s.mu.Lock()
	s.posts = next
	s.commit(dirtyPosts)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePosts})
}

// SetMessageStatus updates the delivery status of one message. A delivered
// or seen message is never moved back to failed.
func (s *Store) SetMessageStatus(chatID, messageID string, status model.MessageStatus) bool {
	s.mu.Lock()
	msgs := s.messages[chatID]
	idx := -1
	for i := range msgs {
		if msgs[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 || msgs[idx].Status == status {
		s.mu.Unlock()
		return false
	}
	cur := msgs[idx].Status
	if status == model.StatusFailed && (cur == model.StatusDelivered || cur == model.StatusSeen) {
		s.mu.Unlock()
		return false
	}
	msgs[idx].Status = status
	d := dirtyMessages
	if c := s.chatIndex(chatID); c >= 0 && s.chats[c].LastMessage != nil && s.chats[c].LastMessage.ID == messageID {
		s.chats[c].LastMessage.Status = status
		d |= dirtyChats
	}
	s.commit(d)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ChatID: chatID, MessageID: messageID})
	return true
}

// SetPeerStatus sets the connectivity status of every direct chat between the
// current user and partnerID.
func (s *Store) SetPeerStatus(partnerID string, status model.P2PStatus) {
	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return
	}
	me := s.currentUser.ID
	changed := false
	for i := range s.chats {
		if s.chats[i].IsDirectBetween(me, partnerID) && s.chats[i].P2PStatus != status {
			s.chats[i].P2PStatus = status
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.commit(dirtyChats)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeChats})
}

// RememberUser records a user learned from the network. Known users are left
// alone so local follow state is not overwritten.
func (s *Store) RememberUser(u model.User) bool {
	if u.ID == "" {
		return false
	}

	s.mu.Lock()
	if _, ok := s.users[u.ID]; ok {
		s.mu.Unlock()
		return false
	}
	if u.Following == nil {
		u.Following = []string{}
	}
	if u.Followers == nil {
		u.Followers = []string{}
	}
	if u.Status == "" {
		u.Status = model.PresenceOnline
	}
	s.users[u.ID] = u.Clone()
	s.commit(dirtyUsers)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUser})
	return true
}

func (s *Store) chatIndex(chatID string) int {
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

func (s *Store) postIndex(postID string) int {
	for i := range s.posts {
		if s.posts[i].ID == postID {
			return i
		}
	}
	return -1
}
