package store

import "github.com/mahaj/zylos/pkg/model"

func (s *Store) CurrentUser() (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == nil {
		return model.User{}, false
	}
	return s.currentUser.Clone(), true
}

func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

// Users returns every known user ordered by id.
func (s *Store) Users() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersLocked()
}

func (s *Store) User(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, false
	}
	return u.Clone(), true
}

// DisplayName resolves id to a username, falling back to a placeholder.
func (s *Store) DisplayName(id string) string {
	if u, ok := s.User(id); ok && u.Username != "" {
		return u.Username
	}
	return model.UnknownUser
}

// Chats returns the chat list, most recently created first.
func (s *Store) Chats() []model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Chat, len(s.chats))
	for i, c := range s.chats {
		out[i] = c.Clone()
	}
	return out
}

func (s *Store) Chat(id string) (model.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.chatIndex(id); idx >= 0 {
		return s.chats[idx].Clone(), true
	}
	return model.Chat{}, false
}

// Posts returns the feed, newest first.
func (s *Store) Posts() []model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePosts(s.posts)
}

func (s *Store) Post(id string) (model.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.postIndex(id); idx >= 0 {
		return s.posts[idx].Clone(), true
	}
	return model.Post{}, false
}

// Messages returns chatID's messages in insertion order.
func (s *Store) Messages(chatID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Message(chatID, messageID string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

func clonePosts(posts []model.Post) []model.Post {
	out := make([]model.Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out
}
