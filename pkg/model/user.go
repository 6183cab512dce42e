package model

type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
	PresenceAway    Presence = "away"
)

// UnknownUser is shown wherever an id does not resolve to a known user.
const UnknownUser = "Unknown"

type User struct {
	ID         string   `json:"id"`
	Username   string   `json:"username"`
	Avatar     string   `json:"avatar"`
	Status     Presence `json:"status"`
	IsVerified bool     `json:"isVerified,omitempty"`
	Following  []string `json:"following"`
	Followers  []string `json:"followers"`
}

func (u User) Clone() User {
	u.Following = append([]string{}, u.Following...)
	u.Followers = append([]string{}, u.Followers...)
	return u
}

type Post struct {
	ID          string       `json:"id"`
	AuthorID    string       `json:"authorId"`
	Content     string       `json:"content"`
	Timestamp   int64        `json:"timestamp"`
	Likes       []string     `json:"likes"`
	Replies     []Post       `json:"replies"`
	Reposts     []string     `json:"reposts"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (p Post) Clone() Post {
	p.Likes = append([]string{}, p.Likes...)
	p.Reposts = append([]string{}, p.Reposts...)
	if p.Attachments != nil {
		p.Attachments = append([]Attachment(nil), p.Attachments...)
	}
	replies := make([]Post, len(p.Replies))
	for i, r := range p.Replies {
		replies[i] = r.Clone()
	}
	p.Replies = replies
	return p
}

// Toggle adds id to set when absent and removes it when present. The
// returned slice is always non-nil so it marshals as [].
func Toggle(set []string, id string) (out []string, added bool) {
	out = make([]string, 0, len(set)+1)
	for _, v := range set {
		if v == id {
			continue
		}
		out = append(out, v)
	}
	if len(out) == len(set) {
		return append(out, id), true
	}
	return out, false
}

// Contains reports whether id is a member of set.
func Contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
