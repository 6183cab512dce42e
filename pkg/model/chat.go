package model

type P2PStatus string

const (
	P2PDisconnected P2PStatus = "disconnected"
	P2PConnecting   P2PStatus = "connecting"
	P2PConnected    P2PStatus = "connected"
	P2PError        P2PStatus = "error"
)

type Chat struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	IsGroup      bool      `json:"isGroup"`
	GroupName    string    `json:"groupName,omitempty"`
	GroupAvatar  string    `json:"groupAvatar,omitempty"`
	P2PStatus    P2PStatus `json:"p2pStatus,omitempty"`
}

func (c Chat) Clone() Chat {
	c.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		m := c.LastMessage.Clone()
		c.LastMessage = &m
	}
	return c
}

// HasParticipant reports whether id takes part in the chat.
func (c Chat) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Others returns every participant except self, in participant order.
func (c Chat) Others(self string) []string {
	var others []string
	for _, p := range c.Participants {
		if p != self && p != "" {
			others = append(others, p)
		}
	}
	return others
}

// IsDirectBetween reports whether c is a two-party chat made of exactly a and b.
func (c Chat) IsDirectBetween(a, b string) bool {
	if c.IsGroup || len(c.Participants) != 2 {
		return false
	}
	return (c.Participants[0] == a && c.Participants[1] == b) ||
		(c.Participants[0] == b && c.Participants[1] == a)
}
