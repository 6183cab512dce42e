package model

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
	StatusFailed    MessageStatus = "failed"
)

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
)

type Attachment struct {
	ID       string         `json:"id"`
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	Name     string         `json:"name"`
	Size     int64          `json:"size"`
	ViewOnce bool           `json:"viewOnce,omitempty"`
	Viewed   bool           `json:"viewed,omitempty"`
}

// Message is one entry of a chat's append-only sequence. Timestamp is unix
// milliseconds.
type Message struct {
	ID           string        `json:"id"`
	SenderID     string        `json:"senderId"`
	Content      string        `json:"content"`
	Timestamp    int64         `json:"timestamp"`
	Status       MessageStatus `json:"status"`
	Attachments  []Attachment  `json:"attachments,omitempty"`
	AutoDeleteAt *int64        `json:"autoDeleteAt,omitempty"`
	IsDeleted    bool          `json:"isDeleted,omitempty"`
}

// Clone returns a deep copy so callers never share attachment slices with the
// store.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.AutoDeleteAt != nil {
		at := *m.AutoDeleteAt
		m.AutoDeleteAt = &at
	}
	return m
}
