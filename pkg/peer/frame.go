package peer

import (
	"encoding/json"
	"fmt"

	"github.com/mahaj/zylos/pkg/model"
)

type FrameType string

const (
	TypeHello    FrameType = "HELLO"
	TypeHelloAck FrameType = "HELLO_ACK"
	TypeChatMsg  FrameType = "CHAT_MSG"
	TypeChatAck  FrameType = "CHAT_ACK"
)

// header is read first to pick the variant. The variant's own fields sit
// next to type in the same object: {"type":"CHAT_MSG","chatId":...}.
type header struct {
	Type FrameType `json:"type"`
}

// Payload is one of Hello, HelloAck, ChatMsg, ChatAck or Unknown.
type Payload interface {
	frameType() FrameType
}

// Hello opens a connection. From is the sender's peer address; the rest
// describes the user behind it so the receiver can show a name.
type Hello struct {
	From     string `json:"from"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// HelloAck answers a Hello with the acceptor's own identity.
type HelloAck Hello

// ChatMsg carries one message. Participants and GroupName let the receiver
// create a group chat it has never seen.
type ChatMsg struct {
	ChatID       string        `json:"chatId"`
	Participants []string      `json:"participants,omitempty"`
	GroupName    string        `json:"groupName,omitempty"`
	Message      model.Message `json:"message"`
}

type ChatAck struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// Unknown is a frame type this build does not understand.
type Unknown struct{ Type FrameType }

func (Hello) frameType() FrameType     { return TypeHello }
func (HelloAck) frameType() FrameType  { return TypeHelloAck }
func (ChatMsg) frameType() FrameType   { return TypeChatMsg }
func (ChatAck) frameType() FrameType   { return TypeChatAck }
func (u Unknown) frameType() FrameType { return u.Type }

func Encode(p Payload) ([]byte, error) {
	if _, ok := p.(Unknown); ok {
		return nil, fmt.Errorf("peer: cannot encode unknown frame %q", p.frameType())
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("peer: encoding %s: %w", p.frameType(), err)
	}
	typ, err := json.Marshal(p.frameType())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if fields := body[1 : len(body)-1]; len(fields) > 0 {
		out = append(out, ',')
		out = append(out, fields...)
	}
	return append(out, '}'), nil
}

func Decode(data []byte) (Payload, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("peer: decoding frame: %w", err)
	}

	switch h.Type {
	case TypeHello:
		var p Hello
		if err := decodeAs(h.Type, data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeHelloAck:
		var p HelloAck
		if err := decodeAs(h.Type, data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeChatMsg:
		var p ChatMsg
		if err := decodeAs(h.Type, data, &p); err != nil {
			return nil, err
		}
		if p.ChatID == "" || p.Message.ID == "" {
			return nil, fmt.Errorf("peer: %s without chatId or message id", h.Type)
		}
		return p, nil
	case TypeChatAck:
		var p ChatAck
		if err := decodeAs(h.Type, data, &p); err != nil {
			return nil, err
		}
		if p.ChatID == "" || p.MessageID == "" {
			return nil, fmt.Errorf("peer: %s without chatId or messageId", h.Type)
		}
		return p, nil
	default:
		return Unknown{Type: h.Type}, nil
	}
}

func decodeAs(t FrameType, data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("peer: decoding %s: %w", t, err)
	}
	return nil
}
