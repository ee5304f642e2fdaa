package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/tablelink/internal/domain"
)

var ErrUnknownType = errors.New("unknown message type")

// MessageType is the closed set of envelope types.
type MessageType string

const (
	TypeDiceRoll        MessageType = "dice_roll"
	TypeCombatUpdate    MessageType = "combat_update"
	TypeCombatantUpdate MessageType = "combatant_update"
	TypeRoomInfo        MessageType = "room_info"
	TypeUserJoin        MessageType = "user_join"
	TypeUserLeave       MessageType = "user_leave"
	TypeChatMessage     MessageType = "chat_message"
)

// MessageTypes lists every valid type.
var MessageTypes = []MessageType{
	TypeDiceRoll, TypeCombatUpdate, TypeCombatantUpdate,
	TypeRoomInfo, TypeUserJoin, TypeUserLeave, TypeChatMessage,
}

func (t MessageType) Valid() bool {
	switch t {
	case TypeDiceRoll, TypeCombatUpdate, TypeCombatantUpdate,
		TypeRoomInfo, TypeUserJoin, TypeUserLeave, TypeChatMessage:
		return true
	}
	return false
}

func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// RawPayload is a payload already encoded with the session codec. It is
// embedded as-is, so the router can forward payloads it never decodes.
type RawPayload []byte

func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *RawPayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

func (p RawPayload) MarshalCBOR() ([]byte, error) {
	if len(p) == 0 {
		return []byte{0xf6}, nil // null
	}
	return p, nil
}

func (p *RawPayload) UnmarshalCBOR(data []byte) error {
	if len(data) == 1 && data[0] == 0xf6 {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

// Envelope is the typed message wrapper. It is not modified after sending;
// relays forward the original frame.
type Envelope struct {
	Type       MessageType          `json:"type"`
	Payload    RawPayload           `json:"payload"`
	Timestamp  int64                `json:"timestamp"`
	SenderID   domain.ParticipantID `json:"senderId"`
	SenderName string               `json:"senderName"`
	// Seq carries the hub's roster version on roster-mutating envelopes the
	// hub originates; zero elsewhere.
	Seq uint64 `json:"seq,omitempty"`
}

// Membership payloads.
type (
	JoinPayload struct {
		UserID   domain.ParticipantID `json:"userId"`
		UserName string               `json:"userName"`
	}
	LeavePayload struct {
		UserID domain.ParticipantID `json:"userId"`
	}
	RoomInfoPayload struct {
		Members []domain.Member `json:"members"`
	}
)

// NewEnvelope encodes payload with c and stamps the current time.
func NewEnvelope(c Codec, t MessageType, payload any, senderID domain.ParticipantID, senderName string) (Envelope, error) {
	if !t.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	var raw RawPayload
	switch p := payload.(type) {
	case RawPayload:
		raw = p
	case nil:
	default:
		b, err := c.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		raw = b
	}
	return Envelope{
		Type:       t,
		Payload:    raw,
		Timestamp:  time.Now().UnixMilli(),
		SenderID:   senderID,
		SenderName: senderName,
	}, nil
}

// DecodePayload decodes the payload into v.
func (e Envelope) DecodePayload(c Codec, v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return c.Unmarshal(e.Payload, v)
}

func EncodeEnvelope(c Codec, e Envelope) (Frame, error) {
	b, err := c.Marshal(e)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// DecodeEnvelope rejects frames whose type is outside the closed set.
func DecodeEnvelope(c Codec, f Frame) (Envelope, error) {
	var e Envelope
	if err := c.Unmarshal(f, &e); err != nil {
		return Envelope{}, err
	}
	if !e.Type.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return e, nil
}
