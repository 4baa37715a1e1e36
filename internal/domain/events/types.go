package events

import (
	"encoding/json"
	"time"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

// Message - общее событие сигналинга
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Исходящие события
const (
	TypeJoinRoom    = "join-room"
	TypeLeaveRoom   = "leave-room"
	TypeSendChat    = "send-chat"
	TypeSetPresence = "set-presence"
	TypeRaiseHand   = "raise-hand"
)

// Входящие события
const (
	TypeChatMessage       = "chat-message"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeSessionEnded      = "session-ended"
	TypeForceMute         = "force-mute"
	TypeForceVideo        = "force-video"
	TypeForceKick         = "force-kick"
	TypeHandRaiseAck      = "hand-raise-ack"
	TypeScreenShare       = "remote-screen-share"
	TypeError             = "error"
)

// RoomEvent - join-room / leave-room
type RoomEvent struct {
	SessionID string `json:"sessionId"`
}

type SendChatEvent struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type PresenceEvent struct {
	SessionID    string `json:"sessionId"`
	Muted        bool   `json:"muted"`
	VideoEnabled bool   `json:"videoEnabled"`
}

type RaiseHandEvent struct {
	SessionID string `json:"sessionId"`
	Raised    bool   `json:"raised"`
}

// Входящие payload'ы. Обязательные bool-поля указателями, чтобы отличить отсутствие от false.

type chatMessagePayload struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	SenderRole models.Role `json:"senderRole"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
}

type participantPayload struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role models.Role `json:"role"`
}

type sessionEndedPayload struct {
	SessionID string `json:"sessionId"`
}

type forceMutePayload struct {
	UserID string `json:"userId"`
	Muted  *bool  `json:"muted"`
}

type forceVideoPayload struct {
	UserID       string `json:"userId"`
	VideoEnabled *bool  `json:"videoEnabled"`
}

type forceKickPayload struct {
	UserID string `json:"userId"`
}

type handRaiseAckPayload struct {
	Raised *bool `json:"raised"`
}

type screenSharePayload struct {
	UserID string `json:"userId"`
	Active *bool  `json:"active"`
}

type errorPayload struct {
	Message string `json:"message"`
}
