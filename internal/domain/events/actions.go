package events

import (
	"encoding/json"
	"fmt"

	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/models"
)

// Action - типизированное входящее событие, которое потребляет координатор
type Action interface {
	action()
}

type ChatReceived struct {
	Message models.ChatMessage
}

type ParticipantJoined struct {
	Participant models.Participant
}

type ParticipantLeft struct {
	ID   string
	Name string
}

type SessionEnded struct {
	SessionID string
}

type ForceMute struct {
	UserID string
	Muted  bool
}

type ForceVideo struct {
	UserID       string
	VideoEnabled bool
}

type ForceKick struct {
	UserID string
}

type HandRaiseAck struct {
	Raised bool
}

type ScreenShareChanged struct {
	UserID string
	Active bool
}

type ServerError struct {
	Message string
}

func (ChatReceived) action()       {}
func (ParticipantJoined) action()  {}
func (ParticipantLeft) action()    {}
func (SessionEnded) action()       {}
func (ForceMute) action()          {}
func (ForceVideo) action()         {}
func (ForceKick) action()          {}
func (HandRaiseAck) action()       {}
func (ScreenShareChanged) action() {}
func (ServerError) action()        {}

// Decode превращает сообщение сигналинга в Action.
// Любая ошибка оборачивает domain.ErrMalformedEvent: такое событие логируется и отбрасывается.
func Decode(msg Message) (Action, error) {
	switch msg.Type {
	case TypeChatMessage:
		var p chatMessagePayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.SenderID == "" {
			return nil, malformed(msg.Type, "id and senderId are required")
		}
		// без серверного времени эхо не сопоставить с оптимистичной копией
		if p.Timestamp.IsZero() {
			return nil, malformed(msg.Type, "timestamp is required")
		}

		return ChatReceived{Message: models.ChatMessage{
			ID:         p.ID,
			SenderID:   p.SenderID,
			SenderName: p.SenderName,
			SenderRole: p.SenderRole,
			Text:       p.Text,
			Timestamp:  p.Timestamp,
		}}, nil

	case TypeParticipantJoined:
		var p participantPayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, malformed(msg.Type, "id is required")
		}

		return ParticipantJoined{Participant: models.Participant{ID: p.ID, Name: p.Name, Role: p.Role}}, nil

	case TypeParticipantLeft:
		var p participantPayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, malformed(msg.Type, "id is required")
		}

		return ParticipantLeft{ID: p.ID, Name: p.Name}, nil

	case TypeSessionEnded:
		var p sessionEndedPayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}

		return SessionEnded{SessionID: p.SessionID}, nil

	case TypeForceMute:
		var p forceMutePayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.Muted == nil {
			return nil, malformed(msg.Type, "muted is required")
		}

		return ForceMute{UserID: p.UserID, Muted: *p.Muted}, nil

	case TypeForceVideo:
		var p forceVideoPayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.VideoEnabled == nil {
			return nil, malformed(msg.Type, "videoEnabled is required")
		}

		return ForceVideo{UserID: p.UserID, VideoEnabled: *p.VideoEnabled}, nil

	case TypeForceKick:
		var p forceKickPayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, malformed(msg.Type, "userId is required")
		}

		return ForceKick{UserID: p.UserID}, nil

	case TypeHandRaiseAck:
		var p handRaiseAckPayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.Raised == nil {
			return nil, malformed(msg.Type, "raised is required")
		}

		return HandRaiseAck{Raised: *p.Raised}, nil

	case TypeScreenShare:
		var p screenSharePayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.Active == nil {
			return nil, malformed(msg.Type, "active is required")
		}

		return ScreenShareChanged{UserID: p.UserID, Active: *p.Active}, nil

	case TypeError:
		var p errorPayload
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}

		return ServerError{Message: p.Message}, nil

	default:
		return nil, malformed(msg.Type, "unknown event type")
	}
}

// Encode собирает исходящее сообщение
func Encode(eventType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}

	return Message{Type: eventType, Data: data}, nil
}

func unmarshal(msg Message, v any) error {
	if len(msg.Data) == 0 {
		return malformed(msg.Type, "empty data")
	}

	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w: %w", msg.Type, domain.ErrMalformedEvent, err)
	}

	return nil
}

func malformed(eventType, reason string) error {
	return fmt.Errorf("%s: %s: %w", eventType, reason, domain.ErrMalformedEvent)
}
