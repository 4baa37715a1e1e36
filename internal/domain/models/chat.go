package models

import "time"

// ChatMessage - неизменяемая запись чата.
// ID выдаёт сервер; у оптимистичной локальной копии его нет, вместо него LocalID.
type ChatMessage struct {
	ID         string    `json:"id,omitempty"`
	LocalID    string    `json:"localId,omitempty"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	SenderRole Role      `json:"senderRole"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m ChatMessage) IsOptimistic() bool {
	return m.ID == ""
}
