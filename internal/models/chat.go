package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is a routed channel message. GameID is uuid.Nil for lobby chat.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channelId"`
	GameID    uuid.UUID `json:"gameId,omitempty"`
	SenderID  uuid.UUID `json:"senderId"`
	Type      string    `json:"type"`
	Body      string    `json:"body"`
	Day       int       `json:"day,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	SentAt    time.Time `json:"sentAt"`

	Receivers []uuid.UUID `json:"-"`
}
