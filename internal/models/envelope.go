package models

import "github.com/google/uuid"

// Envelope is the unit delivered to connected clients.
type Envelope struct {
	Type      string      `json:"type"`
	ChannelID uuid.UUID   `json:"channelId"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Envelope types produced outside the game engine. Game events use their
// own event type as the envelope type.
const (
	EnvelopeRoster         = "roster_update"
	EnvelopeChannel        = "channel_update"
	EnvelopeMemberJoined   = "member_joined"
	EnvelopeMemberLeft     = "member_left"
	EnvelopeChannelDeleted = "channel_deleted"
	EnvelopeGameStarted    = "game_started"
	EnvelopeChat           = "chat"
	EnvelopeState          = "state"
	EnvelopeHistory        = "history"
	EnvelopeError          = "error"
)
