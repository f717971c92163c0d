package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryKind names one of the durable per-game record streams.
type HistoryKind string

const (
	HistoryVote    HistoryKind = "vote"
	HistoryFortune HistoryKind = "fortune"
	HistoryMedium  HistoryKind = "medium"
	HistoryGuard   HistoryKind = "guard"
	HistoryAttack  HistoryKind = "attack"
	HistoryDeath   HistoryKind = "death"
)

// HistoryKinds lists every kind in query order.
var HistoryKinds = []HistoryKind{HistoryVote, HistoryFortune, HistoryMedium, HistoryGuard, HistoryAttack, HistoryDeath}

// ParseHistoryKind validates a kind received from a client.
func ParseHistoryKind(s string) (HistoryKind, bool) {
	for _, k := range HistoryKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// HistoryRecord is one resolved fact of a game. Records are append-only and
// ordered by Seq within a game.
//
// For votes Target is the voted-for player and Voters lists who voted for them
// in submission order. For deaths Target is the dead player and Result the cause.
type HistoryRecord struct {
	GameID    uuid.UUID   `json:"gameId"`
	ChannelID uuid.UUID   `json:"channelId"`
	Seq       int         `json:"seq"`
	Day       int         `json:"day"`
	Kind      HistoryKind `json:"kind"`
	Actor     uuid.UUID   `json:"actor,omitempty"`
	Target    uuid.UUID   `json:"target,omitempty"`
	Voters    []uuid.UUID `json:"voters,omitempty"`
	Result    string      `json:"result,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}
