// internal/game/event.go
package game

import "github.com/google/uuid"

// EventType names an event pushed to clients.
type EventType string

const (
	EventPhaseChange         EventType = "game_phase_change"
	EventVoteResult          EventType = "game_vote_result"      // public tally and execution
	EventNightResult         EventType = "game_night_result"     // public list of night deaths
	EventPlayerLeft          EventType = "game_player_left"      // an alive player became a spectator
	EventGameEnd             EventType = "game_end"              // result with every role revealed
	EventGameFrozen          EventType = "game_frozen"           // resolution could not be persisted
	EventPrivateRole         EventType = "private_role"          // role and known alliance peers
	EventPrivateSubmission   EventType = "private_submission"    // acknowledgement to the submitter
	EventPrivateFortune      EventType = "private_fortune"       // seer's result
	EventPrivateMedium       EventType = "private_medium"        // medium's result
	EventPrivateAttackEcho   EventType = "private_attack_echo"   // werewolves see the pack's current target
	EventPrivateAttackResult EventType = "private_attack_result" // werewolves learn whether the attack landed
)

// Event is emitted through the game's broadcast callbacks.
type Event struct {
	Type    EventType              `json:"type"`
	GameID  uuid.UUID              `json:"gameId"`
	Day     int                    `json:"day"`
	Phase   Phase                  `json:"phase"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// outbound is an event queued while the game lock is held and delivered after
// it is released. A nil receivers slice means the whole channel.
type outbound struct {
	ev        Event
	receivers []uuid.UUID
	broadcast bool
}
