package models

// GameAction is an inbound websocket message. Type selects the operation;
// the remaining fields are used depending on it.
type GameAction struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"` // submission kind, or history kind
	Target  string `json:"target,omitempty"`
	Channel string `json:"channel,omitempty"` // chat message type
	Body    string `json:"body,omitempty"`
	GameID  string `json:"gameId,omitempty"`
	Version uint64 `json:"version,omitempty"` // phase version an advance applies to
}

// Inbound GameAction types.
const (
	ActionSubmit   = "submit"
	ActionChat     = "chat"
	ActionRegister = "register"
	ActionCancel   = "cancel"
	ActionAdvance  = "advance"
	ActionAbort    = "abort"
	ActionState    = "state"
	ActionHistory  = "history"
	ActionLeave    = "leave"
)
