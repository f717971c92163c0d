// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so that transports can map it to a status code
// without knowing every individual error.
type Kind int

const (
	KindUnknown Kind = iota
	KindAccessDenied
	KindInvalidState
	KindNotFound
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a typed domain error. Two errors match under errors.Is when their
// codes match, regardless of the reason attached.
type Error struct {
	Kind   Kind   `json:"-"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
	cause  error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Code
	}
	return e.Code + ": " + e.Reason
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.cause }

// WithReason returns a copy of e carrying a more specific reason.
func (e *Error) WithReason(format string, args ...interface{}) *Error {
	c := *e
	c.Reason = fmt.Sprintf(format, args...)
	return &c
}

// Wrap returns a copy of e that also wraps cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	if cause != nil {
		c.Reason = cause.Error()
	}
	return &c
}

// New builds an Error of the given kind.
func New(kind Kind, code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As extracts the *Error from err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

var (
	ErrNotAMember  = New(KindAccessDenied, "not_a_member", "user is not a member of this channel")
	ErrForbidden   = New(KindAccessDenied, "forbidden", "operation not permitted")
	ErrBlocked     = New(KindAccessDenied, "blocked", "user is blocked from this channel")
	ErrBadPassword = New(KindAccessDenied, "wrong_password", "incorrect channel password")
	ErrGuestDenied = New(KindAccessDenied, "guests_denied", "guests may not join this channel")
	ErrNotAdmin    = New(KindAccessDenied, "not_admin", "only the channel admin may do this")
	ErrNotAPlayer  = New(KindAccessDenied, "not_a_player", "user is not a player in this game")
	ErrNotAlive    = New(KindAccessDenied, "not_alive", "player is not alive")
	ErrWrongRole   = New(KindAccessDenied, "wrong_role", "role cannot perform this action")

	ErrWrongPhase    = New(KindInvalidState, "wrong_phase", "action not allowed in the current phase")
	ErrPhaseClosed   = New(KindInvalidState, "phase_closed", "phase has already closed")
	ErrGameFrozen    = New(KindInvalidState, "game_frozen", "game is frozen after a persistence fault")
	ErrInvalidTarget = New(KindInvalidState, "invalid_target", "invalid target")
	ErrInvalidRules  = New(KindInvalidState, "invalid_rules", "invalid settings")
	ErrBadMessage    = New(KindInvalidState, "bad_message", "message is empty or too long")

	ErrUnknownChannel = New(KindNotFound, "unknown_channel", "channel not found")
	ErrUnknownGame    = New(KindNotFound, "unknown_game", "game not found")
	ErrUnknownTarget  = New(KindNotFound, "unknown_target", "target is not a player in this game")
	ErrNotRegistered  = New(KindNotFound, "not_registered", "user is not registered for the next game")

	ErrAlreadyRegistered = New(KindConflict, "already_registered", "user is already registered")
	ErrRosterFull        = New(KindConflict, "roster_full", "roster is full or already finalized")
	ErrGameInProgress    = New(KindConflict, "game_in_progress", "a game is already running in this channel")
	ErrAlreadyMember     = New(KindConflict, "already_member", "user is already a member")

	ErrTransient = New(KindTransient, "transient", "temporary failure, retry later")
)
