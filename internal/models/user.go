package models

import "github.com/google/uuid"

// User is the identity resolved from a session token.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	IsGuest  bool      `json:"isGuest"`
}
