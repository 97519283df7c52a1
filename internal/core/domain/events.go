package domain

import "time"

// UserRegisteredEvent represents the payload for auth.user.registered messages.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Email        string
	RegisteredAt time.Time
}

// UserLoggedInEvent represents the payload for auth.user.logged_in messages.
type UserLoggedInEvent struct {
	EventID    string
	UserID     string
	LoggedInAt time.Time
	Method     string
}

// UserLoggedOutEvent represents the payload for auth.user.logged_out messages.
type UserLoggedOutEvent struct {
	EventID              string
	UserID               string
	LoggedOutAt          time.Time
	AccessTokenRevoked   bool
	RefreshTokensRevoked int
}

// AccountLockedEvent represents the payload for auth.account.locked messages.
type AccountLockedEvent struct {
	EventID     string
	Identifier  string
	LockedAt    time.Time
	LockedUntil time.Time
	Failures    int
}
