package domain

import "time"

// User is an account read from the credential store. Users are provisioned
// outside this service; nothing here mutates them.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
}

// SessionToken records one issued bearer token. A row is written on every
// successful login and never updated; expiry is carried by the signed claim
// and mirrored here for audit.
type SessionToken struct {
	UserID    int64
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Active reports whether the token row is still inside its validity window.
func (t *SessionToken) Active(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}
