package model

import "time"

// User represents a backoffice user account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"` // Never serialize
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
}
