package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a reviewer account
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never serialize password hash
	Name         string    `json:"name"`
	OrgName      *string   `json:"org_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
