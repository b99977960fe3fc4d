package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns journal entries, clustering runs, and jobs. Session issuance
// lives outside this service; users authenticate with API keys.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
