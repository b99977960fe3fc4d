package models

import (
	"time"

	"github.com/google/uuid"
)

// JournalEntry is one journal entry. The embedding is generated lazily by the
// clustering pipeline and invalidated when the content is edited; nil means
// no embedding has been stored yet.
type JournalEntry struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	UserID    uuid.UUID  `db:"user_id"    json:"user_id"`
	Title     string     `db:"title"      json:"title"`
	Content   string     `db:"content"    json:"content"`
	Embedding []float32  `db:"embedding"  json:"-"`
	EditedAt  *time.Time `db:"edited_at"  json:"edited_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
