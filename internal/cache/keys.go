package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobStatusKey is owner-scoped: a status entry only answers polls from the
// job's owner.
func JobStatusKey(userID, jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:%s", userID, jobID)
}

func OwnerLockKey(userID uuid.UUID) string {
	return fmt.Sprintf("joblock:%s", userID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
