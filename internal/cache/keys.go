package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func SessionStatusKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
