package models

import (
	"github.com/google/uuid"
)

// IDGenerator produces unique ids carrying the given prefix.
type IDGenerator func(prefix string) string

// NewID returns "{prefix}-{uuidv7}". Version 7 UUIDs are time ordered, so ids created later sort later.
func NewID(prefix string) string {
	return prefix + "-" + uuid.Must(uuid.NewV7()).String()
}
