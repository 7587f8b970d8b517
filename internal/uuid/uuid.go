// Package uuid provides the identifiers handed out for blob upload
// sessions. It wraps github.com/google/uuid so the rest of the code does
// not depend on the generator choice.
package uuid

import (
	"github.com/google/uuid"
)

// NewString returns a new V7 UUID string. V7 UUIDs are time-ordered, which
// keeps upload session files roughly creation-ordered on disk. Panics if
// the system source of randomness is unavailable.
func NewString() string {
	return uuid.Must(uuid.NewV7()).String()
}
