package core

import "github.com/google/uuid"

// NewID generates an identifier for jobs submitted without one.
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether a caller-supplied identifier is acceptable:
// non-empty and short enough to index.
func IsValidID(id string) bool {
	return id != "" && len(id) <= 128
}
