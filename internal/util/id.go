package util

import "github.com/google/uuid"

// NewID returns a random UUID string. Entity identifiers and request ids use it.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as an identifier produced by NewID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
