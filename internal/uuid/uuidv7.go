// Package uuid generates and validates the time-ordered identifiers used as
// primary keys across fintrack.
package uuid

import (
	googleuuid "github.com/google/uuid"
)

// New returns a new UUIDv7 string. UUIDv7 embeds a millisecond Unix timestamp
// in its leading 48 bits, so keys sort roughly by creation time.
func New() string {
	id, err := googleuuid.NewV7()
	if err != nil {
		// Entropy read failed; a random v4 still keeps keys unique.
		return googleuuid.New().String()
	}
	return id.String()
}

// Parse validates s and returns its canonical lower-case form.
func Parse(s string) (string, error) {
	parsed, err := googleuuid.Parse(s)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// IsValid reports whether s is a well-formed UUID.
func IsValid(s string) bool {
	_, err := googleuuid.Parse(s)
	return err == nil
}

// Version returns the version nibble of a valid UUID, or 0 when s is invalid.
func Version(s string) int {
	parsed, err := googleuuid.Parse(s)
	if err != nil {
		return 0
	}
	return int(parsed.Version())
}
