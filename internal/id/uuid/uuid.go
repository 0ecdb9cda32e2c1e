// Package uuid issues crawl session identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 session ids, so sessions sort by
// creation time even when listed by id.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id.String(), nil
}

// Validate reports whether s is a well-formed session id.
func Validate(s string) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", s, err)
	}
	if id.Version() != 7 {
		return fmt.Errorf("invalid session id %q: version %d, want 7", s, id.Version())
	}
	return nil
}
