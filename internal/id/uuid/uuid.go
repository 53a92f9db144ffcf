// Package uuid provides ID generation helpers for broker messages and consumer tags.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// MustPrefixed returns prefix-<uuid>. It falls back to a random v4 UUID when
// the v7 generator fails, so callers always get a usable tag.
func (g Generator) MustPrefixed(prefix string) string {
	id, err := g.NewID()
	if err != nil {
		id = uuid.NewString()
	}
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
