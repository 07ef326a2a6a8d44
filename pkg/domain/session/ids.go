package session

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers for blocks, pauses, stream ids and
// storage rows. Identifiers should sort in creation order.
type IDGenerator interface {
	NewID() (string, error)
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() (string, error)

func (f IDGeneratorFunc) NewID() (string, error) { return f() }

// UUIDv7 generates time-ordered UUIDs.
type UUIDv7 struct{}

func (UUIDv7) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}
