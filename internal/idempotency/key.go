// Package idempotency generates the client-side keys that let remote endpoints
// recognize a replayed mutation.
package idempotency

import (
	"fmt"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying the key on every dispatch attempt.
const Header = "Idempotency-Key"

// Key identifies one logical mutation across all of its delivery attempts.
type Key string

// NewKey generates a random UUID v4 key.
func NewKey() Key {
	return Key(uuid.New().String())
}

// String returns the string form of the key.
func (k Key) String() string {
	return string(k)
}

// Parse validates s as a UUID v4 key in canonical dashed form.
func Parse(s string) (Key, error) {
	if len(s) != 36 {
		return "", fmt.Errorf("invalid idempotency key %q: want 36 characters, got %d", s, len(s))
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid idempotency key %q: %w", s, err)
	}
	if id.Version() != 4 {
		return "", fmt.Errorf("invalid idempotency key %q: expected UUID v4, got v%d", s, id.Version())
	}
	if id.Variant() != uuid.RFC4122 {
		return "", fmt.Errorf("invalid idempotency key %q: unexpected variant", s)
	}
	return Key(s), nil
}

// Valid reports whether s is an acceptable key.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
