package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no state is stored under a key.
var ErrNotFound = errors.New("conversation state not found")

// Store persists serialized conversation state by key.
type Store interface {
	// Load returns the state stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save stores state under key, replacing any previous value.
	Save(ctx context.Context, key string, state []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Sweep removes every entry last saved before idleSince and returns
	// their keys. Backends that expire entries on their own return nil.
	Sweep(ctx context.Context, idleSince time.Time) ([]string, error)
}

// ConversationKey returns the key conversation state is stored under.
func ConversationKey(conversationID string) string {
	return "conversation/" + conversationID
}

// UserKey returns the key user state is stored under.
func UserKey(userID string) string {
	return "user/" + userID
}
