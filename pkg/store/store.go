// Package store defines the attempt storage interface.
package store

import (
	"context"
	"errors"

	"github.com/Zerofisher/honeypot/pkg/model"
)

// SchemaVersion is incremented when the connection_attempts layout changes.
const SchemaVersion = 2

// ErrClosed is reported (to the store's logger) for inserts after Close.
var ErrClosed = errors.New("store closed")

// Store is the durable, append-only record of connection attempts.
//
// Implementations must accept Insert from any number of goroutines and
// serialize the writes themselves.
type Store interface {
	// Insert appends one attempt and returns its store-assigned id.
	// A failed write is logged and reported as id 0; it is never returned
	// to the caller, so a capturing session cannot be aborted by storage.
	Insert(ctx context.Context, a *model.ConnectionAttempt) int64

	// Close flushes pending writes and releases the backing resource.
	// It is safe to call more than once.
	Close() error
}
