// Package storage defines the persistence contracts shared by the concrete
// backends under this directory. Backends keep one opaque state blob and
// write output artifacts; they know nothing about the blob's shape.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by StateBackend.Read when no blob has been stored.
var ErrNotFound = errors.New("state blob not found")

// StateBackend stores a single opaque state blob.
type StateBackend interface {
	// Read returns the stored blob or ErrNotFound.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the stored blob.
	Write(ctx context.Context, data []byte) error
	// Delete removes the blob; deleting a missing blob is not an error.
	Delete(ctx context.Context) error
}
