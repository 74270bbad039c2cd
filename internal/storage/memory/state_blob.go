package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/nomenclature-crawler/internal/storage"
)

// StateBlob holds the state blob in memory. Failures can be injected to
// exercise the best-effort persistence paths.
type StateBlob struct {
	mu       sync.RWMutex
	data     []byte
	present  bool
	writes   int
	ReadErr  error
	WriteErr error
}

// NewStateBlob returns an empty backend.
func NewStateBlob() *StateBlob {
	return &StateBlob{}
}

// Read returns the stored blob or storage.ErrNotFound.
func (b *StateBlob) Read(_ context.Context) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	if !b.present {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b.data...), nil
}

// Write replaces the blob.
func (b *StateBlob) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.data = append([]byte(nil), data...)
	b.present = true
	b.writes++
	return nil
}

// Delete drops the blob.
func (b *StateBlob) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.present = false
	return nil
}

// Writes reports how many successful writes happened.
func (b *StateBlob) Writes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writes
}

// Seed stores raw bytes as if they had been written earlier.
func (b *StateBlob) Seed(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), data...)
	b.present = data != nil
}

var errInjected = errors.New("injected failure")

// FailWrites makes every later Write fail.
func (b *StateBlob) FailWrites() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.WriteErr = errInjected
}
