package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	crawlstorage "github.com/JakeFAU/nomenclature-crawler/internal/storage"
)

// StateObject keeps the crawl state blob in a single GCS object.
type StateObject struct {
	client *storage.Client
	bucket string
	object string
}

// NewStateObject returns a backend for gs://bucket/object.
func NewStateObject(client *storage.Client, bucket, object string) (*StateObject, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &StateObject{client: client, bucket: bucket, object: object}, nil
}

func (s *StateObject) handle() *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.object)
}

// Read downloads the object or returns ErrNotFound.
func (s *StateObject) Read(ctx context.Context) ([]byte, error) {
	reader, err := s.handle().NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, crawlstorage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open state object: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read state object: %w", err)
	}
	return data, nil
}

// Write uploads the blob, replacing the previous generation.
func (s *StateObject) Write(ctx context.Context, data []byte) error {
	return upload(ctx, s.handle(), "application/json", bytes.NewReader(data))
}

// Delete removes the object if present.
func (s *StateObject) Delete(ctx context.Context) error {
	err := s.handle().Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete state object: %w", err)
	}
	return nil
}
