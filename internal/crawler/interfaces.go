package crawler

import (
	"context"
	"io"
	"time"
)

// StateStore persists the single CrawlState blob. Load never fails: missing,
// unreadable, or version-mismatched blobs yield fresh defaults. Save and Clear
// failures are logged by the implementation and swallowed.
type StateStore interface {
	Load(ctx context.Context) *CrawlState
	Save(ctx context.Context, state *CrawlState)
	Clear(ctx context.Context)
}

// NodeFetcher retrieves the children of parentID, or the top-level catalog
// when parentID is empty, for the given country scope.
type NodeFetcher interface {
	FetchNodes(ctx context.Context, countryCode string, parentID string) ([]RawNode, error)
}

// BlobStore writes output artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs and random fallback tokens.
type IDGenerator interface {
	NewID() (string, error)
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
