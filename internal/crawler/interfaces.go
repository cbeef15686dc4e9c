package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by BlobStore.GetObject for a missing path.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore writes and reads stored artifacts by relative path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher performs a plain HTTP GET, following redirects.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// LinkRenderer renders a page in a browser, scrolls it to trigger lazy
// content, and reports every anchor href present afterwards.
type LinkRenderer interface {
	RenderLinks(ctx context.Context, url string) (RenderResult, error)
}

// Capturer renders one page under one viewport class.
type Capturer interface {
	Capture(ctx context.Context, request CaptureRequest) (CaptureResult, error)
}

// CaptureLedger records stored snapshots.
type CaptureLedger interface {
	RecordCapture(ctx context.Context, record CaptureRecord) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
