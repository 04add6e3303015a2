// Package objectstore defines the remote-store contract the backup and
// restore pipelines use to move encrypted artifacts in and out of a
// container. Concrete transports (currently OpenStack Swift, see the
// swift subpackage) implement this interface.
package objectstore

import (
	"context"
	"io"
)

// ObjectEntry describes one object returned by a container listing.
type ObjectEntry struct {
	// Name is the object's key within the container.
	Name string
	// Hash is the store-reported content digest (Swift's ETag), advisory
	// only — never used for integrity decisions.
	Hash string
	// Bytes is the object's size as reported by the store.
	Bytes int64
	// LastModified is the store-reported modification timestamp, RFC3339.
	LastModified string
}

// Client is the contract a remote object store must satisfy.
//
// Thread Safety: a Client must be safe for concurrent use by multiple
// goroutines — the backup pipeline shares one Client per store across its
// whole upload fan-out, and restore shares one across its download fan-out.
//
// Write Semantics: Put is an unconditional overwrite; callers are
// responsible for any dedup-gating (the cache's uploaded_objects ledger)
// before calling it.
type Client interface {
	// Put uploads the full contents of r under key, replacing any existing
	// object at that key. size is an advisory content-length hint: pass
	// -1 if unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// PutWithProgress is identical to Put but invokes onBytes after each
	// chunk is written to the wire, passing the number of bytes in that
	// chunk. onBytes must be safe to call concurrently and must not block.
	PutWithProgress(ctx context.Context, key string, r io.Reader, size int64, onBytes func(n int64)) error

	// Get downloads the object at key into w. Returns an error wrapping
	// ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns every object whose key begins with prefix, paginated
	// internally. Order is not guaranteed beyond what the store returns.
	List(ctx context.Context, prefix string) ([]ObjectEntry, error)
}

// ErrNotFound is returned (wrapped) by Get when the requested key does not
// exist in the container.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "objectstore: object not found" }

// ProgressReader wraps r so that every Read invokes onBytes with the number
// of bytes returned, letting a Client implementation satisfy
// PutWithProgress by wrapping its request body once and delegating to Put.
type ProgressReader struct {
	r       io.Reader
	onBytes func(n int64)
}

// NewProgressReader returns a reader over r that reports each chunk read to
// onBytes. A nil onBytes makes NewProgressReader a no-op passthrough.
func NewProgressReader(r io.Reader, onBytes func(n int64)) *ProgressReader {
	return &ProgressReader{r: r, onBytes: onBytes}
}

func (p *ProgressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 && p.onBytes != nil {
		p.onBytes(int64(n))
	}
	return n, err
}
