// Package objectstore wraps an immutable, versioned binary-object
// capability. Puts never overwrite and gets require an explicit object
// version, so every stored revision of a file remains independently
// retrievable forever.
package objectstore

import "context"

// Ref identifies one immutable stored object.
type Ref struct {
	// Locator is the content-addressed object key (sha256-<hex>).
	Locator string `json:"locator"`

	// ObjectVersion is the per-write version; two puts of identical bytes
	// yield the same locator but distinct object versions.
	ObjectVersion string `json:"object_version"`
}

// Store is the object-storage capability the engine depends on. Backends
// without native object versioning must emulate it; the filesystem
// implementation does so via content-addressed keys. Objects are raw bytes
// only: file names and MIME types live on the media revision rows that
// reference them.
type Store interface {
	// Put stores bytes and returns the ref of the newly written object.
	// It never overwrites an existing object.
	Put(ctx context.Context, data []byte) (Ref, error)

	// Get retrieves the exact bytes previously stored under ref,
	// re-verifying the content checksum before returning.
	Get(ctx context.Context, ref Ref) ([]byte, error)
}
