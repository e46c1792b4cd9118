package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

// Info describes a stored blob.
type Info struct {
	// Checksum is the hex-encoded SHA-256 of the blob content.
	Checksum string

	// Size is the blob size in bytes.
	Size int64

	// ModTime is when the blob was stored (or last observed).
	ModTime time.Time

	// URL locates the blob (file:// path or redis:// key).
	URL string
}

// Store is a content-addressed blob store.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use, including
//   concurrent writers of identical content.
// - Idempotency: Put with a checksum that is already stored must not write
//   again and must not corrupt existing data.
// - Errors: Open and Stat return ErrNotFound for unknown checksums.
type Store interface {
	// Put stores the content read from r under the given checksum.
	// If the checksum is already present the content is not re-read.
	Put(ctx context.Context, checksum string, r io.Reader) (Info, error)

	// Open returns a reader over the blob content.
	Open(ctx context.Context, checksum string) (io.ReadCloser, error)

	// Stat returns metadata for a stored blob without reading it.
	Stat(ctx context.Context, checksum string) (Info, error)

	// Delete removes a blob. Idempotent - no error on miss.
	Delete(ctx context.Context, checksum string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// Checksum consumes r and returns the hex SHA-256 digest and byte count.
func Checksum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ChecksumBytes returns the hex SHA-256 digest of b.
func ChecksumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
