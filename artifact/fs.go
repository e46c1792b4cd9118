package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore stores blobs as files in a local directory, one file per
// checksum.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at dir, creating it if
// needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// Root returns the store's root directory.
func (s *FSStore) Root() string {
	return s.root
}

func validateChecksum(checksum string) error {
	if len(checksum) != 64 {
		return ErrInvalidChecksum
	}
	if _, err := hex.DecodeString(checksum); err != nil {
		return ErrInvalidChecksum
	}
	return nil
}

func (s *FSStore) path(checksum string) string {
	return filepath.Join(s.root, checksum)
}

// Put stores the content read from r under checksum. If a file for the
// checksum already exists, r is left unread and the existing blob wins.
func (s *FSStore) Put(ctx context.Context, checksum string, r io.Reader) (Info, error) {
	if err := validateChecksum(checksum); err != nil {
		return Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	dst := s.path(checksum)
	if info, err := s.Stat(ctx, checksum); err == nil {
		return info, nil
	}

	// Write to a temp file then rename, so concurrent writers of the same
	// content cannot observe a partial blob.
	tmp, err := os.CreateTemp(s.root, "."+checksum+".*")
	if err != nil {
		return Info{}, fmt.Errorf("artifact: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Info{}, fmt.Errorf("artifact: write blob: %w", err)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != checksum {
		return Info{}, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, checksum)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Info{}, fmt.Errorf("artifact: finalize blob: %w", err)
	}

	return s.Stat(ctx, checksum)
}

// Open returns a reader over the blob content.
func (s *FSStore) Open(ctx context.Context, checksum string) (io.ReadCloser, error) {
	if err := validateChecksum(checksum); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(checksum))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: open blob: %w", err)
	}
	return f, nil
}

// Stat returns metadata for a stored blob.
func (s *FSStore) Stat(ctx context.Context, checksum string) (Info, error) {
	if err := validateChecksum(checksum); err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(s.path(checksum))
	if os.IsNotExist(err) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("artifact: stat blob: %w", err)
	}
	return Info{
		Checksum: checksum,
		Size:     fi.Size(),
		ModTime:  fi.ModTime(),
		URL:      "file://" + s.path(checksum),
	}, nil
}

// Delete removes a blob. Idempotent - no error on miss.
func (s *FSStore) Delete(ctx context.Context, checksum string) error {
	if err := validateChecksum(checksum); err != nil {
		return err
	}
	err := os.Remove(s.path(checksum))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifact: delete blob: %w", err)
	}
	return nil
}

// Ping verifies the root directory is accessible.
func (s *FSStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("artifact: root unreachable: %w", err)
	}
	return nil
}

// Ensure FSStore implements Store
var _ Store = (*FSStore)(nil)
