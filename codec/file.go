package codec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonwraymond/callcache/artifact"
)

// FileBacked is the capability satisfied by values whose content lives at
// a local path. Encoding such a value uploads the content to the artifact
// store and records only a file reference.
type FileBacked interface {
	// ContentPath returns the local path holding the value's bytes.
	ContentPath() string
}

// LocalFile is a file-backed value: a handle to bytes at a local path.
// It is what file references decode to.
type LocalFile struct {
	path string
	ref  FileRef
}

// NewLocalFile wraps an existing local file so it can be cached as a file
// reference.
func NewLocalFile(path string) (*LocalFile, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("codec: local file: %w", err)
	}
	return &LocalFile{path: path}, nil
}

// ContentPath returns the local path holding the file's bytes.
func (f *LocalFile) ContentPath() string { return f.path }

// Ref returns the file reference metadata, if the file came from a decode.
func (f *LocalFile) Ref() FileRef { return f.ref }

// Open returns a reader over the file content.
func (f *LocalFile) Open() (io.ReadCloser, error) {
	rc, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("codec: open local file: %w", err)
	}
	return rc, nil
}

// Ensure LocalFile implements FileBacked
var _ FileBacked = (*LocalFile)(nil)

// FileCapability matches file-backed values for registry resolution.
var FileCapability = Capability{
	Name: "file-backed",
	Matches: func(v any) bool {
		_, ok := v.(FileBacked)
		return ok
	},
}

// FileCodec encodes file-backed values as file references, storing their
// bytes content-addressed in an artifact store. Identical content is never
// uploaded twice.
type FileCodec struct {
	store artifact.Store
	spool string
}

// NewFileCodec creates a file codec backed by store. Decoded files whose
// local copy is gone are materialized under spoolDir.
func NewFileCodec(store artifact.Store, spoolDir string) *FileCodec {
	return &FileCodec{store: store, spool: spoolDir}
}

func (c *FileCodec) Tag() string { return fileTag }

// Encode uploads the value's content (a no-op when the checksum is already
// stored) and returns a file reference.
func (c *FileCodec) Encode(ctx context.Context, v any) (*Value, error) {
	fb, ok := v.(FileBacked)
	if !ok {
		return nil, fmt.Errorf("%w: file codec got %T", ErrEncode, v)
	}
	path := fb.ContentPath()

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrEncode, path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrEncode, path, err)
	}
	sum, _, err := artifact.Checksum(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: checksum %s: %v", ErrEncode, path, err)
	}

	f, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrEncode, path, err)
	}
	defer f.Close()
	info, err := c.store.Put(ctx, sum, f)
	if err != nil {
		return nil, fmt.Errorf("%w: store %s: %v", ErrEncode, path, err)
	}

	return &Value{
		Kind: KindFile,
		File: &FileRef{
			URL:       info.URL,
			Checksum:  sum,
			Size:      fi.Size(),
			ModTime:   fi.ModTime().UTC(),
			LocalPath: path,
		},
	}, nil
}

// Decode reconstructs a LocalFile from a file reference. The local path
// hint is preferred; when it is gone the content is fetched from the
// artifact store into the spool directory.
func (c *FileCodec) Decode(ctx context.Context, val *Value) (any, error) {
	if val.File == nil {
		return nil, fmt.Errorf("%w: file value without reference", ErrDecode)
	}
	ref := *val.File

	if ref.LocalPath != "" {
		if fi, err := os.Stat(ref.LocalPath); err == nil && fi.Size() == ref.Size {
			return &LocalFile{path: ref.LocalPath, ref: ref}, nil
		}
	}

	path, err := c.materialize(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &LocalFile{path: path, ref: ref}, nil
}

func (c *FileCodec) materialize(ctx context.Context, ref FileRef) (string, error) {
	rc, err := c.store.Open(ctx, ref.Checksum)
	if err != nil {
		return "", fmt.Errorf("%w: artifact %s unreachable: %v", ErrDecode, ref.Checksum, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(c.spool, 0o755); err != nil {
		return "", fmt.Errorf("%w: spool dir: %v", ErrDecode, err)
	}
	dst := filepath.Join(c.spool, ref.Checksum)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	tmp, err := os.CreateTemp(c.spool, "."+ref.Checksum+".*")
	if err != nil {
		return "", fmt.Errorf("%w: spool temp: %v", ErrDecode, err)
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("%w: spool write: %v", ErrDecode, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("%w: spool finalize: %v", ErrDecode, err)
	}
	return dst, nil
}

// Ensure FileCodec implements Codec
var _ Codec = (*FileCodec)(nil)
