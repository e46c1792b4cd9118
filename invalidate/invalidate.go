package invalidate

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonwraymond/callcache/artifact"
	"github.com/jonwraymond/callcache/codec"
	"github.com/jonwraymond/callcache/store"
)

// Verdict classifies a validated entry.
type Verdict int

const (
	// Valid means every file reference still matches its recorded
	// metadata.
	Valid Verdict = iota

	// InvalidOutput means a result-side reference is stale. The entry
	// should be deleted and the call recomputed.
	InvalidOutput

	// InvalidInput means an input-side reference is stale. The call
	// must not be recomputed against it.
	InvalidInput
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case InvalidOutput:
		return "invalid-output"
	case InvalidInput:
		return "invalid-input"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Checker validates the file references recorded in cache entries
// against the filesystem and an artifact store.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: ctx bounds artifact store probes.
// - Errors: Validate errors only on backend failures; staleness is a
//   Verdict, not an error.
type Checker struct {
	artifacts artifact.Store
}

// NewChecker creates a checker probing artifacts for references whose
// local copy is gone.
func NewChecker(artifacts artifact.Store) *Checker {
	return &Checker{artifacts: artifacts}
}

// Validate classifies entry. Input references are checked first, since
// a bad input makes the output's state irrelevant.
func (c *Checker) Validate(ctx context.Context, entry *store.Entry) (Verdict, error) {
	ok, err := c.sideFresh(ctx, entry.Inputs)
	if err != nil {
		return InvalidInput, err
	}
	if !ok {
		return InvalidInput, nil
	}

	ok, err = c.sideFresh(ctx, entry.Result)
	if err != nil {
		return InvalidOutput, err
	}
	if !ok {
		return InvalidOutput, nil
	}
	return Valid, nil
}

// sideFresh reports whether every file reference in one side's wire
// JSON is still fresh. Malformed wire data counts as stale, not as an
// error - the entry is rebuildable.
func (c *Checker) sideFresh(ctx context.Context, wire []byte) (bool, error) {
	if len(wire) == 0 {
		return true, nil
	}
	refs, err := codec.CollectFileRefs(wire)
	if err != nil {
		return false, nil
	}
	for _, ref := range refs {
		fresh, err := c.refFresh(ctx, ref)
		if err != nil {
			return false, err
		}
		if !fresh {
			return false, nil
		}
	}
	return true, nil
}

// refFresh checks one reference. The local copy is consulted first:
// matching size and mtime pass immediately, a disagreement falls back
// to rehashing the content. With no usable local copy the artifact
// store is the last resort.
func (c *Checker) refFresh(ctx context.Context, ref codec.FileRef) (bool, error) {
	if ref.LocalPath != "" {
		fi, err := os.Stat(ref.LocalPath)
		if err == nil {
			if fi.Size() == ref.Size && fi.ModTime().UTC().Equal(ref.ModTime) {
				return true, nil
			}
			return c.checksumMatches(ref)
		}
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("invalidate: stat %s: %w", ref.LocalPath, err)
		}
	}

	if c.artifacts == nil {
		return false, nil
	}
	_, err := c.artifacts.Stat(ctx, ref.Checksum)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidChecksum) {
		return false, nil
	}
	return false, fmt.Errorf("invalidate: probe artifact %s: %w", ref.Checksum, err)
}

func (c *Checker) checksumMatches(ref codec.FileRef) (bool, error) {
	f, err := os.Open(ref.LocalPath)
	if err != nil {
		return false, nil
	}
	defer f.Close()
	sum, _, err := artifact.Checksum(f)
	if err != nil {
		return false, fmt.Errorf("invalidate: checksum %s: %w", ref.LocalPath, err)
	}
	return sum == ref.Checksum, nil
}
