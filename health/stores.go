package health

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/jonwraymond/callcache/artifact"
	"github.com/jonwraymond/callcache/store"
)

// EntryStoreChecker reports reachability of the cache entry store.
type EntryStoreChecker struct {
	entries store.Store
}

// NewEntryStoreChecker creates a checker over the given entry store.
func NewEntryStoreChecker(entries store.Store) *EntryStoreChecker {
	return &EntryStoreChecker{entries: entries}
}

// Name returns the name of this checker.
func (c *EntryStoreChecker) Name() string {
	return "entry-store"
}

// Check pings the entry store.
func (c *EntryStoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := c.entries.Ping(ctx); err != nil {
		return Unhealthy("entry store unreachable", err).WithDuration(time.Since(start))
	}
	return Healthy("entry store reachable").WithDuration(time.Since(start))
}

// Ping checks if the entry store is reachable.
func (c *EntryStoreChecker) Ping(ctx context.Context) error {
	return c.entries.Ping(ctx)
}

var _ PingChecker = (*EntryStoreChecker)(nil)

// probePayload is the fixed content round-tripped through the artifact
// store. Content addressing makes repeated probes idempotent.
var probePayload = []byte("callcache health probe")

// ArtifactStoreChecker verifies the artifact store can round-trip
// content: write a probe blob, read it back, compare.
type ArtifactStoreChecker struct {
	artifacts artifact.Store
}

// NewArtifactStoreChecker creates a checker over the given artifact store.
func NewArtifactStoreChecker(artifacts artifact.Store) *ArtifactStoreChecker {
	return &ArtifactStoreChecker{artifacts: artifacts}
}

// Name returns the name of this checker.
func (c *ArtifactStoreChecker) Name() string {
	return "artifact-store"
}

// Check performs the write/read probe.
func (c *ArtifactStoreChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := c.artifacts.Ping(ctx); err != nil {
		return Unhealthy("artifact store unreachable", err).WithDuration(time.Since(start))
	}

	sum := artifact.ChecksumBytes(probePayload)
	info, err := c.artifacts.Put(ctx, sum, bytes.NewReader(probePayload))
	if err != nil {
		return Unhealthy("artifact write failed", err).WithDuration(time.Since(start))
	}

	rc, err := c.artifacts.Open(ctx, sum)
	if err != nil {
		return Unhealthy("artifact read failed", err).WithDuration(time.Since(start))
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return Unhealthy("artifact read failed", err).WithDuration(time.Since(start))
	}
	if !bytes.Equal(got, probePayload) {
		return Unhealthy("artifact content mismatch", ErrCheckFailed).WithDuration(time.Since(start))
	}

	// Best effort: the probe blob is small and idempotent either way.
	_ = c.artifacts.Delete(ctx, sum)

	return Healthy("artifact store round-trip ok").
		WithDetails(map[string]any{"probe_bytes": info.Size}).
		WithDuration(time.Since(start))
}

// Ping checks if the artifact store is reachable.
func (c *ArtifactStoreChecker) Ping(ctx context.Context) error {
	return c.artifacts.Ping(ctx)
}

var _ PingChecker = (*ArtifactStoreChecker)(nil)
