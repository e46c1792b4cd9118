package store

import (
	"context"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// DefaultClaimStale is how long an uncommitted placeholder may sit
// before TryClaim hands it to a new caller. It is the safety net for
// workers that crashed without aborting.
const DefaultClaimStale = 10 * time.Minute

// Entry is a persisted cache record: the encoded result of one call,
// plus the bookkeeping cleanup policies act on. Result and Inputs hold
// codec wire JSON.
type Entry struct {
	Key         string
	Result      []byte
	Inputs      []byte
	CreatedAt   time.Time
	AccessedAt  time.Time
	AccessCount int64
	Tag         string
	ExpiresAt   time.Time // zero means no expiry
	SizeBytes   int64
}

// Expired reports whether the entry's expiry has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Claim is the exclusivity token returned by TryClaim. Whoever holds it
// must finish with exactly one of Commit or Abort.
type Claim struct {
	Key       string
	Token     string
	ClaimedAt time.Time
}

// Method selects how MaxCount and MaxSizeBytes choose eviction
// victims.
type Method int

const (
	// EvictLRU evicts least-recently-accessed entries first.
	EvictLRU Method = iota
	// EvictLFU evicts least-frequently-accessed entries first, with
	// recency as the tiebreak.
	EvictLFU
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case EvictLRU:
		return "lru"
	case EvictLFU:
		return "lfu"
	default:
		return "unknown"
	}
}

// Policy controls what Cleanup removes. Zero fields are ignored; a zero
// Policy removes only expired entries.
type Policy struct {
	// MaxCount keeps at most this many entries, evicting per Method.
	MaxCount int

	// MaxSizeBytes keeps the entries ranked highest by Method whose
	// sizes sum to at most this many bytes.
	MaxSizeBytes int64

	// Method ranks entries for MaxCount and MaxSizeBytes eviction.
	// The default is EvictLRU.
	Method Method

	// TTL removes entries not accessed within this duration.
	TTL time.Duration

	// Tag removes every entry carrying this tag.
	Tag string
}

// Store is the shared entry table plus the claim protocol.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use, and
//   TryClaim must be atomic across processes sharing the backend.
// - Context: all methods honor cancellation/deadlines.
// - Errors: Get returns ErrNotFound on miss; Commit and Abort return
//   ErrClaimNotHeld when the claim was lost; backend failures wrap
//   ErrCorrupt.
type Store interface {
	// TryClaim atomically inserts a placeholder for key if absent.
	// Exactly one of three shapes comes back: a Claim (caller computes),
	// an Entry (already cached), or neither (another caller holds a
	// live claim; retry later). A placeholder older than the store's
	// staleness threshold is reclaimed and handed out as a fresh Claim.
	TryClaim(ctx context.Context, key string) (*Claim, *Entry, error)

	// Get returns the entry for key. Placeholders and expired entries
	// read as ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Commit replaces the claim's placeholder with entry. The claim is
	// spent afterwards.
	Commit(ctx context.Context, claim *Claim, entry *Entry) error

	// Abort removes the claim's placeholder so other callers can retry.
	// Idempotent - aborting a spent or reclaimed claim is not an error.
	Abort(ctx context.Context, claim *Claim) error

	// Delete removes an entry. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Touch updates the entry's last-access time and counter.
	Touch(ctx context.Context, key string) error

	// Cleanup removes expired entries plus whatever policy selects, and
	// returns the removed entries so callers can release artifacts they
	// referenced.
	Cleanup(ctx context.Context, policy Policy) ([]Entry, error)

	// HasChecksum reports whether any live entry's result or inputs
	// reference the given artifact checksum.
	HasChecksum(ctx context.Context, checksum string) (bool, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// ValidateKey checks if a key is usable as an entry key.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
