package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store. The claim protocol is honored, but
// atomicity only spans goroutines of one process - use PostgresStore
// when several processes share a cache.
type MemoryStore struct {
	mu         sync.Mutex
	rows       map[string]*memRow
	claimStale time.Duration
	closed     bool
}

type memRow struct {
	entry       Entry
	placeholder bool
	claimToken  string
	claimedAt   time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClaimStale sets the threshold after which an uncommitted
// placeholder may be reclaimed.
func WithClaimStale(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.claimStale = d
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		rows:       make(map[string]*memRow),
		claimStale: DefaultClaimStale,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TryClaim atomically inserts a placeholder for key if absent.
func (s *MemoryStore) TryClaim(ctx context.Context, key string) (*Claim, *Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[key]
	if ok && !row.placeholder && !row.entry.Expired(now) {
		e := row.entry
		return nil, &e, nil
	}
	if ok && row.placeholder && now.Sub(row.claimedAt) < s.claimStale {
		// Live claim held elsewhere.
		return nil, nil, nil
	}

	// Absent, expired, or stale placeholder: (re)issue a claim.
	token := uuid.NewString()
	s.rows[key] = &memRow{
		entry:       Entry{Key: key, CreatedAt: now, AccessedAt: now},
		placeholder: true,
		claimToken:  token,
		claimedAt:   now,
	}
	return &Claim{Key: key, Token: token, ClaimedAt: now}, nil, nil
}

// Get returns the entry for key. Placeholders and expired entries read
// as ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[key]
	if !ok || row.placeholder || row.entry.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	e := row.entry
	return &e, nil
}

// Commit replaces the claim's placeholder with entry.
func (s *MemoryStore) Commit(ctx context.Context, claim *Claim, entry *Entry) error {
	if claim == nil {
		return ErrClaimNotHeld
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[claim.Key]
	if !ok || !row.placeholder || row.claimToken != claim.Token {
		return ErrClaimNotHeld
	}

	e := *entry
	e.Key = claim.Key
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.AccessedAt.IsZero() {
		e.AccessedAt = e.CreatedAt
	}
	s.rows[claim.Key] = &memRow{entry: e}
	return nil
}

// Abort removes the claim's placeholder. Idempotent.
func (s *MemoryStore) Abort(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[claim.Key]
	if ok && row.placeholder && row.claimToken == claim.Token {
		delete(s.rows, claim.Key)
	}
	return nil
}

// Delete removes an entry. Idempotent.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.rows, key)
	s.mu.Unlock()
	return nil
}

// Touch updates last-access bookkeeping for key.
func (s *MemoryStore) Touch(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[key]
	if !ok || row.placeholder {
		return ErrNotFound
	}
	row.entry.AccessedAt = time.Now()
	row.entry.AccessCount++
	return nil
}

// Cleanup removes expired entries plus whatever policy selects.
func (s *MemoryStore) Cleanup(ctx context.Context, policy Policy) ([]Entry, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Entry
	evict := func(key string) {
		removed = append(removed, s.rows[key].entry)
		delete(s.rows, key)
	}

	for key, row := range s.rows {
		if row.placeholder {
			continue
		}
		switch {
		case row.entry.Expired(now):
			evict(key)
		case policy.Tag != "" && row.entry.Tag == policy.Tag:
			evict(key)
		case policy.TTL > 0 && now.Sub(row.entry.AccessedAt) > policy.TTL:
			evict(key)
		}
	}

	if policy.MaxCount > 0 || policy.MaxSizeBytes > 0 {
		live := s.liveByRetention(policy.Method)
		var total int64
		for i, e := range live {
			overCount := policy.MaxCount > 0 && i >= policy.MaxCount
			total += e.SizeBytes
			overSize := policy.MaxSizeBytes > 0 && total > policy.MaxSizeBytes
			if overCount || overSize {
				evict(e.Key)
			}
		}
	}

	return removed, nil
}

// liveByRetention returns committed entries ordered most-retained
// first: by recency for EvictLRU, by access count then recency for
// EvictLFU. Caller holds s.mu.
func (s *MemoryStore) liveByRetention(method Method) []Entry {
	live := make([]Entry, 0, len(s.rows))
	for _, row := range s.rows {
		if !row.placeholder {
			live = append(live, row.entry)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if method == EvictLFU && live[i].AccessCount != live[j].AccessCount {
			return live[i].AccessCount > live[j].AccessCount
		}
		if !live[i].AccessedAt.Equal(live[j].AccessedAt) {
			return live[i].AccessedAt.After(live[j].AccessedAt)
		}
		return live[i].Key < live[j].Key
	})
	return live
}

// HasChecksum reports whether any live entry references checksum.
func (s *MemoryStore) HasChecksum(ctx context.Context, checksum string) (bool, error) {
	needle := []byte(checksum)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.placeholder {
			continue
		}
		if bytes.Contains(row.entry.Result, needle) || bytes.Contains(row.entry.Inputs, needle) {
			return true, nil
		}
	}
	return false, nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrCorrupt
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
