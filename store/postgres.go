package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store over a shared Postgres table. The claim
// protocol rides on the primary-key constraint of cache_entries, so
// at-most-one-computation holds across processes and hosts.
type PostgresStore struct {
	pool       *pgxpool.Pool
	claimStale time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClaimStale sets the threshold after which an uncommitted
// placeholder may be reclaimed.
func WithPostgresClaimStale(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.claimStale = d
		}
	}
}

// NewPostgresStore connects to dsn, verifies reachability and ensures
// the schema exists.
func NewPostgresStore(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool, claimStale: DefaultClaimStale}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			result JSONB,
			inputs JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			tag TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			is_placeholder BOOLEAN NOT NULL DEFAULT FALSE,
			claim_token TEXT,
			claimed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed ON cache_entries(accessed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_tag ON cache_entries(tag) WHERE tag <> ''`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrCorrupt, err)
		}
	}
	return nil
}

// TryClaim atomically inserts a placeholder for key if absent. The
// insert races on the primary key; losers inspect what won.
func (s *PostgresStore) TryClaim(ctx context.Context, key string) (*Claim, *Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	token := uuid.NewString()

	ct, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, created_at, accessed_at, is_placeholder, claim_token, claimed_at)
		VALUES ($1, $2, $2, TRUE, $3, $2)
		ON CONFLICT (key) DO NOTHING`,
		key, now, token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: try claim: %v", ErrCorrupt, err)
	}
	if ct.RowsAffected() == 1 {
		return &Claim{Key: key, Token: token, ClaimedAt: now}, nil, nil
	}

	// Row exists: a committed entry, a live placeholder, or something
	// reclaimable (stale placeholder, expired entry).
	entry, placeholder, err := s.getRow(ctx, key)
	if errors.Is(err, ErrNotFound) {
		// Deleted between insert and read; let the caller retry.
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if !placeholder && !entry.Expired(now) {
		return nil, entry, nil
	}

	// Reclaim atomically - the WHERE clause loses gracefully if another
	// caller got there first.
	tag, err := s.pool.Exec(ctx, `
		UPDATE cache_entries
		SET is_placeholder = TRUE, claim_token = $2, claimed_at = $3,
		    result = NULL, inputs = NULL
		WHERE key = $1
		  AND ((is_placeholder AND claimed_at < $4)
		       OR (NOT is_placeholder AND expires_at IS NOT NULL AND expires_at < $3))`,
		key, token, now, now.Add(-s.claimStale))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reclaim: %v", ErrCorrupt, err)
	}
	if tag.RowsAffected() == 1 {
		return &Claim{Key: key, Token: token, ClaimedAt: now}, nil, nil
	}
	return nil, nil, nil
}

// Get returns the entry for key. Placeholders and expired entries read
// as ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	entry, placeholder, err := s.getRow(ctx, key)
	if err != nil {
		return nil, err
	}
	if placeholder || entry.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *PostgresStore) getRow(ctx context.Context, key string) (*Entry, bool, error) {
	var (
		e           Entry
		placeholder bool
		expiresAt   *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT key, result, inputs, created_at, accessed_at, access_count,
		       tag, expires_at, size_bytes, is_placeholder
		FROM cache_entries WHERE key = $1`,
		key).Scan(&e.Key, &e.Result, &e.Inputs, &e.CreatedAt, &e.AccessedAt,
		&e.AccessCount, &e.Tag, &expiresAt, &e.SizeBytes, &placeholder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrCorrupt, err)
	}
	if expiresAt != nil {
		e.ExpiresAt = *expiresAt
	}
	return &e, placeholder, nil
}

// Commit replaces the claim's placeholder with entry.
func (s *PostgresStore) Commit(ctx context.Context, claim *Claim, entry *Entry) error {
	if claim == nil {
		return ErrClaimNotHeld
	}
	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	var expiresAt *time.Time
	if !entry.ExpiresAt.IsZero() {
		t := entry.ExpiresAt.UTC()
		expiresAt = &t
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE cache_entries
		SET result = $3, inputs = $4, created_at = $5, accessed_at = $5,
		    access_count = 0, tag = $6, expires_at = $7, size_bytes = $8,
		    is_placeholder = FALSE, claim_token = NULL, claimed_at = NULL
		WHERE key = $1 AND is_placeholder AND claim_token = $2`,
		claim.Key, claim.Token, entry.Result, entry.Inputs, createdAt,
		entry.Tag, expiresAt, entry.SizeBytes)
	if err != nil {
		return fmt.Errorf("%w: commit: %v", ErrCorrupt, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrClaimNotHeld
	}
	return nil
}

// Abort removes the claim's placeholder. Idempotent.
func (s *PostgresStore) Abort(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM cache_entries
		WHERE key = $1 AND is_placeholder AND claim_token = $2`,
		claim.Key, claim.Token)
	if err != nil {
		return fmt.Errorf("%w: abort: %v", ErrCorrupt, err)
	}
	return nil
}

// Delete removes an entry. Idempotent.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrCorrupt, err)
	}
	return nil
}

// Touch updates last-access bookkeeping for key.
func (s *PostgresStore) Touch(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE cache_entries
		SET accessed_at = $2, access_count = access_count + 1
		WHERE key = $1 AND NOT is_placeholder`,
		key, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: touch: %v", ErrCorrupt, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup removes expired entries plus whatever policy selects, and
// returns the removed entries.
func (s *PostgresStore) Cleanup(ctx context.Context, policy Policy) ([]Entry, error) {
	now := time.Now().UTC()
	var removed []Entry

	run := func(query string, args ...any) error {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: cleanup: %v", ErrCorrupt, err)
		}
		defer rows.Close()
		for rows.Next() {
			var e Entry
			if err := rows.Scan(&e.Key, &e.Result, &e.Inputs, &e.SizeBytes); err != nil {
				return fmt.Errorf("%w: cleanup scan: %v", ErrCorrupt, err)
			}
			removed = append(removed, e)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("%w: cleanup: %v", ErrCorrupt, err)
		}
		return nil
	}

	const returning = ` RETURNING key, result, inputs, size_bytes`

	if err := run(`DELETE FROM cache_entries
		WHERE NOT is_placeholder AND expires_at IS NOT NULL AND expires_at < $1`+returning, now); err != nil {
		return removed, err
	}
	if policy.Tag != "" {
		if err := run(`DELETE FROM cache_entries
			WHERE NOT is_placeholder AND tag = $1`+returning, policy.Tag); err != nil {
			return removed, err
		}
	}
	if policy.TTL > 0 {
		if err := run(`DELETE FROM cache_entries
			WHERE NOT is_placeholder AND accessed_at < $1`+returning, now.Add(-policy.TTL)); err != nil {
			return removed, err
		}
	}
	// Retention order for the bounded sweeps. Constant per method, so
	// safe to splice into the queries.
	rank := `accessed_at DESC, key`
	if policy.Method == EvictLFU {
		rank = `access_count DESC, accessed_at DESC, key`
	}

	if policy.MaxCount > 0 {
		if err := run(`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries WHERE NOT is_placeholder
			ORDER BY `+rank+` OFFSET $1)`+returning, policy.MaxCount); err != nil {
			return removed, err
		}
	}
	if policy.MaxSizeBytes > 0 {
		if err := run(`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM (
				SELECT key, SUM(size_bytes) OVER (ORDER BY `+rank+`) AS running
				FROM cache_entries WHERE NOT is_placeholder
			) t WHERE running > $1)`+returning, policy.MaxSizeBytes); err != nil {
			return removed, err
		}
	}

	return removed, nil
}

// HasChecksum reports whether any live entry references checksum.
func (s *PostgresStore) HasChecksum(ctx context.Context, checksum string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cache_entries
			WHERE NOT is_placeholder
			  AND (result::text LIKE $1 OR inputs::text LIKE $1)
		)`, "%"+checksum+"%").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: has checksum: %v", ErrCorrupt, err)
	}
	return exists, nil
}

// Ping verifies the backend is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("%w: not initialized", ErrCorrupt)
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrCorrupt, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ensure PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)
