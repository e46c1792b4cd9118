package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/callcache/artifact"
	"github.com/jonwraymond/callcache/codec"
	"github.com/jonwraymond/callcache/fingerprint"
	"github.com/jonwraymond/callcache/invalidate"
	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/store"
)

const (
	// DefaultVersion tags cache keys produced by this codec format.
	DefaultVersion = "v1"

	// DefaultClaimTimeout bounds how long a caller waits for another
	// process to finish computing the same key.
	DefaultClaimTimeout = 30 * time.Second

	// DefaultClaimInitialDelay is the first backoff interval while
	// waiting on a held claim.
	DefaultClaimInitialDelay = 10 * time.Millisecond

	// DefaultClaimMaxDelay caps the backoff interval.
	DefaultClaimMaxDelay = 500 * time.Millisecond
)

// Executor memoizes callable invocations. Results are keyed by a
// deterministic fingerprint of the call, stored in a shared entry
// store, and validated against their file references before reuse.
//
// Contract:
//   - Concurrency: safe for concurrent use. Same-key callers in one
//     process collapse onto a single flight; across processes the
//     entry store's claim protocol admits exactly one computation per
//     key at a time.
//   - Errors: callable failures propagate unchanged and are never
//     cached. ErrLockTimeout and ErrInvalidInput are comparable with
//     errors.Is.
//   - Context: cancellation during compute releases the claim so
//     other waiters are unblocked immediately.
type Executor struct {
	reg       *codec.Registry
	fp        *fingerprint.Fingerprinter
	entries   store.Store
	artifacts artifact.Store
	checker   *invalidate.Checker
	mw        *observe.Middleware
	resolver  Resolver
	group     singleflight.Group

	useCache     bool
	tag          string
	ttl          time.Duration
	claimTimeout time.Duration
	claimInitial time.Duration
	claimMax     time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithVersion sets the codec-format version appended to cache keys.
func WithVersion(v string) Option {
	return func(e *Executor) {
		if v != "" {
			e.fp = fingerprint.New(e.reg, v)
		}
	}
}

// WithTag labels every entry this executor writes. Tagged entries can
// be evicted as a group via Cleanup.
func WithTag(tag string) Option {
	return func(e *Executor) { e.tag = tag }
}

// WithTTL sets an expiry on entries this executor writes. Zero means
// entries never expire.
func WithTTL(d time.Duration) Option {
	return func(e *Executor) { e.ttl = d }
}

// WithClaimTimeout bounds how long callers wait for a claim held by
// another process before failing with ErrLockTimeout.
func WithClaimTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.claimTimeout = d
		}
	}
}

// WithClaimBackoff sets the initial and maximum delay between claim
// attempts while another process computes the same key.
func WithClaimBackoff(initial, max time.Duration) Option {
	return func(e *Executor) {
		if initial > 0 {
			e.claimInitial = initial
		}
		if max > 0 {
			e.claimMax = max
		}
	}
}

// WithMiddleware sets the observability middleware wrapping each
// compute step. Defaults to a noop middleware.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(e *Executor) {
		if mw != nil {
			e.mw = mw
		}
	}
}

// WithResolver sets the callable registry used by Call.
func WithResolver(r Resolver) Option {
	return func(e *Executor) { e.resolver = r }
}

// WithoutCache disables memoization: every invocation computes.
func WithoutCache() Option {
	return func(e *Executor) { e.useCache = false }
}

// New builds an Executor over the given codec registry, entry store,
// and artifact store.
func New(reg *codec.Registry, entries store.Store, artifacts artifact.Store, opts ...Option) (*Executor, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: codec registry", ErrNilDependency)
	}
	if entries == nil {
		return nil, fmt.Errorf("%w: entry store", ErrNilDependency)
	}
	if artifacts == nil {
		return nil, fmt.Errorf("%w: artifact store", ErrNilDependency)
	}
	e := &Executor{
		reg:          reg,
		fp:           fingerprint.New(reg, DefaultVersion),
		entries:      entries,
		artifacts:    artifacts,
		checker:      invalidate.NewChecker(artifacts),
		mw:           observe.NewNoopMiddleware(),
		useCache:     true,
		claimTimeout: DefaultClaimTimeout,
		claimInitial: DefaultClaimInitialDelay,
		claimMax:     DefaultClaimMaxDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Version returns the codec-format version used for cache keys.
func (e *Executor) Version() string { return e.fp.Version() }

// Fingerprint returns the cache key for a call without executing it.
func (e *Executor) Fingerprint(ctx context.Context, spec fingerprint.CallSpec) (string, error) {
	return e.fp.Key(ctx, spec)
}

// Call resolves the callable named by spec.Func through the configured
// resolver and memoizes its invocation.
func (e *Executor) Call(ctx context.Context, spec fingerprint.CallSpec) (any, error) {
	if e.resolver == nil {
		return nil, ErrNoResolver
	}
	fn, err := e.resolver.Resolve(spec.Func)
	if err != nil {
		return nil, err
	}
	return e.GetOrCompute(ctx, spec, fn)
}

// GetOrCompute returns the cached result for the call described by
// spec, computing and caching it via fn on a miss. Concurrent callers
// for the same key, in this process or others, observe exactly one
// computation.
func (e *Executor) GetOrCompute(ctx context.Context, spec fingerprint.CallSpec, fn Func) (any, error) {
	if !e.useCache {
		return fn(ctx, spec.Args, spec.Kwargs)
	}

	key, err := e.fp.Key(ctx, spec)
	if err != nil {
		return nil, err
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.run(ctx, key, spec, fn)
	})
	return v, err
}

func (e *Executor) run(ctx context.Context, key string, spec fingerprint.CallSpec, fn Func) (any, error) {
	meta := observe.CallMeta{Func: spec.Func, Key: key, Tag: e.tag}
	metrics := e.mw.Metrics()

	deadline := time.Now().Add(e.claimTimeout)
	delay := e.claimInitial
	waitStart := time.Now()
	waited := false

	for {
		claim, entry, err := e.entries.TryClaim(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("executor: claim %s: %w", key, err)
		}

		if entry != nil {
			v, recompute, err := e.consume(ctx, meta, entry)
			if err != nil {
				return nil, err
			}
			if !recompute {
				return v, nil
			}
			// Stale output: the entry was deleted, next TryClaim
			// races for the placeholder.
			continue
		}

		if claim != nil {
			if waited {
				metrics.RecordClaimWait(ctx, meta, time.Since(waitStart), false)
			}
			metrics.RecordLookup(ctx, meta, observe.OutcomeMiss)
			return e.compute(ctx, claim, meta, spec, fn)
		}

		// Claim held elsewhere: back off and retry until the wait
		// bound.
		if time.Now().After(deadline) {
			metrics.RecordClaimWait(ctx, meta, time.Since(waitStart), true)
			return nil, fmt.Errorf("%w: key %s", ErrLockTimeout, key)
		}
		waited = true
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered(delay)):
		}
		delay *= 2
		if delay > e.claimMax {
			delay = e.claimMax
		}
	}
}

// consume validates and decodes a cached entry. The second return is
// true when the entry was stale on the output side and has been
// deleted, so the caller should recompute.
func (e *Executor) consume(ctx context.Context, meta observe.CallMeta, entry *store.Entry) (any, bool, error) {
	metrics := e.mw.Metrics()

	verdict, err := e.checker.Validate(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("executor: validate %s: %w", entry.Key, err)
	}

	switch verdict {
	case invalidate.InvalidInput:
		metrics.RecordLookup(ctx, meta, observe.OutcomeInvalidInput)
		return nil, false, fmt.Errorf("%w: key %s", ErrInvalidInput, entry.Key)

	case invalidate.InvalidOutput:
		metrics.RecordLookup(ctx, meta, observe.OutcomeInvalidOutput)
		if err := e.entries.Delete(ctx, entry.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("executor: drop stale %s: %w", entry.Key, err)
		}
		return nil, true, nil
	}

	v, err := e.reg.Unmarshal(ctx, entry.Result)
	if err != nil {
		// Undecodable result is stale output in a different coat.
		metrics.RecordLookup(ctx, meta, observe.OutcomeInvalidOutput)
		if derr := e.entries.Delete(ctx, entry.Key); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			return nil, false, fmt.Errorf("executor: drop undecodable %s: %w", entry.Key, derr)
		}
		return nil, true, nil
	}

	if err := e.entries.Touch(ctx, entry.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.mw.Logger().WithCall(meta).Warn(ctx, "touch failed", observe.Field{Key: "error", Value: err.Error()})
	}
	metrics.RecordLookup(ctx, meta, observe.OutcomeHit)
	return v, false, nil
}

func (e *Executor) compute(ctx context.Context, claim *store.Claim, meta observe.CallMeta, spec fingerprint.CallSpec, fn Func) (any, error) {
	wrapped := e.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (any, error) {
		return fn(ctx, spec.Args, spec.Kwargs)
	})

	value, err := wrapped(ctx, meta)
	if err != nil {
		e.abort(ctx, claim, meta)
		return nil, err
	}

	resultWire, err := e.reg.Marshal(ctx, value)
	if err != nil {
		// The caller still gets the computed value; only the caching
		// step is lost.
		e.abort(ctx, claim, meta)
		e.mw.Logger().WithCall(meta).Error(ctx, "result not cacheable",
			observe.Field{Key: "error", Value: err.Error()})
		return value, nil
	}

	inputsWire, err := e.encodeInputs(ctx, spec)
	if err != nil {
		e.abort(ctx, claim, meta)
		e.mw.Logger().WithCall(meta).Error(ctx, "inputs not cacheable",
			observe.Field{Key: "error", Value: err.Error()})
		return value, nil
	}

	now := time.Now().UTC()
	entry := &store.Entry{
		Key:         claim.Key,
		Result:      resultWire,
		Inputs:      inputsWire,
		CreatedAt:   now,
		AccessedAt:  now,
		AccessCount: 1,
		Tag:         e.tag,
		SizeBytes:   entrySize(resultWire, inputsWire),
	}
	if e.ttl > 0 {
		entry.ExpiresAt = now.Add(e.ttl)
	}

	if err := e.entries.Commit(context.WithoutCancel(ctx), claim, entry); err != nil {
		e.mw.Logger().WithCall(meta).Warn(ctx, "commit failed",
			observe.Field{Key: "error", Value: err.Error()})
	}
	return value, nil
}

// abort releases the claim even when ctx is already canceled, so other
// waiters do not have to wait out the staleness-reclaim timer.
func (e *Executor) abort(ctx context.Context, claim *store.Claim, meta observe.CallMeta) {
	if err := e.entries.Abort(context.WithoutCancel(ctx), claim); err != nil {
		e.mw.Logger().WithCall(meta).Warn(ctx, "abort failed",
			observe.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Executor) encodeInputs(ctx context.Context, spec fingerprint.CallSpec) ([]byte, error) {
	if len(spec.Args) == 0 && len(spec.Kwargs) == 0 {
		return nil, nil
	}
	in := make(map[string]any, 2)
	if len(spec.Args) > 0 {
		in["args"] = spec.Args
	}
	if len(spec.Kwargs) > 0 {
		in["kwargs"] = spec.Kwargs
	}
	return e.reg.Marshal(ctx, in)
}

// Cleanup applies the eviction policy to the entry store and deletes
// artifacts that no surviving entry references. Returns the number of
// entries removed.
func (e *Executor) Cleanup(ctx context.Context, policy store.Policy) (int, error) {
	removed, err := e.entries.Cleanup(ctx, policy)
	if err != nil {
		return 0, err
	}

	checksums := make(map[string]struct{})
	for _, entry := range removed {
		for _, wire := range [][]byte{entry.Result, entry.Inputs} {
			refs, err := codec.CollectFileRefs(wire)
			if err != nil {
				continue
			}
			for _, ref := range refs {
				checksums[ref.Checksum] = struct{}{}
			}
		}
	}

	logger := e.mw.Logger()
	for sum := range checksums {
		referenced, err := e.entries.HasChecksum(ctx, sum)
		if err != nil {
			logger.Warn(ctx, "checksum scan failed",
				observe.Field{Key: "checksum", Value: sum},
				observe.Field{Key: "error", Value: err.Error()})
			continue
		}
		if referenced {
			continue
		}
		if err := e.artifacts.Delete(ctx, sum); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			logger.Warn(ctx, "artifact delete failed",
				observe.Field{Key: "checksum", Value: sum},
				observe.Field{Key: "error", Value: err.Error()})
		}
	}
	return len(removed), nil
}

// entrySize is the storage footprint an entry accounts for: the wire
// bytes plus the content of every artifact its file references point
// at. Size-based eviction is meaningless without the artifact bytes,
// which dominate for file-backed results. Shared content is counted
// once per entry.
func entrySize(wires ...[]byte) int64 {
	var size int64
	counted := make(map[string]struct{})
	for _, wire := range wires {
		size += int64(len(wire))
		refs, err := codec.CollectFileRefs(wire)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			if _, ok := counted[ref.Checksum]; ok {
				continue
			}
			counted[ref.Checksum] = struct{}{}
			size += ref.Size
		}
	}
	return size
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	// Up to 25% jitter to avoid lockstep retries.
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return d + time.Duration(rand.Int64N(int64(d/4)+1))
}
