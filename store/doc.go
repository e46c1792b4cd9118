// Package store persists cache entries keyed by fingerprint, and
// arbitrates which caller computes a missing entry.
//
// The central operation is TryClaim: an atomic insert-if-absent that
// either hands the caller a Claim (compute, then Commit or Abort) or
// reports the existing entry. Atomicity rests on the key's uniqueness
// constraint, so the guarantee holds across processes and hosts, not
// just goroutines. A placeholder abandoned by a crashed worker is
// reclaimable after a staleness threshold.
//
// Two implementations are provided: MemoryStore for tests and
// single-process use, and PostgresStore for shared caches.
package store
