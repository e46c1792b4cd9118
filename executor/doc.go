// Package executor runs memoized calls against a shared entry store.
//
// GetOrCompute drives the call lifecycle: fingerprint the call, look
// up the entry, validate its file references, claim the key when a
// computation is needed, and commit the encoded result. Same-key
// callers collapse onto one computation in-process via singleflight
// and across processes via the store's claim protocol.
//
// Entries whose output-side references went stale are deleted and
// recomputed transparently. Entries whose input-side references went
// stale fail with ErrInvalidInput without invoking the callable,
// since recomputing against missing inputs cannot succeed.
package executor
