// Package invalidate decides whether a cached entry's external
// references are still trustworthy.
//
// A cached entry can reference files on both sides of the call: inputs
// (file-backed arguments) and outputs (file-backed results). Validation
// inspects every reference and classifies the entry:
//
//   - Valid: every reference still matches its recorded metadata.
//   - InvalidOutput: a result reference is stale. Recoverable - the
//     caller deletes the entry and recomputes.
//   - InvalidInput: an input reference is stale. Fatal - recomputing
//     against a known-bad input cannot produce a trustworthy result.
//
// Size and modification time are checked first as a cheap proxy; the
// content checksum is authoritative when they disagree.
package invalidate
