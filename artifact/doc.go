// Package artifact provides content-addressed storage for file-backed
// cache values.
//
// Blobs are keyed by the SHA-256 checksum of their content, so writes are
// idempotent and hits are implicitly verified. A filesystem backend covers
// the local case; a Redis backend covers shared deployments.
package artifact
