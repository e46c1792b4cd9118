package store

import "errors"

// Sentinel errors for store operations.
var (
	ErrNotFound     = errors.New("store: entry not found")
	ErrInvalidKey   = errors.New("store: key is invalid")
	ErrClaimNotHeld = errors.New("store: claim not held")
	ErrCorrupt      = errors.New("store: backend unreachable or inconsistent")
)
