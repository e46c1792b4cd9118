package artifact

import "errors"

// Sentinel errors for artifact operations.
var (
	// ErrNotFound is returned when no blob exists for a checksum.
	ErrNotFound = errors.New("artifact: blob not found")

	// ErrChecksumMismatch is returned when stored content does not hash to
	// the checksum it was requested under.
	ErrChecksumMismatch = errors.New("artifact: checksum mismatch")

	// ErrInvalidChecksum is returned when a checksum is empty or malformed.
	ErrInvalidChecksum = errors.New("artifact: checksum is invalid")
)
