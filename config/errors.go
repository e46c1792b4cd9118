package config

import "errors"

var (
	// ErrNoArtifactBackend indicates neither a filesystem root nor a
	// Redis address was configured for the artifact store.
	ErrNoArtifactBackend = errors.New("config: no artifact store backend configured")

	// ErrMissingCodecVersion indicates the codec version tag is empty.
	ErrMissingCodecVersion = errors.New("config: codec version must not be empty")

	// ErrNegativeEvictionBound indicates a negative eviction limit.
	ErrNegativeEvictionBound = errors.New("config: eviction bounds must be non-negative")

	// ErrInvalidDuration indicates a duration could not be parsed or
	// is negative.
	ErrInvalidDuration = errors.New("config: invalid duration")

	// ErrUnknownEvictionMethod indicates an eviction method other
	// than "lru" or "lfu".
	ErrUnknownEvictionMethod = errors.New("config: unknown eviction method")
)
