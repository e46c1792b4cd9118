package executor

import "errors"

var (
	// ErrLockTimeout indicates the cross-process claim could not be
	// acquired within the configured wait bound. The condition is
	// transient: another process holds the computation for this key.
	ErrLockTimeout = errors.New("executor: claim not acquired within wait bound")

	// ErrInvalidInput indicates a cached entry references an input
	// file that no longer resolves. Recomputing would not help, so the
	// callable is not invoked and the entry is left untouched.
	ErrInvalidInput = errors.New("executor: cached entry has stale input reference")

	// ErrUnknownCallable indicates a callable identity is not present
	// in the resolver's registry.
	ErrUnknownCallable = errors.New("executor: unknown callable identity")

	// ErrNilDependency indicates a required component was nil at
	// construction.
	ErrNilDependency = errors.New("executor: nil dependency")

	// ErrNoResolver indicates Call was used without a configured
	// resolver.
	ErrNoResolver = errors.New("executor: no resolver configured")
)
