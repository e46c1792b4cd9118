package executor

import (
	"context"
	"fmt"
)

// Func is an invokable callable. Positional arguments arrive in order;
// named arguments arrive as a map. The returned value must be
// encodable by the executor's codec registry for the result to be
// cached; failures are propagated unchanged and never cached.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Resolver maps a stable callable identity to an invokable Func.
//
// Contract:
//   - Resolve returns ErrUnknownCallable (wrapped) for identities
//     outside the registry. Implementations must never load code
//     dynamically from the identity string.
//   - Concurrency: Resolve must be safe for concurrent use.
type Resolver interface {
	Resolve(name string) (Func, error)
}

// FuncMap is a closed, in-memory Resolver. The set of invokable
// identities is fixed at construction; there is no dynamic lookup
// beyond map membership.
type FuncMap map[string]Func

// Resolve implements Resolver.
func (m FuncMap) Resolve(name string) (Func, error) {
	fn, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCallable, name)
	}
	return fn, nil
}

var _ Resolver = FuncMap(nil)
