package crawler

import (
	"context"
	"fmt"
)

// Engine executes one crawl synchronously. A false result with a nil error is
// an unsuccessful but orderly crawl; a non-nil error means the crawl could not
// be run at all.
type Engine interface {
	Run(ctx context.Context, spec Specification) (bool, error)
}

// Finalizer post-processes a finished crawl, typically shipping its results.
type Finalizer interface {
	Finalize(ctx context.Context, spec Specification) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, spec Specification) error

// Finalize calls f.
func (f FinalizerFunc) Finalize(ctx context.Context, spec Specification) error {
	return f(ctx, spec)
}

// FinalizerSet binds registry keys to implementations.
type FinalizerSet map[string]Finalizer

// Lookup returns the finalizer bound to name.
func (s FinalizerSet) Lookup(name string) (Finalizer, error) {
	f, ok := s[Canonical(name)]
	if !ok {
		return nil, fmt.Errorf("%w: finalizer %q is not bound", ErrUnknownComponent, name)
	}
	return f, nil
}
