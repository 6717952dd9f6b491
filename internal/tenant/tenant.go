// Package tenant carries the caller's tenant identity through a
// context.Context, explicitly and only that way — no goroutine-local or
// package-global state.
package tenant

import (
	"context"

	"tablemux/internal/apperr"
)

// ID is a tenant identifier. The zero value is invalid: absence of a tenant
// is always an error, never a default.
type ID string

// Validate reports whether id is non-empty. Delimiter-legality is checked by
// prefixcodec, not here, since the reserved delimiter is a prefixcodec
// concern.
func (id ID) Validate() error {
	if id == "" {
		return apperr.New(apperr.InvalidArgument, "tenant id is empty")
	}
	return nil
}

type contextKey struct{}

// Provider resolves the current tenant from a context and attaches one to a
// new context. The default implementation (New) is a thin context.Value
// wrapper; it exists as an interface so dispatch and reqmap depend on a seam,
// not a concrete context key.
type Provider interface {
	Current(ctx context.Context) (ID, error)
	WithTenant(ctx context.Context, id ID) context.Context
}

type ctxProvider struct{}

// New returns the context.Context-based Provider.
func New() Provider { return ctxProvider{} }

func (ctxProvider) Current(ctx context.Context) (ID, error) {
	v := ctx.Value(contextKey{})
	id, ok := v.(ID)
	if !ok {
		return "", apperr.New(apperr.InvalidArgument, "no tenant present in context")
	}
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

func (ctxProvider) WithTenant(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// WithContext runs fn with id attached to ctx. Background work (the async
// DeleteTable worker) uses this to carry a tenant across the goroutine
// boundary explicitly, since the original request's context is gone by the
// time the worker runs.
func WithContext(ctx context.Context, p Provider, id ID, fn func(context.Context) error) error {
	return fn(p.WithTenant(ctx, id))
}
