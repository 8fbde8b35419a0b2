package resource

import (
	"context"
	"fmt"
)

// Outcome reports how a name was resolved against the remote service.
type Outcome int

const (
	// Adopted means the remote object already existed and was bound to
	// without any mutation.
	Adopted Outcome = iota
	// Created means a new remote object was created.
	Created
)

// Funcs defines the operations for reconciling one resource kind.
//
// Describe must return a *NotFoundError when the remote object is
// missing; that is the only signal that triggers creation. Any other
// error propagates to the caller unmodified.
type Funcs[T any] struct {
	Describe func(ctx context.Context) (*T, error)
	Create   func(ctx context.Context) (*T, error)
}

// AdoptOrCreate resolves name into exactly one of adopt or create.
// Adoption is always attempted first.
func AdoptOrCreate[T any](ctx context.Context, name string, funcs Funcs[T]) (*T, Outcome, error) {
	obj, err := funcs.Describe(ctx)
	if err == nil {
		return obj, Adopted, nil
	}
	if !IsNotFound(err) {
		return nil, Adopted, err
	}

	obj, err = funcs.Create(ctx)
	if err != nil {
		return nil, Created, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return obj, Created, nil
}
