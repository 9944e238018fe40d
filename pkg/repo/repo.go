// Package repo defines the generic Repository interface and list options.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entity matches an id.
var ErrNotFound = errors.New("entity not found")

// Repository is a generic store keyed by ID.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	All(ctx context.Context) ([]T, error)
	Upsert(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List operations. Filter
// keys are property names matched for equality.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}
