package render

import (
	"context"
	"errors"
)

// ErrRenderNotFound is returned when a render cannot be found by ID.
var ErrRenderNotFound = errors.New("render not found")

// Repository defines the interface for render persistence.
type Repository interface {
	// Save persists a render. If it already exists, it is updated.
	Save(ctx context.Context, r *Render) error

	// FindByID retrieves a render by its unique identifier.
	// Returns ErrRenderNotFound if the render does not exist.
	FindByID(ctx context.Context, id string) (*Render, error)

	// List returns all renders.
	List(ctx context.Context) ([]*Render, error)
}
