// Package id provides unique identifier generation for renders.
package id

import "github.com/google/uuid"

// Generate creates a new render ID.
// IDs are random UUIDs, so they are safe to use as directory names and do
// not collide between renders started in the same instant.
// Example: 3f1c9a52-7b0e-4c1d-9a7e-2b8f0d6c4e11
func Generate() string {
	return uuid.NewString()
}
