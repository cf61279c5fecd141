// Package storage provides the filesystem layout of a render: an intake
// directory for uploaded originals, per-render workspaces for intermediate
// files, an output directory for retained artifacts, and optional S3
// publishing of the final video.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for render file storage.
type Storage interface {
	// SaveIntake stores an uploaded file for renderID under the intake
	// directory and returns its path. name must be a plain file name.
	SaveIntake(ctx context.Context, renderID, name string, data io.Reader) (path string, err error)

	// NewWorkspace creates the scratch directory for renderID and returns its path.
	NewWorkspace(ctx context.Context, renderID string) (dir string, err error)

	// RemoveWorkspace deletes a workspace directory and everything in it.
	RemoveWorkspace(ctx context.Context, dir string) error

	// RemoveIntake deletes the given intake files and then the render's
	// intake directory. Missing files are not an error. Every failure is
	// reported in the returned error.
	RemoveIntake(ctx context.Context, renderID string, paths []string) error

	// OutputPath returns where the final artifact of renderID is written.
	OutputPath(renderID string) string

	// RemoveOutput deletes a partially written artifact of renderID.
	// A missing file is not an error.
	RemoveOutput(ctx context.Context, renderID string) error

	// Open opens a stored file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
