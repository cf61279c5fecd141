package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Static errors for local storage.
var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidName is returned when a file or render name would escape its directory.
	ErrInvalidName = errors.New("invalid storage name")
	// ErrOutsideRoot is returned when a path to remove is not under the expected root.
	ErrOutsideRoot = errors.New("path is outside the storage root")
)

// Dirs holds the three working directories.
type Dirs struct {
	Intake string
	Temp   string
	Output string
}

// LocalStorage implements the Storage interface using local disk.
// It does not support S3 operations unless wrapped with S3Storage.
type LocalStorage struct {
	dirs Dirs
}

// NewLocalStorage creates a new LocalStorage instance.
// Empty directories default to subdirectories of os.TempDir().
// Every directory is created if it doesn't exist.
func NewLocalStorage(dirs Dirs) (*LocalStorage, error) {
	base := filepath.Join(os.TempDir(), "montage")
	if dirs.Intake == "" {
		dirs.Intake = filepath.Join(base, "uploads")
	}
	if dirs.Temp == "" {
		dirs.Temp = filepath.Join(base, "temp")
	}
	if dirs.Output == "" {
		dirs.Output = filepath.Join(base, "output")
	}

	for _, d := range []string{dirs.Intake, dirs.Temp, dirs.Output} {
		if err := os.MkdirAll(d, 0750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	return &LocalStorage{dirs: dirs}, nil
}

// Dirs returns the configured directories.
func (s *LocalStorage) Dirs() Dirs {
	return s.dirs
}

// SaveIntake saves an upload to <intake>/<renderID>/<name>.
func (s *LocalStorage) SaveIntake(ctx context.Context, renderID, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := checkName(renderID); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}

	dir := filepath.Join(s.dirs.Intake, renderID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create intake directory: %w", err)
	}

	fileName := filepath.Join(dir, name)
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600) // #nosec G304 - name is validated above
	if err != nil {
		return "", fmt.Errorf("create intake file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write intake file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close intake file: %w", err)
	}

	return fileName, nil
}

// NewWorkspace creates <temp>/<renderID>.
func (s *LocalStorage) NewWorkspace(ctx context.Context, renderID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := checkName(renderID); err != nil {
		return "", err
	}

	dir := filepath.Join(s.dirs.Temp, renderID)
	if err := os.Mkdir(dir, 0750); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// RemoveWorkspace recursively deletes dir, which must live under the temp directory.
// It ignores cancellation so cleanup still runs for aborted requests.
func (s *LocalStorage) RemoveWorkspace(_ context.Context, dir string) error {
	if !within(s.dirs.Temp, dir) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", dir, err)
	}
	return nil
}

// RemoveIntake removes each path, then the render's intake directory.
// It continues past failures and joins every error encountered.
func (s *LocalStorage) RemoveIntake(_ context.Context, renderID string, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove intake file %s: %w", p, err))
		}
	}

	if checkName(renderID) == nil {
		dir := filepath.Join(s.dirs.Intake, renderID)
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove intake directory %s: %w", dir, err))
		}
	}

	return errors.Join(errs...)
}

// OutputPath returns <output>/<renderID>.mp4.
func (s *LocalStorage) OutputPath(renderID string) string {
	return filepath.Join(s.dirs.Output, renderID+".mp4")
}

// RemoveOutput deletes <output>/<renderID>.mp4 if it exists.
func (s *LocalStorage) RemoveOutput(_ context.Context, renderID string) error {
	if err := checkName(renderID); err != nil {
		return err
	}
	p := s.OutputPath(renderID)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove output %s: %w", p, err)
	}
	return nil
}

// Open opens a file for reading.
func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return f, nil
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// checkName rejects names that are empty or contain path elements.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// within reports whether path is strictly inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
