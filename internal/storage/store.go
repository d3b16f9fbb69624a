package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	// ErrObjectExists indicates a write targeted a path that is already occupied.
	// Writes never overwrite: a collision is surfaced, not silently absorbed.
	ErrObjectExists = errors.New("storage: object already exists")
	// ErrInvalidPath indicates an object path that is empty, absolute, or escapes the store root.
	ErrInvalidPath = errors.New("storage: invalid object path")

	errMissingFilesystem = errors.New("storage: filesystem is required")
	errMissingBaseURL    = errors.New("storage: public base url is required")
)

// ObjectStore writes opaque binary payloads and derives public links for them.
type ObjectStore interface {
	Put(ctx context.Context, objectPath string, payload io.Reader) error
	PublicURL(objectPath string) string
}

// DiskStoreConfig describes the dependencies of a DiskStore.
type DiskStoreConfig struct {
	Filesystem afero.Fs
	BaseURL    string
	Logger     *zap.Logger
}

// DiskStore is a filesystem-backed ObjectStore. Production wiring uses a
// base-path OsFs; tests use an in-memory filesystem.
type DiskStore struct {
	fs      afero.Fs
	baseURL string
	logger  *zap.Logger
}

// NewDiskStore constructs a DiskStore.
func NewDiskStore(cfg DiskStoreConfig) (*DiskStore, error) {
	if cfg.Filesystem == nil {
		return nil, errMissingFilesystem
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskStore{fs: cfg.Filesystem, baseURL: baseURL, logger: logger}, nil
}

// Put writes the payload at objectPath. The write is non-overwriting: an
// existing object at the same path fails with ErrObjectExists.
func (s *DiskStore) Put(ctx context.Context, objectPath string, payload io.Reader) error {
	if err := validatePath(objectPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if dir := path.Dir(objectPath); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: create directory: %w", err)
		}
	}

	file, err := s.fs.OpenFile(objectPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrObjectExists, objectPath)
		}
		return fmt.Errorf("storage: open object: %w", err)
	}

	if _, err := io.Copy(file, payload); err != nil {
		_ = file.Close()
		if removeErr := s.fs.Remove(objectPath); removeErr != nil {
			s.logger.Warn("failed to remove partial object",
				zap.String("path", objectPath), zap.Error(removeErr))
		}
		return fmt.Errorf("storage: write object: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("storage: close object: %w", err)
	}
	return nil
}

// PublicURL derives the public link for an object path. The derivation is a
// pure function of the path; no storage access is performed.
func (s *DiskStore) PublicURL(objectPath string) string {
	segments := strings.Split(objectPath, "/")
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = url.PathEscape(segment)
	}
	return s.baseURL + "/" + strings.Join(escaped, "/")
}

func validatePath(objectPath string) error {
	if strings.TrimSpace(objectPath) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, "\\") {
		return fmt.Errorf("%w: %s", ErrInvalidPath, objectPath)
	}
	for _, segment := range strings.Split(objectPath, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %s", ErrInvalidPath, objectPath)
		}
	}
	return nil
}
