package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmptyFile       = errors.New("missing file data")
	ErrFileTooLarge    = errors.New("file exceeds upload limit")
	ErrInvalidFilename = errors.New("invalid filename")
)

// BlobStore stores uploaded media and returns the URL clients fetch it from.
type BlobStore interface {
	Put(ctx context.Context, filename string, data []byte) (string, error)
}

// FileStore keeps blobs as files in one directory.
// FUNCTIONAL DISCOVERY: Stored names get a uuid prefix so two users uploading
// "photo.jpg" never overwrite each other, and only the base name of the
// client's filename is kept so no upload escapes the directory.
type FileStore struct {
	dir          string
	publicPrefix string
	maxBytes     int64
}

// NewFileStore creates dir if needed. maxBytes <= 0 means no limit.
func NewFileStore(dir, publicPrefix string, maxBytes int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &FileStore{
		dir:          dir,
		publicPrefix: "/" + strings.Trim(publicPrefix, "/") + "/",
		maxBytes:     maxBytes,
	}, nil
}

func (s *FileStore) Put(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", ErrFileTooLarge
	}
	base, err := cleanName(filename)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := uuid.NewString() + "-" + base

	// Write then rename so a reader never sees a partial file.
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, stored)); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	return path.Join(s.publicPrefix, stored), nil
}

// Handler serves stored blobs under the public prefix. Directory paths,
// the prefix itself included, are 404 so stored names cannot be listed.
func (s *FileStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.dir))
	return http.StripPrefix(s.publicPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if name == "" || strings.HasSuffix(name, "/") {
			http.NotFound(w, r)
			return
		}
		if info, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(path.Clean("/"+name)))); err == nil && info.IsDir() {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}))
}

// PublicPrefix is the URL path blobs are served under, with both slashes.
func (s *FileStore) PublicPrefix() string {
	return s.publicPrefix
}

// DirExists reports whether the upload directory is still present.
func (s *FileStore) DirExists() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

func cleanName(filename string) (string, error) {
	// Client names may use either separator.
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" || strings.HasPrefix(base, ".") {
		return "", ErrInvalidFilename
	}
	for _, r := range base {
		if r < 0x20 || r == 0x7f {
			return "", ErrInvalidFilename
		}
	}
	return base, nil
}
