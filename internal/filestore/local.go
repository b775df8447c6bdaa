package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects below a root directory on the local filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore ensures the root directory exists and returns a store rooted there.
func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("filestore: local root is required")
	}
	if err := os.MkdirAll(root, 0o775); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Put writes the body to a temporary file and renames it into place.
func (s *LocalStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	directory := filepath.Dir(target)
	if err := os.MkdirAll(directory, 0o775); err != nil {
		return fmt.Errorf("filestore: create directory: %w", err)
	}
	temporary, err := os.CreateTemp(directory, ".upload-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	temporaryName := temporary.Name()
	if _, err := io.Copy(temporary, body); err != nil {
		temporary.Close()
		os.Remove(temporaryName)
		return fmt.Errorf("filestore: write %s: %w", key, err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryName)
		return fmt.Errorf("filestore: close %s: %w", key, err)
	}
	if err := os.Rename(temporaryName, target); err != nil {
		os.Remove(temporaryName)
		return fmt.Errorf("filestore: move %s: %w", key, err)
	}
	return nil
}

// Delete removes the object; a missing object is not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: delete %s: %w", key, err)
	}
	return nil
}

// Stat reports size and modification time of the object.
func (s *LocalStore) Stat(_ context.Context, key string) (Info, error) {
	target, err := s.resolve(key)
	if err != nil {
		return Info{}, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Info{}, fmt.Errorf("filestore: stat %s: %w", key, err)
	}
	return Info{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()}, nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}
