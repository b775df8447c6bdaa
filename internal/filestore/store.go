// Package filestore persists uploaded images and exposes them under public paths.
package filestore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates that no object exists for the requested key.
	ErrNotFound = errors.New("filestore: object not found")
	// ErrInvalidKey indicates a key that escapes the store root or is empty.
	ErrInvalidKey = errors.New("filestore: invalid key")
	// ErrForeignPath indicates a public path that does not belong to this store.
	ErrForeignPath = errors.New("filestore: path outside public prefix")
)

// Info describes a stored object.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the minimal object storage surface used by the services.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (Info, error)
}

// Upload is one client-supplied file, decoupled from the transport that received it.
type Upload struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Eligible reports whether the upload carries a name and content.
func (u Upload) Eligible() bool {
	return strings.TrimSpace(u.Name) != "" && u.Size > 0 && u.Open != nil
}

func cleanKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
