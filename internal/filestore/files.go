package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	defaultExtension  = "jpg"
	maxExtensionChars = 8
	sniffBytes        = 3072
)

var errMissingStore = errors.New("filestore: store is required")

// NameProvider issues collision-resistant base names for stored files.
type NameProvider interface {
	NewName() (string, error)
}

type uuidNameProvider struct{}

// NewUUIDNameProvider returns a NameProvider backed by UUIDv7.
func NewUUIDNameProvider() NameProvider {
	return uuidNameProvider{}
}

func (uuidNameProvider) NewName() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// FilesConfig wires a Store to the public URL space.
type FilesConfig struct {
	Store        Store
	PublicPrefix string
	Names        NameProvider
}

// Files names, stores and resolves uploads using public paths such as /img/memories/<id>.jpg.
type Files struct {
	store        Store
	publicPrefix string
	names        NameProvider
}

// NewFiles validates the configuration and returns a Files instance.
func NewFiles(cfg FilesConfig) (*Files, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	names := cfg.Names
	if names == nil {
		names = NewUUIDNameProvider()
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(cfg.PublicPrefix), "/")
	return &Files{store: cfg.Store, publicPrefix: prefix, names: names}, nil
}

// Save stores the upload below directory and returns its public path.
func (f *Files) Save(ctx context.Context, directory string, upload Upload) (string, error) {
	if !upload.Eligible() {
		return "", fmt.Errorf("filestore: upload %q has no content", upload.Name)
	}
	reader, err := upload.Open()
	if err != nil {
		return "", fmt.Errorf("filestore: open %q: %w", upload.Name, err)
	}
	defer reader.Close()

	header := make([]byte, sniffBytes)
	read, err := io.ReadFull(reader, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("filestore: read %q: %w", upload.Name, err)
	}
	header = header[:read]
	detected := mimetype.Detect(header)

	baseName, err := f.names.NewName()
	if err != nil {
		return "", fmt.Errorf("filestore: generate name: %w", err)
	}
	key := path.Join(strings.Trim(directory, "/"), baseName+"."+extensionFor(upload.Name, detected))

	body := io.MultiReader(bytes.NewReader(header), reader)
	if err := f.store.Put(ctx, key, body, detected.String()); err != nil {
		return "", err
	}
	return f.PublicPath(key), nil
}

// Remove deletes the object behind a public path.
func (f *Files) Remove(ctx context.Context, publicPath string) error {
	key, err := f.KeyFor(publicPath)
	if err != nil {
		return err
	}
	return f.store.Delete(ctx, key)
}

// Describe returns object metadata for a public path.
func (f *Files) Describe(ctx context.Context, publicPath string) (Info, error) {
	key, err := f.KeyFor(publicPath)
	if err != nil {
		return Info{}, err
	}
	return f.store.Stat(ctx, key)
}

// PublicPath maps a storage key to its public path.
func (f *Files) PublicPath(key string) string {
	return path.Join(f.publicPrefix, key)
}

// KeyFor maps a public path back to its storage key.
func (f *Files) KeyFor(publicPath string) (string, error) {
	trimmed := strings.TrimSpace(publicPath)
	prefix := strings.TrimSuffix(f.publicPrefix, "/") + "/"
	if !strings.HasPrefix(trimmed, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignPath, publicPath)
	}
	return cleanKey(strings.TrimPrefix(trimmed, prefix))
}

func extensionFor(originalName string, detected *mimetype.MIME) string {
	if extension := sanitizeExtension(path.Ext(originalName)); extension != "" {
		return extension
	}
	if detected != nil && !detected.Is("application/octet-stream") && !detected.Is("text/plain") {
		if extension := sanitizeExtension(detected.Extension()); extension != "" {
			return extension
		}
	}
	return defaultExtension
}

func sanitizeExtension(raw string) string {
	extension := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "."))
	if extension == "" || len(extension) > maxExtensionChars {
		return ""
	}
	for _, character := range extension {
		if (character < 'a' || character > 'z') && (character < '0' || character > '9') {
			return ""
		}
	}
	return extension
}
