package memories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/filestore"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var errDiskFull = errors.New("disk full")

// fakeFiles keeps stored photos in a map and fails writes for selected names.
type fakeFiles struct {
	mu      sync.Mutex
	next    int
	stored  map[string]int64
	failing map[string]bool
	removed []string
}

func newFakeFiles(failing ...string) *fakeFiles {
	files := &fakeFiles{stored: make(map[string]int64), failing: make(map[string]bool)}
	for _, name := range failing {
		files.failing[name] = true
	}
	return files
}

func (f *fakeFiles) Save(_ context.Context, directory string, upload filestore.Upload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[upload.Name] {
		return "", errDiskFull
	}
	f.next++
	publicPath := path.Join("/img", directory, fmt.Sprintf("%03d-%s", f.next, upload.Name))
	f.stored[publicPath] = upload.Size
	return publicPath, nil
}

func (f *fakeFiles) Remove(_ context.Context, publicPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.stored[publicPath]; !ok {
		return filestore.ErrNotFound
	}
	delete(f.stored, publicPath)
	f.removed = append(f.removed, publicPath)
	return nil
}

func (f *fakeFiles) Describe(_ context.Context, publicPath string) (filestore.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.stored[publicPath]
	if !ok {
		return filestore.Info{}, filestore.ErrNotFound
	}
	return filestore.Info{Key: strings.TrimPrefix(publicPath, "/img/"), Size: size}, nil
}

func (f *fakeFiles) has(publicPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.stored[publicPath]
	return ok
}

func (f *fakeFiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func photo(name string) filestore.Upload {
	content := "image:" + name
	return filestore.Upload{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func photos(names ...string) []filestore.Upload {
	uploads := make([]filestore.Upload, 0, len(names))
	for _, name := range names {
		uploads = append(uploads, photo(name))
	}
	return uploads
}

func newTestAttachments(t *testing.T, files *fakeFiles) *Attachments {
	t.Helper()
	attachments, err := NewAttachments(AttachmentsConfig{Files: files, Quota: DefaultQuotaPolicy()})
	if err != nil {
		t.Fatalf("failed to create attachments: %v", err)
	}
	return attachments
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &Memory{}, &ArchivePhoto{}, &QrCode{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

type serviceFixture struct {
	service *Service
	db      *gorm.DB
	files   *fakeFiles
	users   *users.Service
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	db := openTestDatabase(t)
	files := newFakeFiles()
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:    db,
		Users:       userService,
		Attachments: newTestAttachments(t, files),
	})
	if err != nil {
		t.Fatalf("failed to create memory service: %v", err)
	}
	return serviceFixture{service: service, db: db, files: files, users: userService}
}

func (f serviceFixture) printedCode(t *testing.T, codeUUID string) QrCode {
	t.Helper()
	code := QrCode{UUID: codeUUID, Status: CodeStatusPrinted}
	if err := f.db.Create(&code).Error; err != nil {
		t.Fatalf("failed to seed code: %v", err)
	}
	return code
}

func (f serviceFixture) claimed(t *testing.T, codeUUID, email string, files ...string) ClaimResult {
	t.Helper()
	f.printedCode(t, codeUUID)
	result, err := f.service.Claim(context.Background(), codeUUID, ClaimRequest{
		Email:   email,
		Profile: Profile{FirstName: "Anna", LastName: "Smith"},
		Files:   photos(files...),
	})
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	return result
}

func (f serviceFixture) principalFor(t *testing.T, email string, role users.Role) users.Principal {
	t.Helper()
	user, err := f.users.EnsureUser(context.Background(), email, role)
	if err != nil {
		t.Fatalf("failed to ensure user: %v", err)
	}
	return users.Principal{UserID: user.ID, UUID: user.UUID, Email: user.Email, Role: user.Role}
}

func (f serviceFixture) storedMemory(t *testing.T, memoryID uint) Memory {
	t.Helper()
	var memory Memory
	if err := f.db.Preload("Archive", orderArchive).Take(&memory, memoryID).Error; err != nil {
		t.Fatalf("failed to load memory: %v", err)
	}
	return memory
}
