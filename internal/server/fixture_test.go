package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/changerequests"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/database"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/filestore"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testCookieName    = "memorial_session"
	testSigningSecret = "test-signing-secret"
	testIssuer        = "memorial-test"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

type recordingNotifier struct {
	mu    sync.Mutex
	links []LoginLink
}

func (n *recordingNotifier) DeliverLoginLink(_ context.Context, link LoginLink) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, link)
	return nil
}

type serverFixture struct {
	handler   http.Handler
	db        *gorm.DB
	memories  *memories.Service
	users     *users.Service
	tokens    *auth.TokenIssuer
	notifier  *recordingNotifier
	storeRoot string
	logs      *observer.ObservedLogs
}

func newServerFixture(t *testing.T) serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tempDir := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(tempDir, "memorial.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	storeRoot := filepath.Join(tempDir, "public")
	store, err := filestore.NewLocalStore(storeRoot)
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	files, err := filestore.NewFiles(filestore.FilesConfig{Store: store, PublicPrefix: "/img"})
	if err != nil {
		t.Fatalf("failed to create files: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	attachments, err := memories.NewAttachments(memories.AttachmentsConfig{
		Files:  files,
		Quota:  memories.DefaultQuotaPolicy(),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to create attachments: %v", err)
	}
	locks := memories.NewKeyedLocks()
	memoryService, err := memories.NewService(memories.ServiceConfig{
		Database:    db,
		Users:       userService,
		Attachments: attachments,
		Locks:       locks,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to create memories service: %v", err)
	}
	ledger, err := payments.NewLedger(payments.LedgerConfig{
		Database:   db,
		Locks:      locks,
		IDProvider: payments.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	primary, err := changerequests.NewDatabaseStore(db)
	if err != nil {
		t.Fatalf("failed to create primary store: %v", err)
	}
	fallback, err := changerequests.NewFileStore(filepath.Join(tempDir, "memory_change_requests"))
	if err != nil {
		t.Fatalf("failed to create fallback store: %v", err)
	}
	recorder, err := changerequests.NewRecorder(changerequests.RecorderConfig{
		Primary:  primary,
		Fallback: fallback,
		Files:    files,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	notifier := &recordingNotifier{}
	handler, err := NewHTTPHandler(Dependencies{
		Memories:      memoryService,
		Ledger:        ledger,
		Recorder:      recorder,
		Users:         userService,
		Sessions:      sessions,
		Tokens:        tokens,
		Notifier:      notifier,
		PublicBaseURL: "https://memorial.example.com/",
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return serverFixture{
		handler:   handler,
		db:        db,
		memories:  memoryService,
		users:     userService,
		tokens:    tokens,
		notifier:  notifier,
		storeRoot: storeRoot,
		logs:      logs,
	}
}

func (f serverFixture) issueCode(t *testing.T) string {
	t.Helper()
	codes, err := f.memories.IssueCodes(context.Background(), 0, 1, "")
	if err != nil {
		t.Fatalf("failed to issue code: %v", err)
	}
	return codes[0].UUID
}

func (f serverFixture) user(t *testing.T, email string, role users.Role) users.User {
	t.Helper()
	user, err := f.users.EnsureUser(context.Background(), email, role)
	if err != nil {
		t.Fatalf("failed to ensure user: %v", err)
	}
	return user
}

func (f serverFixture) sessionCookie(t *testing.T, user users.User) *http.Cookie {
	t.Helper()
	token, _, err := f.tokens.IssueSession(auth.Identity{UserID: user.UUID, Email: user.Email, Roles: user.Roles()})
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: token}
}

func (f serverFixture) setBalance(t *testing.T, user users.User, cents int64) {
	t.Helper()
	if err := f.db.Model(&users.User{}).Where("id = ?", user.ID).Update("balance_cents", cents).Error; err != nil {
		t.Fatalf("failed to set balance: %v", err)
	}
}

// claim posts the creation form with a main photo followed by archiveCount archive photos.
func (f serverFixture) claim(t *testing.T, codeUUID, email string, archiveCount int) uploadResponse {
	t.Helper()
	files := []formFile{{field: "avatar", name: "portrait.jpg"}}
	for index := 0; index < archiveCount; index++ {
		files = append(files, formFile{field: "archive[]", name: "archive.jpg"})
	}
	recorder := f.serve(multipartRequest(t, http.MethodPost, "/person/code/"+codeUUID, map[string]string{
		"email":     email,
		"firstName": "Anna",
		"lastName":  "Petrova",
	}, files...))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected claim status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	var response uploadResponse
	decodeJSON(t, recorder, &response)
	return response
}

func (f serverFixture) clientOf(t *testing.T, codeUUID string) users.User {
	t.Helper()
	code, err := f.memories.FindCode(context.Background(), codeUUID)
	if err != nil {
		t.Fatalf("failed to load code: %v", err)
	}
	if code.ClientID == nil {
		t.Fatalf("code %s has no client", codeUUID)
	}
	client, err := f.users.FindByID(context.Background(), *code.ClientID)
	if err != nil {
		t.Fatalf("failed to load client: %v", err)
	}
	return client
}

func (f serverFixture) serve(request *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

type formFile struct {
	field   string
	name    string
	content []byte
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		content := file.content
		if content == nil {
			content = append(append([]byte{}, jpegHeader...), []byte(file.name)...)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(method, target, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func formRequest(method, target string, values url.Values) *http.Request {
	request := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return request
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type uploadResponse struct {
	Success       bool     `json:"success"`
	UUID          string   `json:"uuid"`
	UploadType    string   `json:"uploadType"`
	MainPhoto     string   `json:"mainPhoto"`
	Archived      []string `json:"archived"`
	Denied        []string `json:"denied"`
	Extension     string   `json:"extension"`
	QuotaExceeded *struct {
		CanUpload    bool  `json:"canUpload"`
		CurrentCount int   `json:"currentCount"`
		IsExtended   bool  `json:"isExtended"`
		FreeLimit    int   `json:"freeLimit"`
		Remaining    int   `json:"remaining"`
		Price        int64 `json:"price"`
	} `json:"quotaExceeded"`
	Memory struct {
		ID         uint     `json:"id"`
		FirstName  string   `json:"firstName"`
		MainPhoto  string   `json:"mainPhoto"`
		Archive    []string `json:"archive"`
		IsExtended bool     `json:"isExtended"`
	} `json:"memory"`
}

type quotaResponseBody struct {
	Success      bool  `json:"success"`
	CanUpload    bool  `json:"canUpload"`
	CurrentCount int   `json:"currentCount"`
	IsExtended   bool  `json:"isExtended"`
	FreeLimit    int   `json:"freeLimit"`
	Remaining    int   `json:"remaining"`
	Price        int64 `json:"price"`
}
