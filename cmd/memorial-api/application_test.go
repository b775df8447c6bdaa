package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/config"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"github.com/gin-gonic/gin"
)

func TestOpenApplicationWiresLocalStorage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tempDir := t.TempDir()
	configViper := config.NewViper()
	configViper.Set("session.signing_secret", "secret")
	configViper.Set("database.path", filepath.Join(tempDir, "memorial.db"))
	configViper.Set("storage.local.root", filepath.Join(tempDir, "img"))
	configViper.Set("change_requests.fallback_dir", filepath.Join(tempDir, "requests"))
	configViper.Set("log.level", "error")
	appConfig, err := config.Load(configViper)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	app, err := openApplication(context.Background(), appConfig)
	if err != nil {
		t.Fatalf("failed to open application: %v", err)
	}
	defer app.Close()

	if policy := app.memories.Policy(); policy.FreeLimit != 5 || policy.Price != money.FromUnits(500) {
		t.Fatalf("unexpected quota policy: %+v", policy)
	}

	creator, err := app.users.EnsureUser(context.Background(), "staff@example.com", users.RoleManager)
	if err != nil {
		t.Fatalf("failed to ensure creator: %v", err)
	}
	codes, err := app.memories.IssueCodes(context.Background(), creator.ID, 2, "batch")
	if err != nil || len(codes) != 2 {
		t.Fatalf("failed to issue codes: %v", err)
	}

	handler, err := app.httpHandler()
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/person/code/"+codes[0].UUID, http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected the printed code page, got %d", recorder.Code)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := openStore(context.Background(), config.AppConfig{StorageDriver: "ftp"}); err == nil {
		t.Fatalf("expected an error for an unknown driver")
	}
}
