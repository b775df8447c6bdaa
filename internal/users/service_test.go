package users

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestFindOrCreateClientReusesExistingAccount(t *testing.T) {
	service, db := newTestService(t)

	first, err := service.FindOrCreateClient(db, " Anna.Smith@Example.com ")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Username != "anna.smith" || first.Role != RoleMember {
		t.Fatalf("unexpected new user: %+v", first)
	}

	second, err := service.FindOrCreateClient(db, "anna.smith@example.com")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing user %d, got %d", first.ID, second.ID)
	}
}

func TestFindOrCreateClientDerivesUniqueUsername(t *testing.T) {
	service, db := newTestService(t)

	first, err := service.FindOrCreateClient(db, "anna@example.com")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := service.FindOrCreateClient(db, "anna@example.org")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Username != "anna" {
		t.Fatalf("unexpected first username %q", first.Username)
	}
	if second.Username == "anna" || len(second.Username) != len("anna-")+usernameSuffixLength {
		t.Fatalf("expected suffixed username, got %q", second.Username)
	}
}

func TestFindOrCreateClientRejectsInvalidEmail(t *testing.T) {
	service, db := newTestService(t)
	for _, email := range []string{"", "not-an-email", "Anna <anna@example.com>"} {
		if _, err := service.FindOrCreateClient(db, email); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("expected invalid email for %q, got %v", email, err)
		}
	}
}

func TestResolvePrincipalUsesStoredRole(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	manager, err := service.EnsureUser(ctx, "manager@example.com", RoleManager)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	principal, err := service.ResolvePrincipal(ctx, auth.SessionClaims{UserID: manager.UUID})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if principal.UserID != manager.ID || !principal.IsStaff() || principal.IsAdmin() {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	if _, err := service.ResolvePrincipal(ctx, auth.SessionClaims{UserID: "missing"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := service.ResolvePrincipal(ctx, auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("manager")
	if err != nil || role != RoleManager {
		t.Fatalf("expected manager role, got %q (%v)", role, err)
	}
	if _, err := ParseRole("ROLE_ROOT"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role, got %v", err)
	}
}
