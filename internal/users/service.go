package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/auth"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

const (
	defaultCacheSize       = 1024
	defaultCacheTTL        = 5 * time.Minute
	usernameSuffixAttempts = 5
	usernameSuffixLength   = 6
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrInvalidEmail indicates an e-mail address that cannot identify a client.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrUserNotFound indicates that no user matches the lookup.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidRole indicates an unknown role name.
	ErrInvalidRole = errors.New("users: invalid role")
)

// ServiceConfig describes the dependencies required for user resolution.
type ServiceConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	CacheSize int
	CacheTTL  time.Duration
}

// Service manages accounts and resolves session claims into principals.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache *expirable.LRU[string, Principal]
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: expirable.NewLRU[string, Principal](size, nil, ttl),
	}, nil
}

// ResolvePrincipal maps validated session claims onto a stored user.
func (s *Service) ResolvePrincipal(ctx context.Context, claims auth.SessionClaims) (Principal, error) {
	userUUID := normalize(claims.UserID)
	if userUUID == "" {
		userUUID = normalize(claims.Subject)
	}
	if userUUID == "" {
		return Principal{}, ErrInvalidIdentity
	}

	if cached, ok := s.cache.Get(userUUID); ok {
		return cached, nil
	}

	var user User
	err := s.db.WithContext(ctx).Where("uuid = ?", userUUID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Principal{}, ErrUserNotFound
	}
	if err != nil {
		return Principal{}, err
	}

	principal := principalOf(user)
	s.cache.Add(userUUID, principal)
	return principal, nil
}

// FindByID loads a user by primary key.
func (s *Service) FindByID(ctx context.Context, id uint) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Take(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// FindOrCreateClient returns the user owning email, creating a member account when absent.
// It runs on the supplied handle so callers can include it in their transaction.
func (s *Service) FindOrCreateClient(tx *gorm.DB, email string) (User, error) {
	return s.findOrCreate(tx, email, RoleMember)
}

// EnsureUser returns the user owning email, creating it with role when absent.
func (s *Service) EnsureUser(ctx context.Context, email string, role Role) (User, error) {
	if !role.valid() {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.findOrCreate(s.db.WithContext(ctx), email, role)
}

func (s *Service) findOrCreate(tx *gorm.DB, email string, role Role) (User, error) {
	normalizedEmail, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}

	var user User
	err = tx.Where("email = ?", normalizedEmail).Take(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	username, err := s.uniqueUsername(tx, normalizedEmail)
	if err != nil {
		return User{}, err
	}
	user = User{
		UUID:     uuid.NewString(),
		Email:    normalizedEmail,
		Username: username,
		Role:     role,
	}
	if err := tx.Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Service) uniqueUsername(tx *gorm.DB, email string) (string, error) {
	localPart, _, _ := strings.Cut(email, "@")
	base := strings.ToLower(normalize(localPart))
	if base == "" {
		base = "user"
	}

	candidate := base
	for attempt := 0; attempt <= usernameSuffixAttempts; attempt++ {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:usernameSuffixLength]
		candidate = base + "-" + suffix
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

// NormalizeEmail trims and lower-cases an address and checks that it parses.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(normalize(raw))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	address, err := mail.ParseAddress(trimmed)
	if err != nil || address.Address != trimmed {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return trimmed, nil
}

// ParseRole validates a role name such as ROLE_MANAGER or manager.
func ParseRole(raw string) (Role, error) {
	value := strings.ToUpper(normalize(raw))
	if !strings.HasPrefix(value, "ROLE_") {
		value = "ROLE_" + value
	}
	role := Role(value)
	if !role.valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return role, nil
}

func (r Role) valid() bool {
	switch r {
	case RoleMember, RoleManager, RoleAdmin:
		return true
	default:
		return false
	}
}
