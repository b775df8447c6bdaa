package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultSessionTTL   = 24 * time.Hour
	defaultLoginLinkTTL = 30 * time.Minute
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
)

// Identity is the subset of user data embedded in issued tokens.
type Identity struct {
	UserID string
	Email  string
	Roles  []string
}

// TokenIssuerConfig configures the JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	SessionTTL    time.Duration
	LoginLinkTTL  time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints session cookies and login-link tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	sessionTTL    time.Duration
	loginLinkTTL  time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	loginLinkTTL := cfg.LoginLinkTTL
	if loginLinkTTL <= 0 {
		loginLinkTTL = defaultLoginLinkTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		sessionTTL:    sessionTTL,
		loginLinkTTL:  loginLinkTTL,
		clock:         clock,
	}, nil
}

// IssueSession produces a signed session token and its expiry.
func (i *TokenIssuer) IssueSession(identity Identity) (string, time.Time, error) {
	return i.issue(identity, AudienceSession, i.sessionTTL)
}

// IssueLoginLink produces a short-lived token that can be exchanged for a session.
func (i *TokenIssuer) IssueLoginLink(identity Identity) (string, time.Time, error) {
	return i.issue(identity, AudienceLoginLink, i.loginLinkTTL)
}

func (i *TokenIssuer) issue(identity Identity, audience string, ttl time.Duration) (string, time.Time, error) {
	subject := strings.TrimSpace(identity.UserID)
	if subject == "" {
		return "", time.Time{}, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(ttl).UTC()

	claims := SessionClaims{
		UserID:    subject,
		UserEmail: identity.Email,
		UserRoles: append([]string(nil), identity.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
