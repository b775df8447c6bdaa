package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoadPrincipalLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuedAt := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		SessionTTL:    time.Hour,
		Clock:         func() time.Time { return issuedAt },
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	token, _, err := issuer.IssueSession(auth.Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	handler, logs := newAuthOnlyHandler(t, func() time.Time { return issuedAt.Add(2 * time.Hour) })
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/person/edit", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	ctx.Request = request

	handler.loadPrincipal(ctx)

	if principalFrom(ctx).Authenticated() {
		t.Fatalf("expected no principal for an expired token")
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestLoadPrincipalLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, logs := newAuthOnlyHandler(t, time.Now)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/person/edit", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	handler.loadPrincipal(ctx)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestLoginLinkExchangesForSessionCookie(t *testing.T) {
	fixture := newServerFixture(t)
	codeUUID := fixture.issueCode(t)
	fixture.claim(t, codeUUID, "owner@example.com", 0)

	requested := fixture.serve(httptest.NewRequest(http.MethodPost, "/person/get-edit-person-link/"+codeUUID, http.NoBody))
	if requested.Code != http.StatusOK {
		t.Fatalf("unexpected link status: %d %s", requested.Code, requested.Body.String())
	}
	if len(fixture.notifier.links) != 1 {
		t.Fatalf("expected one delivered link, got %d", len(fixture.notifier.links))
	}
	link := fixture.notifier.links[0]
	if link.Email != "owner@example.com" || !strings.HasPrefix(link.URL, "https://memorial.example.com/person/login?") {
		t.Fatalf("unexpected link: %+v", link)
	}
	if strings.Contains(requested.Body.String(), "token") {
		t.Fatalf("the link must not be echoed in the response: %s", requested.Body.String())
	}

	parsed, err := url.Parse(link.URL)
	if err != nil {
		t.Fatalf("failed to parse link: %v", err)
	}
	loginToken := parsed.Query().Get("token")

	// A login-link token is not a session.
	misuse := fixture.serve(httptest.NewRequest(http.MethodGet, "/person/edit", http.NoBody), &http.Cookie{Name: testCookieName, Value: loginToken})
	if misuse.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a login-link token used as session, got %d", misuse.Code)
	}

	login := fixture.serve(httptest.NewRequest(http.MethodGet, "/person/login?"+parsed.RawQuery, http.NoBody))
	if login.Code != http.StatusOK {
		t.Fatalf("unexpected login status: %d %s", login.Code, login.Body.String())
	}
	if !strings.Contains(login.Body.String(), `"next":"/person/edit/code/`+codeUUID+`"`) {
		t.Fatalf("expected the edit page as next hop, got %s", login.Body.String())
	}
	var session *http.Cookie
	for _, cookie := range login.Result().Cookies() {
		if cookie.Name == testCookieName {
			session = cookie
		}
	}
	if session == nil || !session.HttpOnly || !session.Secure {
		t.Fatalf("expected a secure http-only session cookie, got %+v", session)
	}

	edit := fixture.serve(httptest.NewRequest(http.MethodGet, "/person/edit/code/"+codeUUID, http.NoBody), &http.Cookie{Name: testCookieName, Value: session.Value})
	if edit.Code != http.StatusOK {
		t.Fatalf("expected the session to open the edit page, got %d", edit.Code)
	}

	replayed := fixture.serve(httptest.NewRequest(http.MethodGet, "/person/login?token="+url.QueryEscape(session.Value), http.NoBody))
	if replayed.Code != http.StatusUnauthorized {
		t.Fatalf("expected a session token to be rejected as login link, got %d", replayed.Code)
	}
}

func TestCORSMiddlewareAllowsCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware())
	router.OPTIONS("/person/code/:uuid", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/person/code/abc", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "X-Requested-With")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("expected the origin to be reflected, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func newAuthOnlyHandler(t *testing.T, clock func() time.Time) (*httpHandler, *observer.ObservedLogs) {
	t.Helper()
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	return &httpHandler{sessions: sessions, logger: zap.New(core)}, logs
}

func TestBearerSessionAuthenticatesWithoutLogging(t *testing.T) {
	fixture := newServerFixture(t)
	codeUUID := fixture.issueCode(t)
	fixture.claim(t, codeUUID, "owner@example.com", 0)
	session := fixture.sessionCookie(t, fixture.clientOf(t, codeUUID))
	logged := fixture.logs.Len()

	request := httptest.NewRequest(http.MethodGet, "/person/edit", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+session.Value)
	recorder := fixture.serve(request)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), codeUUID) {
		t.Fatalf("expected the bearer session to list codes, got %d %s", recorder.Code, recorder.Body.String())
	}

	anonymous := fixture.serve(httptest.NewRequest(http.MethodGet, "/person/code/"+codeUUID, http.NoBody))
	if anonymous.Code != http.StatusOK {
		t.Fatalf("unexpected anonymous status: %d", anonymous.Code)
	}
	if fixture.logs.FilterMessage("token validation failed").Len() != 0 || fixture.logs.Len() != logged {
		t.Fatalf("expected no auth log entries, got %v", fixture.logs.All()[logged:])
	}
}
