package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleRequestLoginLink mints a login link for the client owning the code and hands it to the
// notifier. The link itself never appears in the response.
func (h *httpHandler) handleRequestLoginLink(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := h.memories.FindCode(ctx, c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if code.ClientID == nil {
		c.JSON(http.StatusNotFound, failure("not_found"))
		return
	}
	client, err := h.users.FindByID(ctx, *code.ClientID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, expiresAt, err := h.tokens.IssueLoginLink(auth.Identity{
		UserID: client.UUID,
		Email:  client.Email,
		Roles:  client.Roles(),
	})
	if err != nil {
		h.logger.Error("failed to issue login link", zap.String("code", code.UUID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("token_issue_failed"))
		return
	}

	query := url.Values{}
	query.Set("token", token)
	query.Set("next", "/person/edit/code/"+code.UUID)
	link := LoginLink{
		Email:     client.Email,
		CodeUUID:  code.UUID,
		URL:       h.publicBaseURL + "/person/login?" + query.Encode(),
		ExpiresAt: expiresAt,
	}
	if err := h.notifier.DeliverLoginLink(ctx, link); err != nil {
		h.logger.Error("failed to deliver login link", zap.String("code", code.UUID), zap.Error(err))
		c.JSON(http.StatusBadGateway, failure("link_delivery_failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleLogin exchanges a login-link token for the session cookie.
func (h *httpHandler) handleLogin(c *gin.Context) {
	claims, err := h.sessions.ValidateLoginLink(c.Query("token"))
	if err != nil {
		h.logger.Warn("login link rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, failure("unauthorized"))
		return
	}
	principal, err := h.users.ResolvePrincipal(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("login link principal unresolved", zap.String("subject", claims.Subject), zap.Error(err))
		c.JSON(http.StatusUnauthorized, failure("unauthorized"))
		return
	}
	token, expiresAt, err := h.tokens.IssueSession(auth.Identity{
		UserID: principal.UUID,
		Email:  principal.Email,
		Roles:  users.User{Role: principal.Role}.Roles(),
	})
	if err != nil {
		h.logger.Error("failed to issue session", zap.Uint("user_id", principal.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, failure("token_issue_failed"))
		return
	}

	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, maxAge, "/", "", strings.HasPrefix(h.publicBaseURL, "https://"), true)

	response := gin.H{"success": true, "expiresAt": expiresAt.UTC()}
	if next := c.Query("next"); strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") {
		response["next"] = next
	}
	c.JSON(http.StatusOK, response)
}
