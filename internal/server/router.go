package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/changerequests"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalContextKey = "memorial_principal"

var (
	errMissingMemoriesService = errors.New("memories service dependency required")
	errMissingLedger          = errors.New("ledger dependency required")
	errMissingRecorder        = errors.New("change request recorder dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingSessions        = errors.New("session validator dependency required")
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
)

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	Memories *memories.Service
	Ledger   *payments.Ledger
	Recorder *changerequests.Recorder
	Users    *users.Service
	Sessions *auth.SessionValidator
	Tokens   *auth.TokenIssuer
	Notifier LinkNotifier
	// PublicBaseURL prefixes the login links handed to the notifier.
	PublicBaseURL string
	// StaticPrefix and StaticRoot serve locally stored photos when both are set.
	StaticPrefix string
	StaticRoot   string
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Memories == nil {
		return nil, errMissingMemoriesService
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Recorder == nil {
		return nil, errMissingRecorder
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		memories:      deps.Memories,
		ledger:        deps.Ledger,
		recorder:      deps.Recorder,
		users:         deps.Users,
		sessions:      deps.Sessions,
		tokens:        deps.Tokens,
		notifier:      notifier,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(deps.PublicBaseURL), "/"),
		logger:        logger,
	}

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	if deps.StaticPrefix != "" && deps.StaticRoot != "" {
		router.Static(deps.StaticPrefix, deps.StaticRoot)
	}

	person := router.Group("/person")
	person.Use(handler.loadPrincipal)
	person.GET("/code/:uuid", handler.handleShowCode)
	person.POST("/code/:uuid", handler.handleSubmitCode)
	person.POST("/code/:uuid/extend-photos", handler.handleExtendPhotos)
	person.POST("/code/:uuid/upgrade-photo-limit", handler.handleExtendPhotos)
	person.POST("/code/:uuid/submit-change-request", handler.handleSubmitChangeRequest)
	person.GET("/check-upload-limit/:uuid", handler.handleCheckUploadLimit)
	person.GET("/get-archive-count/:uuid", handler.handleArchiveCount)
	person.POST("/get-edit-person-link/:uuid", handler.handleRequestLoginLink)
	person.GET("/login", handler.handleLogin)

	protected := person.Group("/")
	protected.Use(handler.requirePrincipal)
	protected.GET("/edit", handler.handleListCodes)
	protected.GET("/edit/code/:uuid", handler.handleShowEdit)
	protected.POST("/edit/code/:uuid", handler.handleSubmitEdit)
	protected.DELETE("/edit/code/:uuid/photos", handler.handleClearPhotos)
	protected.GET("/edit/requests", handler.handleOwnerChangeRequests)
	protected.GET("/get-preview-main-photo/:uuid", handler.handlePreviewMainPhoto)
	protected.GET("/get-preview-photo-arhive/:uuid", handler.handlePreviewArchive)
	protected.GET("/balance", handler.handleBalance)

	admin := router.Group("/admin")
	admin.Use(handler.loadPrincipal, handler.requireAdmin)
	admin.GET("/dashboard", handler.handleDashboard)

	return router, nil
}

// corsMiddleware reflects the caller origin and allows credentialed requests.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	memories      *memories.Service
	ledger        *payments.Ledger
	recorder      *changerequests.Recorder
	users         *users.Service
	sessions      *auth.SessionValidator
	tokens        *auth.TokenIssuer
	notifier      LinkNotifier
	publicBaseURL string
	logger        *zap.Logger
}

// loadPrincipal attaches the session principal when a valid token is present. Anonymous
// requests continue; handlers decide whether they need a principal.
func (h *httpHandler) loadPrincipal(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.Next()
		return
	}
	principal, err := h.users.ResolvePrincipal(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("session principal unresolved", zap.String("subject", claims.Subject), zap.Error(err))
		c.Next()
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func (h *httpHandler) requirePrincipal(c *gin.Context) {
	if !principalFrom(c).Authenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, failure("unauthorized"))
		return
	}
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	principal := principalFrom(c)
	if !principal.Authenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, failure("unauthorized"))
		return
	}
	if !principal.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, failure("forbidden"))
		return
	}
	c.Next()
}

func principalFrom(c *gin.Context) users.Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return users.Principal{}
	}
	principal, _ := value.(users.Principal)
	return principal
}

type codedError interface {
	Code() string
}

func failure(reason string) gin.H {
	return gin.H{"success": false, "error": reason}
}

// respondError maps service errors onto status codes. Business outcomes such as quota denials
// never reach this path.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, memories.ErrCodeNotFound),
		errors.Is(err, memories.ErrMemoryNotFound),
		errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusNotFound, failure("not_found"))
	case errors.Is(err, memories.ErrForbidden):
		if !principalFrom(c).Authenticated() {
			c.JSON(http.StatusUnauthorized, failure("unauthorized"))
			return
		}
		c.JSON(http.StatusForbidden, failure("forbidden"))
	case errors.Is(err, memories.ErrCodeNotClaimable):
		c.JSON(http.StatusConflict, failure("code_not_claimable"))
	case errors.Is(err, users.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, failure("invalid_email"))
	case errors.Is(err, changerequests.ErrValidation):
		c.JSON(http.StatusBadRequest, failure("name_and_email_required"))
	case errors.Is(err, memories.ErrMalformedMetadata),
		errors.Is(err, payments.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, failure("invalid_request"))
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, failure("request_cancelled"))
	default:
		body := failure("internal_error")
		var coded codedError
		if errors.As(err, &coded) {
			body["code"] = coded.Code()
		}
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, body)
	}
}
