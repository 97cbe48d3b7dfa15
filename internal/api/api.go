package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/chatrelay/internal/auth"
	"github.com/wuwenbin0122/chatrelay/internal/relay"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

type Options struct {
	AuthDevBypass bool
	// CheckOrigin overrides the WebSocket origin policy. Nil accepts all
	// origins, which matches the bearer-token model of the HTTP routes.
	CheckOrigin func(r *http.Request) bool
	Logger      *zap.Logger
}

type Handler struct {
	authService *auth.Service
	relay       *relay.Relay
	repo        transcript.Repository
	logger      *zap.Logger
	devBypass   bool
	upgrader    websocket.Upgrader
}

func NewHandler(authService *auth.Service, rl *relay.Relay, repo transcript.Repository, opts Options) *Handler {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Handler{
		authService: authService,
		relay:       rl,
		repo:        repo,
		logger:      utils.OrNop(opts.Logger),
		devBypass:   opts.AuthDevBypass,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)

	protected := apiGroup.Group("", auth.Middleware(h.authService, auth.MiddlewareOptions{DevBypass: h.devBypass}))
	protected.POST("/chat/stream", h.handleChatStream)
	protected.GET("/threads", h.handleListThreads)
	protected.POST("/threads", h.handleCreateThread)
	protected.GET("/threads/:id/messages", h.handleThreadMessages)
	protected.GET("/profile", h.handleGetProfile)
	protected.PUT("/profile", h.handleUpdateProfile)

	socket := apiGroup.Group("", auth.Middleware(h.authService, auth.MiddlewareOptions{DevBypass: h.devBypass, AllowQueryToken: true}))
	socket.GET("/chat/ws", h.handleChatSocket)
}

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	result, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordTooWeak):
			writeError(c, http.StatusBadRequest, err.Error(), err)
		case errors.Is(err, auth.ErrUserExists), errors.Is(err, auth.ErrEmailExists):
			writeError(c, http.StatusConflict, err.Error(), err)
		default:
			writeError(c, http.StatusInternalServerError, "failed to register user", err)
		}
		return
	}

	c.JSON(http.StatusCreated, newAuthResponse(result))
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if req.Identifier == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "identifier and password are required", auth.ErrInvalidCredentials)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), auth.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(c, http.StatusUnauthorized, err.Error(), err)
			return
		}
		writeError(c, http.StatusInternalServerError, "failed to login", err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

func newAuthResponse(result *auth.AuthResult) gin.H {
	return gin.H{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Format(time.RFC3339),
		"user": gin.H{
			"id":          result.User.ID,
			"username":    result.User.Username,
			"email":       result.User.Email,
			"displayName": result.User.DisplayName,
			"createdAt":   result.User.CreatedAt.Format(time.RFC3339),
			"updatedAt":   result.User.UpdatedAt.Format(time.RFC3339),
		},
	}
}

func currentIdentity(c *gin.Context) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized", auth.ErrMissingToken)
	}
	return identity, ok
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
