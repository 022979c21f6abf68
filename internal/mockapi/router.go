// Package mockapi serves an in-memory rendition of the agricultural social
// platform API. Integration tests and the fieldhand mockapi command run the
// client against it.
package mockapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "fieldhand_user_id"
	// APIPrefix is the path prefix of every route.
	APIPrefix = "/api"
)

var (
	errMissingPlatform      = errors.New("platform dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates platform tokens.
type TokenManager interface {
	IssuePair(subject string) (auth.TokenPair, error)
	Issue(subject string, tokenType auth.TokenType) (string, error)
	Validate(token string, expected auth.TokenType) (string, error)
}

// Dependencies wires the handler.
type Dependencies struct {
	Platform     *Platform
	TokenManager TokenManager
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router serving every platform route under APIPrefix.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Platform == nil {
		return nil, errMissingPlatform
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		platform: deps.Platform,
		tokens:   deps.TokenManager,
		logger:   logger,
	}

	api := router.Group(APIPrefix)
	api.POST("/auth/register", handler.handleRegister)
	api.POST("/auth/login", handler.handleLogin)
	api.POST("/auth/refresh", handler.authorize(auth.TokenTypeRefresh), handler.handleRefresh)

	protected := api.Group("/")
	protected.Use(handler.authorize(auth.TokenTypeAccess))
	protected.POST("/auth/logout", handler.handleLogout)
	protected.GET("/auth/me", handler.handleMe)

	protected.GET("/users/search", handler.handleSearchUsers)
	protected.PUT("/users/profile", handler.handleUpdateProfile)
	protected.GET("/users/:id", handler.handleGetUser)

	protected.GET("/posts", handler.handleListPosts)
	protected.POST("/posts", handler.handleCreatePost)
	protected.GET("/posts/:id", handler.handleGetPost)
	protected.PUT("/posts/:id", handler.handleUpdatePost)
	protected.DELETE("/posts/:id", handler.handleDeletePost)
	protected.POST("/posts/:id/like", handler.handleToggleLike)

	protected.GET("/comments/post/:id", handler.handleListComments)
	protected.POST("/comments/post/:id", handler.handleAddComment)
	protected.DELETE("/comments/:id", handler.handleDeleteComment)

	protected.GET("/communities", handler.handleListCommunities)
	protected.POST("/communities", handler.handleCreateCommunity)
	protected.GET("/communities/my", handler.handleMyCommunities)
	protected.GET("/communities/:id", handler.handleGetCommunity)
	protected.POST("/communities/:id/join", handler.handleToggleMembership)
	protected.GET("/communities/:id/members", handler.handleListMembers)

	protected.GET("/messages/conversations", handler.handleConversations)
	protected.GET("/messages/unread-count", handler.handleUnreadCount)
	protected.GET("/messages/:id", handler.handleTranscript)
	protected.POST("/messages", handler.handleSendMessage)
	protected.DELETE("/messages/:id", handler.handleDeleteMessage)

	protected.GET("/follows/following", handler.handleFollowing)
	protected.POST("/follows/:id/follow", handler.handleToggleFollow)
	protected.GET("/follows/:id/check", handler.handleCheckFollow)
	protected.GET("/follows/:id/followers", handler.handleFollowers)

	return router, nil
}

type httpHandler struct {
	platform *Platform
	tokens   TokenManager
	logger   *zap.Logger
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	Message      string     `json:"message"`
	User         model.User `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request Registration
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	user, err := h.platform.Register(request)
	if err != nil {
		h.writeError(c, "register", err)
		return
	}
	h.writeSession(c, http.StatusCreated, "User registered successfully", user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password required"})
		return
	}
	user, err := h.platform.Authenticate(request.Email, request.Password)
	if err != nil {
		h.writeError(c, "login", err)
		return
	}
	h.writeSession(c, http.StatusOK, "Login successful", user)
}

func (h *httpHandler) writeSession(c *gin.Context, status int, message string, user model.User) {
	pair, err := h.tokens.IssuePair(user.ID.String())
	if err != nil {
		h.logger.Error("failed to issue token pair", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, authResponsePayload{
		Message:      message,
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	userID := viewerID(c)
	if _, err := h.platform.User(userID); err != nil {
		h.writeError(c, "refresh", err)
		return
	}
	token, err := h.tokens.Issue(userID.String(), auth.TokenTypeAccess)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, err := h.platform.User(viewerID(c))
	if err != nil {
		h.writeError(c, "me", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// authorize admits requests bearing a valid token of the expected type and
// records its subject on the context.
func (h *httpHandler) authorize(expected auth.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		subject, err := h.tokens.Validate(token, expected)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				h.logger.Info("token validation failed", zap.String("token_type", string(expected)), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
				return
			}
			h.logger.Warn("token validation failed", zap.String("token_type", string(expected)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(userIDContextKey, subject)
		c.Next()
	}
}

func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	if failure, ok := asAPIError(err); ok {
		c.JSON(failure.status, gin.H{"error": failure.message})
		return
	}
	h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func viewerID(c *gin.Context) model.ID {
	return model.ID(c.GetString(userIDContextKey))
}

func pathID(c *gin.Context) model.ID {
	return model.ID(c.Param("id"))
}

func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil {
		perPage = defaultPerPage
	}
	return page, perPage
}

func listResponse(key string, items any, meta model.Page) gin.H {
	return gin.H{
		key:        items,
		"total":    meta.Total,
		"page":     meta.Page,
		"per_page": meta.PerPage,
		"pages":    meta.Pages,
	}
}
