package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/studyshelf/coursenotes/backend/internal/accounts"
	"github.com/studyshelf/coursenotes/backend/internal/auth"
	"github.com/studyshelf/coursenotes/backend/internal/courses"
	"github.com/studyshelf/coursenotes/backend/internal/notes"
	"github.com/studyshelf/coursenotes/backend/internal/session"
)

const sessionContextKey = "coursenotes_session"

var (
	errMissingAccountService = errors.New("account service dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingCourseRegistry = errors.New("course registry dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// AccountService is the identity surface consumed by the HTTP layer.
type AccountService interface {
	SignUp(ctx context.Context, email, password string) (accounts.Identity, error)
	SignIn(ctx context.Context, email, password string) (accounts.Identity, error)
	SignOut(ctx context.Context, userID string) error
	GetByID(ctx context.Context, userID string) (accounts.Identity, error)
}

// SessionTokenManager issues and validates bearer tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, s auth.Session) (string, int64, error)
	ValidateToken(token string) (auth.Session, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Accounts AccountService
	Tokens   SessionTokenManager
	Notes    *notes.Service
	Courses  *courses.Registry
	Sessions *session.Resolver
	Files    http.FileSystem
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}
	if deps.Courses == nil {
		return nil, errMissingCourseRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		accounts:     deps.Accounts,
		tokens:       deps.Tokens,
		notesService: deps.Notes,
		courses:      deps.Courses,
		sessions:     deps.Sessions,
		logger:       logger,
	}

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)
	router.GET("/courses", handler.handleListCourses)

	if deps.Files != nil {
		router.StaticFS("/files", deps.Files)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/signout", handler.handleSignOut)
	protected.GET("/auth/session", handler.handleSession)
	protected.GET("/auth/events", handler.handleAuthEvents)
	protected.GET("/courses/:slug/notes", handler.handleListNotes)
	protected.POST("/courses/:slug/notes", handler.handleCreateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)

	return router, nil
}

type httpHandler struct {
	accounts     AccountService
	tokens       SessionTokenManager
	notesService *notes.Service
	courses      *courses.Registry
	sessions     *session.Resolver
	logger       *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
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
	sess, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, sess)
	c.Next()
}

func currentSession(c *gin.Context) (auth.Session, bool) {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.Session{}, false
	}
	sess, ok := value.(auth.Session)
	return sess, ok
}
