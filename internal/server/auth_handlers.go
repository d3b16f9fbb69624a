package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/studyshelf/coursenotes/backend/internal/accounts"
	"github.com/studyshelf/coursenotes/backend/internal/auth"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type identityPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionResponsePayload struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   int64           `json:"expires_in"`
	TokenType   string          `json:"token_type"`
	User        identityPayload `json:"user"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, err := h.accounts.SignUp(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		status, code := statusForAuthError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("sign-up failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": code})
		return
	}

	h.respondWithSession(c, http.StatusCreated, identity)
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, err := h.accounts.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		status, code := statusForAuthError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("sign-in failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": code})
		return
	}

	h.respondWithSession(c, http.StatusOK, identity)
}

func (h *httpHandler) respondWithSession(c *gin.Context, status int, identity accounts.Identity) {
	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), auth.Session{
		UserID: identity.ID,
		Email:  identity.Email,
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(status, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        identityPayload{ID: identity.ID, Email: identity.Email},
	})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.accounts.SignOut(c.Request.Context(), sess.UserID); err != nil {
		h.logger.Error("sign-out failed", zap.Error(err), zap.String("user_id", sess.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signout_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSession(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, err := h.accounts.GetByID(c.Request.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrUnknownAccount) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("session lookup failed", zap.Error(err), zap.String("user_id", sess.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identityPayload{ID: identity.ID, Email: identity.Email}})
}

type sessionEventPayload struct {
	Authenticated bool             `json:"authenticated"`
	Resolving     bool             `json:"resolving"`
	User          *identityPayload `json:"user,omitempty"`
}

// handleAuthEvents streams session-state snapshots as server-sent events.
func (h *httpHandler) handleAuthEvents(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session_events_unavailable"})
		return
	}

	updates, cleanup := h.sessions.Subscribe(c.Request.Context())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return false
			}
			payload := sessionEventPayload{
				Authenticated: snapshot.Identity != nil,
				Resolving:     snapshot.Resolving,
			}
			if snapshot.Identity != nil {
				payload.User = &identityPayload{ID: snapshot.Identity.ID, Email: snapshot.Identity.Email}
			}
			c.SSEvent("session", payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func statusForAuthError(err error) (int, string) {
	switch {
	case errors.Is(err, accounts.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid_email"
	case errors.Is(err, accounts.ErrWeakPassword):
		return http.StatusBadRequest, "weak_password"
	case errors.Is(err, accounts.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, accounts.ErrUnknownAccount):
		return http.StatusNotFound, "unknown_account"
	default:
		return http.StatusInternalServerError, "auth_failed"
	}
}
