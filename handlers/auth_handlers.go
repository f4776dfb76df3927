package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"visitrack/api/logger"
	"visitrack/api/middleware"
	"visitrack/api/models"
	"visitrack/api/utils"
)

type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type AuthHandlers struct {
	Users        UserLookup
	Tokens       *utils.TokenIssuer
	TokenTTL     time.Duration
	SecureCookie bool
	log          *slog.Logger
}

func NewAuthHandlers(users UserLookup, tokens *utils.TokenIssuer, ttl time.Duration, secure bool, log *slog.Logger) *AuthHandlers {
	return &AuthHandlers{Users: users, Tokens: tokens, TokenTTL: ttl, SecureCookie: secure, log: log}
}

// Login checks admin credentials and sets the jwt_token cookie.
func (h *AuthHandlers) Login(c *gin.Context) {
	if h.Users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "User storage is not configured"})
		return
	}

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := h.Users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.log.Info("login failed", slog.String("email", req.Email), logger.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password)); err != nil {
		h.log.Info("login failed: password mismatch", slog.String("email", req.Email))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.Tokens.GenerateJWT(user, h.TokenTTL)
	if err != nil {
		h.log.Error("failed to generate admin token", slog.Int("user_id", user.ID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AdminCookieName, tokenString, int(h.TokenTTL/time.Second), "/", "", h.SecureCookie, true)

	h.log.Info("admin logged in", slog.Int("user_id", user.ID))
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user_email": user.Email,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(middleware.AdminCookieName, "", -1, "/", "", h.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
