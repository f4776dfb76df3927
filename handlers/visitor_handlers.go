package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"visitrack/api/logger"
	"visitrack/api/middleware"
	"visitrack/api/prompt"
	"visitrack/api/snapshot"
	"visitrack/api/utils"
	"visitrack/api/visitor"
)

type VisitorHandlers struct {
	Tracker      *visitor.Tracker
	Tokens       *utils.TokenIssuer
	Gate         *prompt.Gate
	TokenTTL     time.Duration
	SecureCookie bool
	log          *slog.Logger
}

func NewVisitorHandlers(tracker *visitor.Tracker, tokens *utils.TokenIssuer, gate *prompt.Gate, tokenTTL time.Duration, secure bool, log *slog.Logger) *VisitorHandlers {
	return &VisitorHandlers{
		Tracker:      tracker,
		Tokens:       tokens,
		Gate:         gate,
		TokenTTL:     tokenTTL,
		SecureCookie: secure,
		log:          log,
	}
}

type refreshRequest struct {
	Environment *snapshot.ClientEnvironment `json:"environment"`
}

type subscribeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Start handles the page-ready beacon.
func (h *VisitorHandlers) Start(c *gin.Context) {
	var b visitor.Beacon
	if err := c.ShouldBindJSON(&b); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	b.UserAgent, b.Env = snapshot.FromRequest(c.Request, b.Env)
	b.ClientIP = c.ClientIP()
	if b.Referrer == "" {
		b.Referrer = c.Request.Referer()
	}

	rec, err := h.Tracker.Start(c.Request.Context(), b)
	if err != nil {
		h.log.Error("failed to start visitor session", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record visit"})
		return
	}

	token, err := h.Tokens.GenerateVisitorToken(rec.SessionID, h.TokenTTL)
	if err != nil {
		h.log.Error("failed to issue visitor token", slog.String("session_id", rec.SessionID), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue visitor token"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.VisitorCookieName, token, int(h.TokenTTL/time.Second), "/api/visitors", "", h.SecureCookie, true)

	c.JSON(http.StatusCreated, gin.H{
		"visitor": rec,
		"token":   token,
	})
}

func (h *VisitorHandlers) Get(c *gin.Context) {
	rec, err := h.Tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Refresh re-snapshots the device and re-runs geolocation. The body may
// carry a new environment; an empty body keeps the old one.
func (h *VisitorHandlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec, err := h.Tracker.Refresh(c.Request.Context(), c.Param("id"), req.Environment)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

// Contact records the contact form. Submissions without an email are
// accepted and ignored.
func (h *VisitorHandlers) Contact(c *gin.Context) {
	var form visitor.ContactForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec, err := h.Tracker.SubmitContactForm(c.Request.Context(), c.Param("id"), form)
	if errors.Is(err, visitor.ErrMissingEmail) {
		c.JSON(http.StatusOK, gin.H{"submitted": false})
		return
	}
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": true, "visitor": rec})
}

// Subscribe records an email typed into the prompt modal and suppresses the
// modal for the cookie lifetime.
func (h *VisitorHandlers) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec, err := h.Tracker.CaptureEmail(c.Request.Context(), c.Param("id"), req.Email, req.Name)
	if errors.Is(err, visitor.ErrInvalidEmail) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please enter a valid email address"})
		return
	}
	if err != nil {
		h.sessionError(c, err)
		return
	}

	if h.Gate != nil {
		h.Gate.MarkShown(c.Writer)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Thank you!", "visitor": rec})
}

func (h *VisitorHandlers) sessionError(c *gin.Context, err error) {
	if errors.Is(err, visitor.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Visitor session not found"})
		return
	}
	h.log.Error("visitor session lookup failed", slog.String("session_id", c.Param("id")), logger.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load visitor session"})
}
