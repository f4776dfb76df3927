package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"visitrack/api/prompt"
)

type PromptHandlers struct {
	Gate *prompt.Gate
}

func NewPromptHandlers(gate *prompt.Gate) *PromptHandlers {
	return &PromptHandlers{Gate: gate}
}

// Show tells the page whether to open the email modal and after how long.
func (h *PromptHandlers) Show(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"show":    h.Gate.ShouldShow(c.Request),
		"delayMs": h.Gate.Delay.Milliseconds(),
	})
}

// Dismiss is called when the visitor closes or skips the modal.
func (h *PromptHandlers) Dismiss(c *gin.Context) {
	h.Gate.MarkShown(c.Writer)
	c.Status(http.StatusNoContent)
}
