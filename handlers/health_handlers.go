package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck pings a dependency.
type HealthCheck func(ctx context.Context) error

type HealthHandlers struct {
	checks map[string]HealthCheck
}

func NewHealthHandlers() *HealthHandlers {
	return &HealthHandlers{checks: make(map[string]HealthCheck)}
}

// Register adds a named dependency check. Call before serving.
func (h *HealthHandlers) Register(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *HealthHandlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "dependencies": deps})
}
