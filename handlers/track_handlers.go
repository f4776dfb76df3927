package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"visitrack/api/logger"
	"visitrack/api/models"
	"visitrack/api/store"
)

// StatsReader answers the aggregate queries behind the stats API.
type StatsReader interface {
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventName string) ([]store.EventTypeCountByTime, error)
	GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]store.EventTypeCountByTime, error)
	GetBreakdown(ctx context.Context, dimension string, start, end time.Time, limit uint64) ([]models.BreakdownResult, error)
	GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
}

type SubscriberLister interface {
	ListSubscribers(ctx context.Context, limit int) ([]models.Subscriber, error)
}

type AnalyticsHandlers struct {
	Stats       StatsReader
	Subscribers SubscriberLister
	log         *slog.Logger
	now         func() time.Time
}

func NewAnalyticsHandlers(stats StatsReader, subscribers SubscriberLister, log *slog.Logger) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		Stats:       stats,
		Subscribers: subscribers,
		log:         log,
		now:         time.Now,
	}
}

// timeRange reads start/end (RFC3339), defaulting to the last seven days.
// It writes the 400 response itself and returns ok=false on bad input.
func (h *AnalyticsHandlers) timeRange(c *gin.Context) (start, end time.Time, ok bool) {
	var err error
	if startParam := c.Query("start"); startParam != "" {
		start, err = time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		start = h.now().UTC().Add(-7 * 24 * time.Hour)
	}

	if endParam := c.Query("end"); endParam != "" {
		end, err = time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		end = h.now().UTC()
	}

	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'end' must not be before 'start'"})
		return start, end, false
	}
	return start, end, true
}

func limitParam(c *gin.Context) (uint64, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 10, true
	}
	limit, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || limit == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
		return 0, false
	}
	return limit, true
}

func (h *AnalyticsHandlers) available(c *gin.Context) bool {
	if h.Stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analytics storage is not configured"})
		return false
	}
	return true
}

func (h *AnalyticsHandlers) queryError(c *gin.Context, what string, err error) {
	if errors.Is(err, store.ErrInvalidInterval) || errors.Is(err, store.ErrInvalidDimension) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.log.Error("stats query failed", slog.String("query", what), logger.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve " + what + " statistics"})
}

func (h *AnalyticsHandlers) GetEventCountsOverTime(c *gin.Context) {
	if !h.available(c) {
		return
	}
	interval := c.DefaultQuery("interval", "Day")
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetEventCountsOverTime(ctx, interval, start, end, c.Query("eventName"))
	if err != nil {
		h.queryError(c, "event count", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetUniqueVisitorsOverTime(c *gin.Context) {
	if !h.available(c) {
		return
	}
	interval := c.DefaultQuery("interval", "Day")
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetUniqueVisitorsOverTime(ctx, interval, start, end)
	if err != nil {
		h.queryError(c, "unique visitor", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// Breakdown serves a per-dimension visitor count. An empty dimension is read
// from the "by" query parameter.
func (h *AnalyticsHandlers) Breakdown(dimension string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.available(c) {
			return
		}
		dim := dimension
		if dim == "" {
			dim = c.Query("by")
		}
		start, end, ok := h.timeRange(c)
		if !ok {
			return
		}
		limit, ok := limitParam(c)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		results, err := h.Stats.GetBreakdown(ctx, dim, start, end, limit)
		if err != nil {
			h.queryError(c, dim+" breakdown", err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

func (h *AnalyticsHandlers) GetTopPages(c *gin.Context) {
	if !h.available(c) {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetTopPages(ctx, start, end, limit)
	if err != nil {
		h.queryError(c, "top pages", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) ListSubscribers(c *gin.Context) {
	if h.Subscribers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Subscriber storage is not configured"})
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	subs, err := h.Subscribers.ListSubscribers(ctx, int(limit))
	if err != nil {
		h.queryError(c, "subscriber", err)
		return
	}
	c.JSON(http.StatusOK, subs)
}
