package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"visitrack/api/database"
	"visitrack/api/logger"
	"visitrack/api/models"
	"visitrack/api/utils"
)

var (
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrInvalidDimension = errors.New("invalid breakdown dimension")
)

const analyticsSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	event_id String,
	event_name LowCardinality(String),
	session_id String,
	timestamp DateTime64(3, 'UTC'),
	page_url String,
	referrer String,
	user_agent String,
	ip_address String,
	device_type LowCardinality(String),
	os LowCardinality(String),
	browser LowCardinality(String),
	country LowCardinality(String),
	event_data String
) ENGINE = MergeTree
ORDER BY (event_name, timestamp)
`

const propertiesSchema = `
CREATE TABLE IF NOT EXISTS visitor_properties (
	session_id String,
	timestamp DateTime64(3, 'UTC'),
	properties Map(String, String)
) ENGINE = ReplacingMergeTree(timestamp)
ORDER BY session_id
`

// breakdownColumns maps the dimensions the stats API accepts to columns.
var breakdownColumns = map[string]string{
	"device_type": "device_type",
	"os":          "os",
	"browser":     "browser",
	"country":     "country",
}

type AnalyticsStore struct {
	DB  *database.ClickHouseClient
	log *slog.Logger
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewAnalyticsStore(chClient *database.ClickHouseClient, log *slog.Logger) *AnalyticsStore {
	return &AnalyticsStore{
		DB:  chClient,
		log: log,
	}
}

// EnsureSchema creates the event and property tables when missing.
func (s *AnalyticsStore) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{analyticsSchema, propertiesSchema} {
		if err := s.DB.Conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create analytics schema: %w", err)
		}
	}
	return nil
}

// TrackEvent stores a single event.
func (s *AnalyticsStore) TrackEvent(ctx context.Context, event models.AnalyticsEvent) error {
	return s.InsertAnalyticsEvents(ctx, []models.AnalyticsEvent{event})
}

func (s *AnalyticsStore) InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_name, session_id, timestamp, page_url, referrer, user_agent,
			ip_address, device_type, os, browser, country, event_data
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		data, err := json.Marshal(event.Params)
		if err != nil {
			s.log.Warn("skipping event with unencodable params", slog.String("event_id", event.EventID), logger.Error(err))
			continue
		}
		err = batch.Append(
			event.EventID,
			event.EventName,
			event.SessionID,
			event.Timestamp,
			event.PageURL,
			event.Referrer,
			event.UserAgent,
			event.IPAddress,
			event.DeviceType,
			event.OS,
			event.Browser,
			event.Country,
			string(data),
		)
		if err != nil {
			s.log.Warn("error appending event to batch", slog.String("event_id", event.EventID), logger.Error(err))
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug("inserted analytics events", slog.Int("count", len(events)))
	return nil
}

// SetUserProperties keeps the latest property set per session.
func (s *AnalyticsStore) SetUserProperties(ctx context.Context, sessionID string, props map[string]string) error {
	err := s.DB.Conn.Exec(ctx,
		`INSERT INTO visitor_properties (session_id, timestamp, properties) VALUES (?, ?, ?)`,
		sessionID, time.Now().UTC(), props,
	)
	if err != nil {
		return fmt.Errorf("failed to store visitor properties: %w", err)
	}
	return nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventNameFilter string) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	args := []any{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByName := eventNameFilter != ""

	if isFilteringByName {
		selectCols += ", event_name"
		groupByCols += ", event_name"
		whereClause += " AND event_name = ?"
		args = append(args, eventNameFilter)
		orderByCols += ", event_name ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket time.Time
			count      uint64
			eventName  string
			current    EventTypeCountByTime
		)

		if isFilteringByName {
			if err := rows.Scan(&timeBucket, &count, &eventName); err != nil {
				s.log.Warn("error scanning event counts row", logger.Error(err))
				continue
			}
			current.EventType = &eventName
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				s.log.Warn("error scanning event counts row", logger.Error(err))
				continue
			}
		}

		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}

// GetUniqueVisitorsOverTime counts distinct sessions per bucket.
func (s *AnalyticsStore) GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(session_id) AS unique_visitors
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var visitors uint64
		if err := rows.Scan(&timeBucket, &visitors); err != nil {
			s.log.Warn("error scanning unique visitors row", logger.Error(err))
			continue
		}
		results = append(results, EventTypeCountByTime{Time: timeBucket, Count: visitors})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}

	return results, nil
}

// GetBreakdown counts distinct sessions per value of dimension, looking only
// at visitor_info events.
func (s *AnalyticsStore) GetBreakdown(ctx context.Context, dimension string, start, end time.Time, limit uint64) ([]models.BreakdownResult, error) {
	column, ok := breakdownColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDimension, dimension)
	}
	if limit == 0 {
		limit = 10
	}

	query := fmt.Sprintf(`
		SELECT %s AS label, uniq(session_id) AS visitors
		FROM analytics_events
		WHERE event_name = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY label
		ORDER BY visitors DESC
		LIMIT ?
	`, column)

	rows, err := s.DB.Conn.Query(ctx, query, models.EventVisitorInfo, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s breakdown: %w", dimension, err)
	}
	defer rows.Close()

	var results []models.BreakdownResult
	for rows.Next() {
		var r models.BreakdownResult
		if err := rows.Scan(&r.Label, &r.Count); err != nil {
			s.log.Warn("error scanning breakdown row", slog.String("dimension", dimension), logger.Error(err))
			continue
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for %s breakdown: %w", dimension, err)
	}

	return results, nil
}

func (s *AnalyticsStore) GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT page_url, uniq(session_id) as view_count
		FROM analytics_events
		WHERE event_name = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_url
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, models.EventVisitorInfo, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var pageURL string
		var count uint64
		if err := rows.Scan(&pageURL, &count); err != nil {
			s.log.Warn("error scanning top pages row", logger.Error(err))
			continue
		}
		results = append(results, models.TopPathResult{PageURL: pageURL, Count: count})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top pages: %w", err)
	}

	return results, nil
}
