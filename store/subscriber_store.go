package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"visitrack/api/models"
)

type SubscriberStore struct {
	db *sql.DB
}

func NewSubscriberStore(db *sql.DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

// AddSubscriber inserts the subscriber, refreshing name and session when the
// same email signs up through the same source again.
func (s *SubscriberStore) AddSubscriber(ctx context.Context, sub models.Subscriber) error {
	query := `
		INSERT INTO subscribers (email, name, source, session_id, page_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email, source) DO UPDATE
		SET name = EXCLUDED.name, session_id = EXCLUDED.session_id, page_url = EXCLUDED.page_url;
	`
	if _, err := s.db.ExecContext(ctx, query, sub.Email, sub.Name, sub.Source, sub.SessionID, sub.PageURL); err != nil {
		return fmt.Errorf("failed to store subscriber: %w", err)
	}
	return nil
}

// ListSubscribers returns the newest subscribers first.
func (s *SubscriberStore) ListSubscribers(ctx context.Context, limit int) ([]models.Subscriber, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, name, source, session_id, page_url, created_at
		FROM subscribers
		ORDER BY created_at DESC
		LIMIT $1;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var out []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		var created time.Time
		if err := rows.Scan(&sub.Email, &sub.Name, &sub.Source, &sub.SessionID, &sub.PageURL, &created); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		sub.Timestamp = created.UTC().Format(time.RFC3339)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscribers: %w", err)
	}
	return out, nil
}
