package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"visitrack/api/models"
)

const snapshotKeyPrefix = "visitrack:visitor:"

// RedisSnapshotStore keeps one JSON snapshot per session, expiring with the
// session.
type RedisSnapshotStore struct {
	db  redis.UniversalClient
	ttl time.Duration
}

func NewRedisSnapshotStore(db redis.UniversalClient, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{db: db, ttl: ttl}
}

func (s *RedisSnapshotStore) SaveSnapshot(ctx context.Context, rec models.VisitorRecord) error {
	if rec.SessionID == "" {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode visitor snapshot: %w", err)
	}
	if err := s.db.Set(ctx, snapshotKeyPrefix+rec.SessionID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store visitor snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns nil for unknown or expired sessions.
func (s *RedisSnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (*models.VisitorRecord, error) {
	raw, err := s.db.Get(ctx, snapshotKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load visitor snapshot: %w", err)
	}
	var rec models.VisitorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode visitor snapshot: %w", err)
	}
	return &rec, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisSnapshotStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx).Err()
}

type memorySnapshot struct {
	rec       models.VisitorRecord
	expiresAt time.Time
}

// MemorySnapshotStore is used when no Redis is configured. Entries expire
// lazily on read and on Cleanup.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	items map[string]memorySnapshot
	ttl   time.Duration
	now   func() time.Time
}

func NewMemorySnapshotStore(ttl time.Duration) *MemorySnapshotStore {
	return &MemorySnapshotStore{
		items: make(map[string]memorySnapshot),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemorySnapshotStore) SaveSnapshot(_ context.Context, rec models.VisitorRecord) error {
	if rec.SessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[rec.SessionID] = memorySnapshot{rec: rec.Clone(), expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemorySnapshotStore) LoadSnapshot(_ context.Context, sessionID string) (*models.VisitorRecord, error) {
	m.mu.RLock()
	item, ok := m.items[sessionID]
	m.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if m.ttl > 0 && !m.now().Before(item.expiresAt) {
		m.mu.Lock()
		delete(m.items, sessionID)
		m.mu.Unlock()
		return nil, nil
	}
	rec := item.rec.Clone()
	return &rec, nil
}

// Cleanup removes expired entries.
func (m *MemorySnapshotStore) Cleanup() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, id)
			removed++
		}
	}
	return removed
}
