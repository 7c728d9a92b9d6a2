package store

import (
	"context"
	"fmt"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"

	DefaultCapacity  = 1000
	DefaultKeyPrefix = "failover"
)

// NotificationRecord is the persisted form of a notification outcome.
type NotificationRecord struct {
	Type         string    `json:"type"`
	Success      bool      `json:"success"`
	Attempts     int       `json:"attempts"`
	UsedFallback bool      `json:"used_fallback"`
	Error        string    `json:"error,omitempty"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// StoredNotification is a NotificationRecord together with the request it belongs to.
type StoredNotification struct {
	RequestID string `json:"request_id"`
	NotificationRecord
}

// BackendStatus is the latest known health of a backend.
type BackendStatus struct {
	URL            string    `json:"url"`
	Healthy        bool      `json:"healthy"`
	Version        string    `json:"version"`
	Status         int       `json:"status"`
	ResponseTimeMs *int64    `json:"response_time_ms"`
	Reliability    float64   `json:"reliability"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

type Store interface {
	SaveNotification(ctx context.Context, record NotificationRecord, requestID string) error
	SaveBackendStatus(ctx context.Context, status BackendStatus) error
	Close() error
}

type Config struct {
	Driver         string
	PostgresDSN    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	Capacity       int
}

// Open connects the driver named in cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(cfg.Capacity), nil
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case DriverRedis:
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix, cfg.Capacity)
	default:
		return nil, fmt.Errorf("store.Open: unknown driver %q", cfg.Driver)
	}
}
