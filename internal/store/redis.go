package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps notifications in a capped list and one hash per backend.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	capacity int
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string, capacity int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("RedisStore.New: ping %s: %w", addr, err)
	}

	return NewRedisStoreWithClient(client, prefix, capacity), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string, capacity int) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &RedisStore{client: client, prefix: prefix, capacity: capacity}
}

// NotificationsKey is the list holding the newest notifications first.
func (s *RedisStore) NotificationsKey() string {
	return s.prefix + ":notifications"
}

// BackendKey is the hash holding the latest status of backendURL.
func (s *RedisStore) BackendKey(backendURL string) string {
	return s.prefix + ":backend:" + backendURL
}

// BackendsKey is the set of every backend URL with a stored status.
func (s *RedisStore) BackendsKey() string {
	return s.prefix + ":backends"
}

func (s *RedisStore) SaveNotification(ctx context.Context, record NotificationRecord, requestID string) error {
	data, err := json.Marshal(StoredNotification{RequestID: requestID, NotificationRecord: record})
	if err != nil {
		return fmt.Errorf("RedisStore.SaveNotification: %w", err)
	}

	key := s.NotificationsKey()
	if err := s.client.LPush(ctx, key, string(data)).Err(); err != nil {
		return fmt.Errorf("RedisStore.SaveNotification: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, int64(s.capacity-1)).Err(); err != nil {
		return fmt.Errorf("RedisStore.SaveNotification: trim: %w", err)
	}

	return nil
}

func (s *RedisStore) SaveBackendStatus(ctx context.Context, status BackendStatus) error {
	if err := s.client.HSet(ctx, s.BackendKey(status.URL), BackendStatusFields(status)...).Err(); err != nil {
		return fmt.Errorf("RedisStore.SaveBackendStatus: %w", err)
	}
	if err := s.client.SAdd(ctx, s.BackendsKey(), status.URL).Err(); err != nil {
		return fmt.Errorf("RedisStore.SaveBackendStatus: index: %w", err)
	}

	return nil
}

// BackendStatusFields flattens status into HSET field/value pairs.
func BackendStatusFields(status BackendStatus) []any {
	responseTime := ""
	if status.ResponseTimeMs != nil {
		responseTime = strconv.FormatInt(*status.ResponseTimeMs, 10)
	}

	return []any{
		"url", status.URL,
		"healthy", strconv.FormatBool(status.Healthy),
		"version", status.Version,
		"status", strconv.Itoa(status.Status),
		"response_time_ms", responseTime,
		"reliability", strconv.FormatFloat(status.Reliability, 'f', 3, 64),
		"error", status.Error,
		"checked_at", status.CheckedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
