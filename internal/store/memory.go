package store

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps the most recent notifications in a bounded ring and the
// latest status per backend.
type MemoryStore struct {
	mutex         sync.RWMutex
	capacity      int
	notifications []StoredNotification
	next          int
	full          bool
	statuses      map[string]BackendStatus
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &MemoryStore{
		capacity:      capacity,
		notifications: make([]StoredNotification, capacity),
		statuses:      make(map[string]BackendStatus),
	}
}

func (s *MemoryStore) SaveNotification(_ context.Context, record NotificationRecord, requestID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.notifications[s.next] = StoredNotification{RequestID: requestID, NotificationRecord: record}
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}

	return nil
}

func (s *MemoryStore) SaveBackendStatus(_ context.Context, status BackendStatus) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.statuses[status.URL] = status
	return nil
}

// Notifications returns the stored notifications, oldest first.
func (s *MemoryStore) Notifications() []StoredNotification {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.full {
		return slices.Clone(s.notifications[:s.next])
	}

	out := make([]StoredNotification, 0, s.capacity)
	out = append(out, s.notifications[s.next:]...)
	return append(out, s.notifications[:s.next]...)
}

// BackendStatuses returns the latest status of every backend, ordered by URL.
func (s *MemoryStore) BackendStatuses() []BackendStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]BackendStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		out = append(out, status)
	}
	slices.SortFunc(out, func(a, b BackendStatus) int { return strings.Compare(a.URL, b.URL) })

	return out
}

func (s *MemoryStore) Close() error {
	return nil
}
