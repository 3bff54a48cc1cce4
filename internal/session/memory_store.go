package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local Backend. It is only correct for a single
// service instance and is meant for local development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	rotations map[string]memoryEntry
	tickets   map[string]memoryEntry
	attempts  map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		rotations: map[string]memoryEntry{},
		tickets:   map[string]memoryEntry{},
		attempts:  map[string]memoryEntry{},
	}
}

// SetClock replaces the time source used for expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) RecordRotation(_ context.Context, subjectID, rotationID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotations[subjectID] = memoryEntry{value: rotationID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) CurrentRotation(_ context.Context, subjectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveLocked(s.rotations, subjectID)
	if !ok {
		return "", ErrNoSession
	}
	return entry.value, nil
}

func (s *MemoryStore) Rotate(_ context.Context, subjectID, expected, next string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveLocked(s.rotations, subjectID)
	if !ok {
		return ErrNoSession
	}
	if entry.value != expected {
		return ErrRotationMismatch
	}

	s.rotations[subjectID] = memoryEntry{value: next, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, subjectID string) error {
	s.mu.Lock()
	delete(s.rotations, subjectID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PutResetTicket(_ context.Context, subjectID, ticketID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickets[subjectID] = memoryEntry{value: ticketID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) ConsumeResetTicket(_ context.Context, subjectID, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveLocked(s.tickets, subjectID)
	if !ok || entry.value != ticketID {
		return ErrTicketNotFound
	}
	delete(s.tickets, subjectID)
	return nil
}

func (s *MemoryStore) IncrResetAttempts(_ context.Context, subjectID string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveLocked(s.attempts, subjectID)
	if !ok {
		entry = memoryEntry{expiresAt: s.now().Add(window)}
	}
	entry.count++
	s.attempts[subjectID] = entry
	return entry.count, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) liveLocked(m map[string]memoryEntry, key string) (memoryEntry, bool) {
	entry, ok := m[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(m, key)
		return memoryEntry{}, false
	}
	return entry, true
}
