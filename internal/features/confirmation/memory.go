package confirmation

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	parties   map[int64]struct{}
	expiresAt time.Time
	fired     bool
}

// MemoryStore хранит подтверждения в памяти процесса.
// Используется, когда REDIS_ADDR не задан, и в тестах.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[int64]*entry
	window  time.Duration
	now     func() time.Time
}

// NewMemoryStore создаёт хранилище с окном window.
func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{
		entries: make(map[int64]*entry),
		window:  window,
		now:     time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Confirm(_ context.Context, transactionID, partyID int64, required int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[transactionID]
	if ok && !now.Before(e.expiresAt) {
		delete(s.entries, transactionID)
		ok = false
	}
	if !ok {
		e = &entry{parties: make(map[int64]struct{}), expiresAt: now.Add(s.window)}
		s.entries[transactionID] = e
	}
	if e.fired {
		return Result{Confirmed: len(e.parties)}, nil
	}

	e.parties[partyID] = struct{}{}
	res := Result{Confirmed: len(e.parties)}
	if len(e.parties) >= required {
		e.fired = true
		e.expiresAt = now.Add(firedTTL)
		res.QuorumReached = true
	}
	return res, nil
}

func (s *MemoryStore) Reset(_ context.Context, transactionID int64) error {
	s.mu.Lock()
	delete(s.entries, transactionID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Release(_ context.Context, transactionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[transactionID]; ok && e.fired {
		e.fired = false
		e.expiresAt = s.now().Add(s.window)
	}
	return nil
}

// Purge удаляет истёкшие наборы. Вызывается планировщиком.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
