// Package moderationtest содержит хранилище заявок в памяти и настраиваемый Authorizer.
package moderationtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"serotonyl.ru/escrow-bot/internal/features/moderation"
)

// Store хранит заявки и журнал в памяти.
// RecordFailures — сколько ближайших RecordAction вернут ошибку, отрицательное — все.
type Store struct {
	RecordFailures int

	mu      sync.Mutex
	tickets []*moderation.Ticket
	actions []moderation.AdminAction
	nextID  int64
}

// ErrJournal возвращается RecordAction, пока не исчерпан RecordFailures.
var ErrJournal = errors.New("admin_actions: connection refused")

func (s *Store) CreateTicket(_ context.Context, t *moderation.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.CreatedAt = time.Now()
	cp := *t
	s.tickets = append(s.tickets, &cp)
	return nil
}

func (s *Store) ResolveTickets(_ context.Context, transactionID int64, kind moderation.Kind, reviewerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for _, t := range s.tickets {
		if t.TransactionID == transactionID && t.Kind == kind && t.Status == moderation.TicketOpen {
			t.Status = moderation.TicketResolved
			t.ResolvedBy = reviewerID
			t.ResolvedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *Store) ListOpen(_ context.Context, limit int) ([]*moderation.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*moderation.Ticket
	for _, t := range s.tickets {
		if t.Status == moderation.TicketOpen && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) RecordAction(_ context.Context, a *moderation.AdminAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordFailures != 0 {
		if s.RecordFailures > 0 {
			s.RecordFailures--
		}
		return ErrJournal
	}
	s.nextID++
	a.ID = s.nextID
	a.CreatedAt = time.Now()
	s.actions = append(s.actions, *a)
	return nil
}

// Tickets возвращает заявки вида kind (все, если kind пуст).
func (s *Store) Tickets(kind moderation.Kind) []moderation.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []moderation.Ticket
	for _, t := range s.tickets {
		if kind == "" || t.Kind == kind {
			out = append(out, *t)
		}
	}
	return out
}

// Actions возвращает журнал действий.
func (s *Store) Actions() []moderation.AdminAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]moderation.AdminAction, len(s.actions))
	copy(out, s.actions)
	return out
}

// Moderators — Authorizer по фиксированному списку ID.
type Moderators map[int64]bool

func (m Moderators) IsModerator(_ context.Context, userID int64) bool {
	return m[userID]
}
