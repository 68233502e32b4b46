// Package reviews — service.go: выбор оценки, комментарий, сохранение отзыва.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/escrow"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Store — хранилище отзывов (реализуется Repository).
type Store interface {
	Create(ctx context.Context, rv *Review) error
	Exists(ctx context.Context, transactionID, reviewerID int64) (bool, error)
}

// Transactions — чтение сделок (реализуется escrow.Service).
type Transactions interface {
	Get(ctx context.Context, id int64) (*escrow.Transaction, error)
}

// Service принимает отзывы.
type Service struct {
	store    Store
	txs      Transactions
	notifier notify.Notifier

	mu      sync.Mutex
	pending map[int64]pending // reviewerID → выбранная оценка
	now     func() time.Time
}

// NewService создаёт сервис отзывов.
func NewService(store Store, txs Transactions, notifier notify.Notifier) *Service {
	return &Service{
		store:    store,
		txs:      txs,
		notifier: notifier,
		pending:  make(map[int64]pending),
		now:      time.Now,
	}
}

// ChooseRating — участник нажал звёзды. Отзыв сохранится после комментария (или пропуска).
func (s *Service) ChooseRating(ctx context.Context, txID, reviewerID int64, rating int) error {
	if rating < minRating || rating > maxRating {
		return common.Invalid("rating", "оценка должна быть от %d до %d", minRating, maxRating)
	}
	if _, err := s.reviewable(ctx, txID, reviewerID); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending[reviewerID] = pending{TransactionID: txID, Rating: rating, ExpiresAt: s.now().Add(pendingTTL)}
	s.mu.Unlock()

	notify.Best(ctx, s.notifier, reviewerID, fmt.Sprintf(
		"%s Оценка выбрана. Напишите короткий комментарий (до %d символов) или «-», чтобы пропустить.",
		strings.Repeat("⭐", rating), maxCommentLength,
	))
	return nil
}

// HandleComment завершает отзыв, если пользователь выбрал оценку.
// handled=false — отзыв не ожидается.
func (s *Service) HandleComment(ctx context.Context, reviewerID int64, text string) (bool, error) {
	s.mu.Lock()
	p, ok := s.pending[reviewerID]
	if ok && !s.now().Before(p.ExpiresAt) {
		delete(s.pending, reviewerID)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	comment := strings.TrimSpace(text)
	if comment == "-" {
		comment = ""
	}
	if _, err := s.Submit(ctx, p.TransactionID, reviewerID, p.Rating, comment); err != nil {
		if !errors.Is(err, common.ErrValidation) {
			s.forget(reviewerID)
		}
		return true, err
	}
	s.forget(reviewerID)
	return true, nil
}

// Submit сохраняет отзыв: только после выплаты, только участник, один раз на сделку.
func (s *Service) Submit(ctx context.Context, txID, reviewerID int64, rating int, comment string) (*Review, error) {
	if rating < minRating || rating > maxRating {
		return nil, common.Invalid("rating", "оценка должна быть от %d до %d", minRating, maxRating)
	}
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return nil, common.Invalid("comment", "комментарий длиннее %d символов", maxCommentLength)
	}
	t, err := s.reviewable(ctx, txID, reviewerID)
	if err != nil {
		return nil, err
	}

	rv := &Review{
		TransactionID: txID,
		ReviewerID:    reviewerID,
		RevieweeID:    t.Counterpart(reviewerID),
		Rating:        rating,
		Comment:       comment,
	}
	if err := s.store.Create(ctx, rv); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"transaction_id": txID,
		"reviewer_id":    reviewerID,
		"reviewee_id":    rv.RevieweeID,
		"rating":         rating,
	}).Info("Отзыв сохранён")

	notify.Best(ctx, s.notifier, reviewerID, "🙏 Спасибо за отзыв!")
	notify.Best(ctx, s.notifier, rv.RevieweeID, fmt.Sprintf(
		"%s Вам оставили отзыв по сделке #%d.", strings.Repeat("⭐", rating), txID,
	))
	return rv, nil
}

// PurgePending удаляет просроченные ожидания комментария.
func (s *Service) PurgePending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	now := s.now()
	for id, p := range s.pending {
		if !now.Before(p.ExpiresAt) {
			delete(s.pending, id)
			removed++
		}
	}
	return removed
}

func (s *Service) reviewable(ctx context.Context, txID, reviewerID int64) (*escrow.Transaction, error) {
	t, err := s.txs.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(reviewerID) {
		return nil, common.ErrNotParty
	}
	if t.Status != escrow.StatusPaidOut {
		return nil, fmt.Errorf("сделка #%d ещё не завершена: %w", txID, common.ErrInvalidStateTransition)
	}
	exists, err := s.store.Exists(ctx, txID, reviewerID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, common.ErrAlreadyReviewed
	}
	return t, nil
}

func (s *Service) forget(reviewerID int64) {
	s.mu.Lock()
	delete(s.pending, reviewerID)
	s.mu.Unlock()
}
