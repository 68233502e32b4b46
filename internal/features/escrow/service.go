// Package escrow — service.go: сервис сделок и общие переходы статусов.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/chats"
	"serotonyl.ru/escrow-bot/internal/features/commission"
	"serotonyl.ru/escrow-bot/internal/features/confirmation"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Store — хранилище сделок (реализуется Repository).
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id int64) (*Transaction, error)
	GetByChat(ctx context.Context, chatID int64) (*Transaction, error)
	ListForUser(ctx context.Context, userID int64, limit int) ([]*Transaction, error)
	Transition(ctx context.Context, id int64, from, to Status, ch Change) (*Transaction, error)
	PayOut(ctx context.Context, id int64) (*Transaction, error)
	SetCancelRequest(ctx context.Context, id int64, status Status, requestedBy int64) (bool, error)
	Extend(ctx context.Context, id int64, by time.Duration) (*Transaction, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
	MarkOverdueNotified(ctx context.Context, id int64) (bool, error)
}

// ChatSource — чтение чатов (реализуется chats.Service).
type ChatSource interface {
	Get(ctx context.Context, chatID int64) (*chats.Chat, error)
}

// Settings — параметры сделок из конфигурации.
type Settings struct {
	CommissionRate     decimal.Decimal
	MinAmount          decimal.Decimal
	PaymentWindow      time.Duration
	TransactionTimeout time.Duration
	NegotiationTTL     time.Duration
	Phrases            []string
}

// Service — машина состояний сделки.
type Service struct {
	store     Store
	chats     ChatSource
	gateway   *moderation.Gateway
	consensus confirmation.Consensus
	notifier  notify.Notifier
	calc      *commission.Calculator
	drafts    *Negotiations
	settings  Settings

	now        func() time.Time
	pickPhrase func(phrases []string) string
}

// NewService создаёт сервис сделок.
func NewService(
	store Store,
	chatSource ChatSource,
	gateway *moderation.Gateway,
	consensus confirmation.Consensus,
	notifier notify.Notifier,
	settings Settings,
) *Service {
	return &Service{
		store:      store,
		chats:      chatSource,
		gateway:    gateway,
		consensus:  consensus,
		notifier:   notifier,
		calc:       commission.NewCalculator(settings.CommissionRate),
		drafts:     NewNegotiations(settings.NegotiationTTL),
		settings:   settings,
		now:        time.Now,
		pickPhrase: randomPhrase,
	}
}

// Drafts возвращает хранилище черновиков (для очистки по расписанию).
func (s *Service) Drafts() *Negotiations {
	return s.drafts
}

// Get возвращает сделку.
func (s *Service) Get(ctx context.Context, id int64) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// GetForParty возвращает сделку, если пользователь её участник.
func (s *Service) GetForParty(ctx context.Context, id, userID int64) (*Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(userID) {
		return nil, common.ErrNotParty
	}
	return t, nil
}

// ListForUser возвращает последние сделки пользователя.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Transaction, error) {
	return s.store.ListForUser(ctx, userID, 10)
}

// HasOpenTransaction сообщает, держит ли сделка чат.
func (s *Service) HasOpenTransaction(ctx context.Context, chatID int64) (bool, error) {
	t, err := s.store.GetByChat(ctx, chatID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Status.IsOpen(), nil
}

// transition проверяет переход по графу и применяет его через CAS.
func (s *Service) transition(ctx context.Context, t *Transaction, to Status, ch Change, actor int64) (*Transaction, error) {
	if !CanTransition(t.Status, to) {
		return nil, invalidTransition(t, to)
	}
	next, err := s.store.Transition(ctx, t.ID, t.Status, to, ch)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, s.casMiss(ctx, t, to)
	}
	logTransition(t.ID, t.Status, to, actor)
	return next, nil
}

// casMiss объясняет, почему условный UPDATE не сработал.
func (s *Service) casMiss(ctx context.Context, t *Transaction, to Status) error {
	cur, err := s.store.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	if !CanTransition(cur.Status, to) {
		return invalidTransition(cur, to)
	}
	return fmt.Errorf("сделка #%d: %w", t.ID, common.ErrConcurrencyConflict)
}

func logTransition(id int64, from, to Status, actor int64) {
	log.WithFields(log.Fields{
		"transaction_id": id,
		"from":           from,
		"to":             to,
		"actor":          actor,
	}).Info("Статус сделки изменён")
}

func randomPhrase(phrases []string) string {
	if len(phrases) == 0 {
		return ""
	}
	return phrases[rand.IntN(len(phrases))]
}
