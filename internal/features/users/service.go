// Package users — service.go содержит бизнес-логику работы с пользователями.
package users

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Store — хранилище пользователей (реализуется Repository).
type Store interface {
	Upsert(ctx context.Context, p Profile) error
	Get(ctx context.Context, userID int64) (*User, error)
	SetStatus(ctx context.Context, userID int64, status Status) (*User, error)
}

// Service управляет пользователями.
type Service struct {
	store Store
}

// NewService создаёт сервис пользователей.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// EnsureUser регистрирует пользователя при первом сообщении
// и обновляет имя/username при последующих.
func (s *Service) EnsureUser(ctx context.Context, p Profile) (*User, error) {
	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, p.ID)
}

// Get возвращает пользователя по Telegram ID.
func (s *Service) Get(ctx context.Context, userID int64) (*User, error) {
	return s.store.Get(ctx, userID)
}

// IsBanned сообщает, заблокирован ли пользователь.
// Неизвестный пользователь не заблокирован.
func (s *Service) IsBanned(ctx context.Context, userID int64) bool {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return false
	}
	return u.IsBanned()
}

// SetStatus меняет статус доверия.
func (s *Service) SetStatus(ctx context.Context, userID int64, status Status) (*User, error) {
	switch status {
	case StatusActive, StatusSuspicious, StatusBanned:
	default:
		return nil, fmt.Errorf("неизвестный статус %q", status)
	}

	u, err := s.store.SetStatus(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"user_id": userID,
		"status":  status,
	}).Info("Статус пользователя изменён")
	return u, nil
}

// DisplayName возвращает имя пользователя или его ID, если он не найден.
func (s *Service) DisplayName(ctx context.Context, userID int64) string {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return fmt.Sprintf("id%d", userID)
	}
	return u.DisplayName()
}
