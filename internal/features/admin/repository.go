// Package admin — repository.go хранит сессии модераторов и журнал попыток входа.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/db/postgres"
)

// Repository работает с admin_sessions и admin_login_attempts.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSession открывает новую сессию. У модератора одна активная сессия:
// прежние закрываются в той же транзакции.
func (r *Repository) CreateSession(ctx context.Context, session *AdminSession) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := closeSessions(ctx, tx, session.UserID); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO admin_sessions (user_id, session_token, expires_at)
			VALUES ($1, $2, $3)
			RETURNING id, authenticated_at, last_activity, is_active
		`, session.UserID, session.SessionToken, session.ExpiresAt).Scan(
			&session.ID, &session.AuthenticatedAt, &session.LastActivity, &session.IsActive,
		)
		if err != nil {
			return fmt.Errorf("ошибка создания сессии модератора %d: %w", session.UserID, err)
		}
		return nil
	})
}

// GetActiveSession возвращает действующую сессию или common.ErrNotFound.
func (r *Repository) GetActiveSession(ctx context.Context, userID int64) (*AdminSession, error) {
	var s AdminSession
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE user_id = $1 AND is_active AND expires_at > NOW()
		ORDER BY authenticated_at DESC
		LIMIT 1
	`, userID).Scan(
		&s.ID, &s.UserID, &s.SessionToken, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("сессия модератора %d: %w", userID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сессии модератора %d: %w", userID, err)
	}
	return &s, nil
}

// CloseSessions закрывает все сессии модератора (/logout).
func (r *Repository) CloseSessions(ctx context.Context, userID int64) error {
	return closeSessions(ctx, r.db, userID)
}

// TouchSession отмечает активность. Срок сессии не продлевается.
func (r *Repository) TouchSession(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE admin_sessions SET last_activity = NOW()
		WHERE user_id = $1 AND is_active AND expires_at > NOW()
	`, userID); err != nil {
		return fmt.Errorf("ошибка обновления активности модератора %d: %w", userID, err)
	}
	return nil
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, userID int64, success bool) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO admin_login_attempts (user_id, success) VALUES ($1, $2)`, userID, success,
	); err != nil {
		return fmt.Errorf("ошибка записи попытки входа: %w", err)
	}
	return nil
}

// CountFailedAttempts считает неудачные попытки входа начиная с since.
func (r *Repository) CountFailedAttempts(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE user_id = $1 AND NOT success AND attempt_time >= $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток входа: %w", err)
	}
	return count, nil
}

func closeSessions(ctx context.Context, q postgres.DBTX, userID int64) error {
	if _, err := q.Exec(ctx,
		`UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`, userID,
	); err != nil {
		return fmt.Errorf("ошибка закрытия сессий модератора %d: %w", userID, err)
	}
	return nil
}
