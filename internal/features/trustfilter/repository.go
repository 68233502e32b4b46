// Package trustfilter — repository.go работает с таблицей antispam_logs
// и счётчиком предупреждений в users.
package trustfilter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/db/postgres"
)

// Repository хранит журнал антиспама.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// RecordViolation в одной транзакции увеличивает счётчик предупреждений,
// банит при достижении порога и пишет запись в журнал.
// Уже забаненный пользователь — common.ErrUserBanned, журнал не пополняется.
func (r *Repository) RecordViolation(ctx context.Context, msg Message, triggers []string, threshold int) (*AntiSpamLog, error) {
	entry := &AntiSpamLog{
		UserID:      msg.SenderID,
		ChatID:      msg.ChatID,
		MessageText: msg.Text,
		Triggers:    triggers,
	}

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `
			UPDATE users
			SET warnings_count = warnings_count + 1,
			    status = CASE WHEN warnings_count + 1 >= $2 THEN 'banned' ELSE status END,
			    updated_at = NOW()
			WHERE id = $1 AND status <> 'banned'
			RETURNING warnings_count, status
		`, msg.SenderID, threshold).Scan(&entry.WarningsCount, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, msg.SenderID).Scan(&exists); err != nil {
				return fmt.Errorf("ошибка проверки пользователя: %w", err)
			}
			if exists {
				return common.ErrUserBanned
			}
			return fmt.Errorf("пользователь %d: %w", msg.SenderID, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("ошибка обновления предупреждений: %w", err)
		}

		entry.Action = ActionWarning
		if status == "banned" {
			entry.Action = ActionBanned
		}

		return tx.QueryRow(ctx, `
			INSERT INTO antispam_logs (user_id, chat_id, message_text, triggers, action, warnings_count)
			VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6)
			RETURNING id, created_at
		`, entry.UserID, entry.ChatID, entry.MessageText, entry.Triggers, string(entry.Action), entry.WarningsCount,
		).Scan(&entry.ID, &entry.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListForUser возвращает последние записи журнала по пользователю.
func (r *Repository) ListForUser(ctx context.Context, userID int64, limit int) ([]*AntiSpamLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, COALESCE(chat_id, 0), message_text, triggers, action, warnings_count, created_at
		FROM antispam_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала антиспама: %w", err)
	}
	defer rows.Close()

	var out []*AntiSpamLog
	for rows.Next() {
		var (
			l      AntiSpamLog
			action string
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.ChatID, &l.MessageText, &l.Triggers, &action, &l.WarningsCount, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи антиспама: %w", err)
		}
		l.Action = Action(action)
		out = append(out, &l)
	}
	return out, rows.Err()
}
