// Package reviews — repository.go работает с таблицей reviews и пересчитывает рейтинг.
package reviews

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/db/postgres"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create сохраняет отзыв и пересчитывает средний рейтинг получателя в одной транзакции.
// Повторный отзыв — common.ErrAlreadyReviewed.
func (r *Repository) Create(ctx context.Context, rv *Review) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO reviews (transaction_id, reviewer_id, reviewee_id, rating, comment)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, rv.TransactionID, rv.ReviewerID, rv.RevieweeID, rv.Rating, rv.Comment).Scan(&rv.ID, &rv.CreatedAt)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return common.ErrAlreadyReviewed
			}
			return fmt.Errorf("ошибка сохранения отзыва: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users SET
				average_rating = (SELECT ROUND(AVG(rating), 2) FROM reviews WHERE reviewee_id = $1),
				updated_at = NOW()
			WHERE id = $1
		`, rv.RevieweeID); err != nil {
			return fmt.Errorf("ошибка пересчёта рейтинга: %w", err)
		}
		return nil
	})
}

// Exists проверяет, оставлял ли пользователь отзыв по сделке.
func (r *Repository) Exists(ctx context.Context, transactionID, reviewerID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM reviews WHERE transaction_id = $1 AND reviewer_id = $2)
	`, transactionID, reviewerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки отзыва: %w", err)
	}
	return exists, nil
}
