// Package users — repository.go отвечает за операции с таблицей users в БД.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/db/postgres"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectUser = `
	SELECT id, username, first_name, last_name, status, warnings_count,
	       total_transactions, total_amount::text, average_rating::text,
	       created_at, updated_at
	FROM users
`

// Upsert добавляет пользователя или обновляет имя/username.
// Статус и предупреждения на конфликте не трогаются.
func (r *Repository) Upsert(ctx context.Context, p Profile) error {
	query := `
		INSERT INTO users (id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, p.ID, p.Username, p.FirstName, p.LastName); err != nil {
		return fmt.Errorf("ошибка создания/обновления пользователя: %w", err)
	}
	return nil
}

// Get: если не найден — ошибка с common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, userID int64) (*User, error) {
	u, err := ScanUser(r.db.QueryRow(ctx, selectUser+` WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь %d: %w", userID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пользователя %d: %w", userID, err)
	}
	return u, nil
}

// SetStatus меняет статус. При StatusActive предупреждения сбрасываются.
func (r *Repository) SetStatus(ctx context.Context, userID int64, status Status) (*User, error) {
	query := `
		UPDATE users
		SET status = $2,
		    warnings_count = CASE WHEN $2 = 'active' THEN 0 ELSE warnings_count END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, username, first_name, last_name, status, warnings_count,
		          total_transactions, total_amount::text, average_rating::text,
		          created_at, updated_at
	`
	u, err := ScanUser(r.db.QueryRow(ctx, query, userID, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь %d: %w", userID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка смены статуса: %w", err)
	}
	return u, nil
}

// AddDealTotals увеличивает счётчик сделок и оборот обоих участников.
// q — пул или транзакция.
func AddDealTotals(ctx context.Context, q postgres.DBTX, amount decimal.Decimal, userIDs ...int64) error {
	query := `
		UPDATE users
		SET total_transactions = total_transactions + 1,
		    total_amount = total_amount + $2::numeric,
		    updated_at = NOW()
		WHERE id = ANY($1)
	`
	tag, err := q.Exec(ctx, query, userIDs, amount.StringFixed(2))
	if err != nil {
		return fmt.Errorf("ошибка обновления итогов сделок: %w", err)
	}
	if int(tag.RowsAffected()) != len(userIDs) {
		return fmt.Errorf("итоги сделок: обновлено %d из %d: %w", tag.RowsAffected(), len(userIDs), common.ErrNotFound)
	}
	return nil
}

// ScanUser читает строку в формате selectUser.
func ScanUser(row pgx.Row) (*User, error) {
	var (
		u                 User
		status            string
		totalAmount, rate string
	)
	if err := row.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &status, &u.WarningsCount,
		&u.TotalTransactions, &totalAmount, &rate,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Status = Status(status)

	var err error
	if u.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return nil, fmt.Errorf("total_amount: %w", err)
	}
	if u.AverageRating, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("average_rating: %w", err)
	}
	return &u, nil
}
