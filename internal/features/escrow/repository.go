// Package escrow — repository.go работает с таблицей transactions.
// Все смены статуса — условные UPDATE по текущему статусу (compare-and-set).
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/db/postgres"
	"serotonyl.ru/escrow-bot/internal/features/commission"
	"serotonyl.ru/escrow-bot/internal/features/users"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const txColumns = `
	id, chat_id, listing_id, title, seller_id, buyer_id,
	amount::text, commission::text, commission_payer, payment_method, payment_details,
	status, verification_phrase, is_verified, cancel_reason, COALESCE(cancel_requested_by, 0),
	payment_deadline, completion_deadline, created_at, updated_at,
	completed_at, paid_out_at, overdue_notified_at
`

// Create переводит чат в статус «сделка» и создаёт сделку в одной транзакции.
// Чат не активен или сделка по чату уже есть — common.ErrInvalidStateTransition.
func (r *Repository) Create(ctx context.Context, t *Transaction) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE chats SET status = 'transaction', updated_at = NOW()
			WHERE id = $1 AND status = 'active'
		`, t.ChatID)
		if err != nil {
			return fmt.Errorf("ошибка смены статуса чата: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("чат #%d не активен: %w", t.ChatID, common.ErrInvalidStateTransition)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO transactions (
				chat_id, listing_id, title, seller_id, buyer_id,
				amount, commission, commission_payer, payment_method, payment_details,
				status, payment_deadline, completion_deadline
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13)
			RETURNING id, created_at, updated_at
		`,
			t.ChatID, t.ListingID, t.Title, t.SellerID, t.BuyerID,
			t.Amount.StringFixed(2), t.Commission.StringFixed(2), string(t.CommissionPayer),
			string(t.PaymentMethod), t.PaymentDetails,
			string(t.Status), t.PaymentDeadline, t.CompletionDeadline,
		).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return fmt.Errorf("по чату #%d уже есть сделка: %w", t.ChatID, common.ErrInvalidStateTransition)
			}
			return fmt.Errorf("ошибка создания сделки: %w", err)
		}
		return nil
	})
}

// Get возвращает сделку или common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (*Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("сделка #%d: %w", id, common.ErrNotFound)
	}
	return t, err
}

// GetByChat возвращает сделку чата или common.ErrNotFound.
func (r *Repository) GetByChat(ctx context.Context, chatID int64) (*Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE chat_id = $1`, chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("сделка по чату #%d: %w", chatID, common.ErrNotFound)
	}
	return t, err
}

// ListForUser возвращает сделки пользователя, свежие первыми.
func (r *Repository) ListForUser(ctx context.Context, userID int64, limit int) ([]*Transaction, error) {
	return r.list(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE seller_id = $1 OR buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
}

// Transition меняет статус from → to вместе с полями ch.
// Если статус уже не from — (nil, nil). Сделка в терминальном статусе закрывает чат.
func (r *Repository) Transition(ctx context.Context, id int64, from, to Status, ch Change) (*Transaction, error) {
	var out *Transaction
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		t, err := scanTransaction(tx.QueryRow(ctx, `
			UPDATE transactions SET
				status = $3,
				verification_phrase = COALESCE(NULLIF($4, ''), verification_phrase),
				is_verified = is_verified OR $5,
				cancel_reason = COALESCE(NULLIF($6, ''), cancel_reason),
				completed_at = COALESCE($7, completed_at),
				cancel_requested_by = NULL,
				updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING `+txColumns,
			id, string(from), string(to), ch.VerificationPhrase, ch.MarkVerified, ch.CancelReason, ch.CompletedAt,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка смены статуса сделки: %w", err)
		}
		if to == StatusCancelled {
			if err := closeChat(ctx, tx, t.ChatID); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	return out, err
}

// PayOut фиксирует выплату: completed → paid_out, итоги сделок участников, закрытие чата.
// Если сделка уже не completed — (nil, nil).
func (r *Repository) PayOut(ctx context.Context, id int64) (*Transaction, error) {
	var out *Transaction
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		t, err := scanTransaction(tx.QueryRow(ctx, `
			UPDATE transactions SET status = 'paid_out', paid_out_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'completed'
			RETURNING `+txColumns,
			id,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка выплаты: %w", err)
		}
		if err := users.AddDealTotals(ctx, tx, t.Amount, t.SellerID, t.BuyerID); err != nil {
			return err
		}
		if err := closeChat(ctx, tx, t.ChatID); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// SetCancelRequest записывает, кто попросил отмену (0 — снять запрос).
// Срабатывает, только если сделка в статусе status.
func (r *Repository) SetCancelRequest(ctx context.Context, id int64, status Status, requestedBy int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET cancel_requested_by = NULLIF($3, 0), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(status), requestedBy)
	if err != nil {
		return false, fmt.Errorf("ошибка записи запроса отмены: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Extend сдвигает дедлайн завершения сделки в процессе. Не in_progress — (nil, nil).
func (r *Repository) Extend(ctx context.Context, id int64, by time.Duration) (*Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `
		UPDATE transactions SET
			completion_deadline = completion_deadline + make_interval(secs => $2),
			overdue_notified_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
		RETURNING `+txColumns,
		id, by.Seconds(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка продления сделки: %w", err)
	}
	return t, nil
}

// ListOverdue возвращает сделки с истёкшим дедлайном, о которых модераторы ещё не знают.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	return r.list(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE overdue_notified_at IS NULL
		  AND (
		    (status = 'payment_pending' AND payment_deadline < $1)
		    OR (status IN ('verification_pending', 'in_progress') AND completion_deadline < $1)
		  )
		ORDER BY id
		LIMIT $2
	`, now, limit)
}

// MarkOverdueNotified отмечает, что о просрочке сообщили. false — уже отмечено.
func (r *Repository) MarkOverdueNotified(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET overdue_notified_at = NOW()
		WHERE id = $1 AND overdue_notified_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка отметки просрочки: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сделок: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func closeChat(ctx context.Context, q postgres.DBTX, chatID int64) error {
	if _, err := q.Exec(ctx, `
		UPDATE chats SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status <> 'completed'
	`, chatID); err != nil {
		return fmt.Errorf("ошибка закрытия чата: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t                     Transaction
		amount, fee           string
		payer, method, status string
	)
	if err := row.Scan(
		&t.ID, &t.ChatID, &t.ListingID, &t.Title, &t.SellerID, &t.BuyerID,
		&amount, &fee, &payer, &method, &t.PaymentDetails,
		&status, &t.VerificationPhrase, &t.IsVerified, &t.CancelReason, &t.CancelRequestedBy,
		&t.PaymentDeadline, &t.CompletionDeadline, &t.CreatedAt, &t.UpdatedAt,
		&t.CompletedAt, &t.PaidOutAt, &t.OverdueNotifiedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if t.Commission, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("commission: %w", err)
	}
	t.CommissionPayer = commission.Payer(payer)
	t.PaymentMethod = PaymentMethod(method)
	t.Status = Status(status)
	return &t, nil
}
