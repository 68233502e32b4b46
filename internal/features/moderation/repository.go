// Package moderation — repository.go работает с таблицами review_tickets и admin_actions.
package moderation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository хранит заявки и журнал модераторов.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateTicket сохраняет новую заявку.
func (r *Repository) CreateTicket(ctx context.Context, t *Ticket) error {
	query := `
		INSERT INTO review_tickets (id, kind, transaction_id, user_id, text, evidence, status)
		VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), $5, $6, 'open')
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		t.ID, string(t.Kind), t.TransactionID, t.UserID, t.Text, t.Evidence,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

// ResolveTickets закрывает открытые заявки вида kind по сделке.
func (r *Repository) ResolveTickets(ctx context.Context, transactionID int64, kind Kind, reviewerID int64) (int64, error) {
	query := `
		UPDATE review_tickets
		SET status = 'resolved', resolved_by = $3, resolved_at = NOW()
		WHERE transaction_id = $1 AND kind = $2 AND status = 'open'
	`
	tag, err := r.db.Exec(ctx, query, transactionID, string(kind), reviewerID)
	if err != nil {
		return 0, fmt.Errorf("ошибка закрытия заявок: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListOpen возвращает открытые заявки, старые первыми.
func (r *Repository) ListOpen(ctx context.Context, limit int) ([]*Ticket, error) {
	query := `
		SELECT id, kind, COALESCE(transaction_id, 0), COALESCE(user_id, 0), text, evidence,
		       status, COALESCE(resolved_by, 0), created_at, resolved_at
		FROM review_tickets
		WHERE status = 'open'
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения заявок: %w", err)
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordAction добавляет запись в журнал действий модераторов.
func (r *Repository) RecordAction(ctx context.Context, a *AdminAction) error {
	query := `
		INSERT INTO admin_actions (admin_id, action, transaction_id, target_user_id, outcome, details)
		VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		a.AdminID, a.Action, a.TransactionID, a.TargetUserID, string(a.Outcome), a.Details,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи действия модератора: %w", err)
	}
	return nil
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var (
		t            Ticket
		kind, status string
	)
	if err := row.Scan(
		&t.ID, &kind, &t.TransactionID, &t.UserID, &t.Text, &t.Evidence,
		&status, &t.ResolvedBy, &t.CreatedAt, &t.ResolvedAt,
	); err != nil {
		return nil, fmt.Errorf("ошибка чтения заявки: %w", err)
	}
	t.Kind = Kind(kind)
	t.Status = TicketStatus(status)
	return &t, nil
}
