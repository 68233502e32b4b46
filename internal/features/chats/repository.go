// Package chats — repository.go работает с таблицами chats, messages, chat_selections
// и читает listings.
package chats

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/escrow-bot/internal/common"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const chatColumns = `
	c.id, c.listing_id, l.title, l.price::text, l.fixed_price, l.kind,
	c.author_id, c.peer_id, c.status, c.created_at, c.updated_at
`

// GetListing читает объявление.
func (r *Repository) GetListing(ctx context.Context, listingID int64) (*Listing, error) {
	var (
		l           Listing
		price, kind string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, author_id, title, price::text, fixed_price, kind
		FROM listings WHERE id = $1
	`, listingID).Scan(&l.ID, &l.AuthorID, &l.Title, &price, &l.FixedPrice, &kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("объявление %d: %w", listingID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения объявления: %w", err)
	}
	if l.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("listing price: %w", err)
	}
	l.Kind = ListingKind(kind)
	return &l, nil
}

// FindOpen ищет незакрытый чат по объявлению и откликнувшемуся.
func (r *Repository) FindOpen(ctx context.Context, listingID, peerID int64) (*Chat, error) {
	c, err := scanChat(r.db.QueryRow(ctx, `
		SELECT `+chatColumns+`
		FROM chats c JOIN listings l ON l.id = c.listing_id
		WHERE c.listing_id = $1 AND c.peer_id = $2 AND c.status <> 'completed'
		ORDER BY c.created_at DESC LIMIT 1
	`, listingID, peerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("чат по объявлению %d: %w", listingID, common.ErrNotFound)
	}
	return c, err
}

// Create создаёт чат в статусе waiting.
func (r *Repository) Create(ctx context.Context, listingID, authorID, peerID int64) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO chats (listing_id, author_id, peer_id, status)
		VALUES ($1, $2, $3, 'waiting')
		RETURNING id
	`, listingID, authorID, peerID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания чата: %w", err)
	}
	return id, nil
}

// Get возвращает чат или common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, chatID int64) (*Chat, error) {
	c, err := scanChat(r.db.QueryRow(ctx, `
		SELECT `+chatColumns+`
		FROM chats c JOIN listings l ON l.id = c.listing_id
		WHERE c.id = $1
	`, chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("чат %d: %w", chatID, common.ErrNotFound)
	}
	return c, err
}

// SetStatus меняет статус, только если текущий равен from.
func (r *Repository) SetStatus(ctx context.Context, chatID int64, from, to Status) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE chats SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, chatID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("ошибка смены статуса чата: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListForUser возвращает незакрытые чаты пользователя, свежие первыми.
func (r *Repository) ListForUser(ctx context.Context, userID int64, limit int) ([]*Chat, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+chatColumns+`
		FROM chats c JOIN listings l ON l.id = c.listing_id
		WHERE (c.author_id = $1 OR c.peer_id = $1) AND c.status <> 'completed'
		ORDER BY c.updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения чатов: %w", err)
	}
	defer rows.Close()

	var out []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Selected возвращает чат, выбранный пользователем командой /chat, или 0.
func (r *Repository) Selected(ctx context.Context, userID int64) (int64, error) {
	var chatID int64
	err := r.db.QueryRow(ctx, `SELECT chat_id FROM chat_selections WHERE user_id = $1`, userID).Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения выбранного чата: %w", err)
	}
	return chatID, nil
}

// Select запоминает текущий чат пользователя.
func (r *Repository) Select(ctx context.Context, userID, chatID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_selections (user_id, chat_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET chat_id = EXCLUDED.chat_id, selected_at = NOW()
	`, userID, chatID)
	if err != nil {
		return fmt.Errorf("ошибка выбора чата: %w", err)
	}
	return nil
}

// AddMessage сохраняет сообщение и обновляет активность чата.
func (r *Repository) AddMessage(ctx context.Context, m *Message) error {
	err := r.db.QueryRow(ctx, `
		WITH touched AS (
			UPDATE chats SET updated_at = NOW() WHERE id = $1
		)
		INSERT INTO messages (chat_id, sender_id, text, media_type, file_id, flagged)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING id, created_at
	`, m.ChatID, m.SenderID, m.Text, m.MediaType, m.FileID, m.Flagged).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения сообщения: %w", err)
	}
	return nil
}

func scanChat(row pgx.Row) (*Chat, error) {
	var (
		c                   Chat
		price, kind, status string
	)
	if err := row.Scan(
		&c.ID, &c.ListingID, &c.ListingTitle, &price, &c.FixedPrice, &kind,
		&c.AuthorID, &c.PeerID, &status, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("listing price: %w", err)
	}
	c.ListingPrice = p
	c.ListingKind = ListingKind(kind)
	c.Status = Status(status)
	return &c, nil
}
