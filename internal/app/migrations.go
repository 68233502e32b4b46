package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/db/postgres"
)

// runMigrations применяет встроенные миграции по порядку.
// Каждая версия выполняется в своей транзакции ровно один раз.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.EnsureMigrationsTable(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Users},
		{2, migration002Chats},
		{3, migration003Transactions},
		{4, migration004Moderation},
		{5, migration005AntiSpam},
		{6, migration006Reviews},
		{7, migration007Admin},
		{8, migration008MessageMedia},
	}

	for _, m := range migrations {
		applied, err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql)
		if err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		if applied {
			log.Infof("Миграция %d применена", m.version)
		}
	}
	return nil
}

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    username VARCHAR(255) NOT NULL DEFAULT '',
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'active'
        CHECK (status IN ('active', 'suspicious', 'banned')),
    warnings_count INTEGER NOT NULL DEFAULT 0,
    total_transactions BIGINT NOT NULL DEFAULT 0,
    total_amount NUMERIC(16,2) NOT NULL DEFAULT 0,
    average_rating NUMERIC(3,2) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
`

var migration002Chats = `
CREATE TABLE IF NOT EXISTS listings (
    id BIGSERIAL PRIMARY KEY,
    author_id BIGINT NOT NULL REFERENCES users(id),
    title VARCHAR(255) NOT NULL,
    price NUMERIC(14,2) NOT NULL DEFAULT 0,
    fixed_price BOOLEAN NOT NULL DEFAULT FALSE,
    kind VARCHAR(8) NOT NULL DEFAULT 'sell' CHECK (kind IN ('sell', 'buy')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS chats (
    id BIGSERIAL PRIMARY KEY,
    listing_id BIGINT NOT NULL REFERENCES listings(id),
    author_id BIGINT NOT NULL REFERENCES users(id),
    peer_id BIGINT NOT NULL REFERENCES users(id),
    status VARCHAR(16) NOT NULL DEFAULT 'waiting'
        CHECK (status IN ('waiting', 'active', 'transaction', 'completed')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chats_author ON chats(author_id);
CREATE INDEX IF NOT EXISTS idx_chats_peer ON chats(peer_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_open_per_listing
    ON chats(listing_id, peer_id) WHERE status <> 'completed';
CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    chat_id BIGINT NOT NULL REFERENCES chats(id),
    sender_id BIGINT NOT NULL REFERENCES users(id),
    text TEXT NOT NULL,
    flagged BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
CREATE TABLE IF NOT EXISTS chat_selections (
    user_id BIGINT PRIMARY KEY REFERENCES users(id),
    chat_id BIGINT NOT NULL REFERENCES chats(id),
    selected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration003Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    chat_id BIGINT NOT NULL REFERENCES chats(id),
    listing_id BIGINT NOT NULL REFERENCES listings(id),
    title VARCHAR(255) NOT NULL DEFAULT '',
    seller_id BIGINT NOT NULL REFERENCES users(id),
    buyer_id BIGINT NOT NULL REFERENCES users(id),
    amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
    commission NUMERIC(14,2) NOT NULL CHECK (commission >= 0),
    commission_payer VARCHAR(8) NOT NULL CHECK (commission_payer IN ('seller', 'buyer', 'split')),
    payment_method VARCHAR(16) NOT NULL DEFAULT '',
    payment_details TEXT NOT NULL DEFAULT '',
    status VARCHAR(24) NOT NULL,
    verification_phrase TEXT NOT NULL DEFAULT '',
    is_verified BOOLEAN NOT NULL DEFAULT FALSE,
    cancel_reason TEXT NOT NULL DEFAULT '',
    cancel_requested_by BIGINT,
    payment_deadline TIMESTAMPTZ NOT NULL,
    completion_deadline TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    paid_out_at TIMESTAMPTZ,
    overdue_notified_at TIMESTAMPTZ,
    CHECK (seller_id <> buyer_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_chat ON transactions(chat_id);
CREATE INDEX IF NOT EXISTS idx_transactions_seller ON transactions(seller_id);
CREATE INDEX IF NOT EXISTS idx_transactions_buyer ON transactions(buyer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

var migration004Moderation = `
CREATE TABLE IF NOT EXISTS review_tickets (
    id UUID PRIMARY KEY,
    kind VARCHAR(16) NOT NULL,
    transaction_id BIGINT REFERENCES transactions(id),
    user_id BIGINT REFERENCES users(id),
    text TEXT NOT NULL DEFAULT '',
    evidence JSONB NOT NULL DEFAULT '{}',
    status VARCHAR(16) NOT NULL DEFAULT 'open',
    resolved_by BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_review_tickets_open ON review_tickets(created_at) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_review_tickets_tx ON review_tickets(transaction_id, kind);
CREATE TABLE IF NOT EXISTS admin_actions (
    id BIGSERIAL PRIMARY KEY,
    admin_id BIGINT NOT NULL,
    action VARCHAR(32) NOT NULL,
    transaction_id BIGINT REFERENCES transactions(id),
    target_user_id BIGINT REFERENCES users(id),
    outcome VARCHAR(32) NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_admin_actions_tx ON admin_actions(transaction_id);
`

var migration005AntiSpam = `
CREATE TABLE IF NOT EXISTS antispam_logs (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    chat_id BIGINT REFERENCES chats(id),
    message_text TEXT NOT NULL,
    triggers TEXT[] NOT NULL DEFAULT '{}',
    action VARCHAR(16) NOT NULL CHECK (action IN ('warning', 'banned')),
    warnings_count INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_antispam_logs_user ON antispam_logs(user_id, created_at DESC);
`

var migration006Reviews = `
CREATE TABLE IF NOT EXISTS reviews (
    id BIGSERIAL PRIMARY KEY,
    transaction_id BIGINT NOT NULL REFERENCES transactions(id),
    reviewer_id BIGINT NOT NULL REFERENCES users(id),
    reviewee_id BIGINT NOT NULL REFERENCES users(id),
    rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
    comment TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (transaction_id, reviewer_id)
);
CREATE INDEX IF NOT EXISTS idx_reviews_reviewee ON reviews(reviewee_id);
`

var migration007Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    session_token VARCHAR(255) UNIQUE NOT NULL,
    authenticated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_user_id ON admin_sessions(user_id) WHERE is_active;
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    success BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_user ON admin_login_attempts(user_id, attempt_time);
`

var migration008MessageMedia = `
ALTER TABLE messages ADD COLUMN IF NOT EXISTS media_type VARCHAR(16);
ALTER TABLE messages ADD COLUMN IF NOT EXISTS file_id TEXT;
`
