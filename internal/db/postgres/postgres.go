// Package postgres — пул соединений pgxpool, миграции и транзакции.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/config"
)

// NewPool открывает пул и ждёт, пока база начнёт отвечать.
// Ping повторяется до DB_CONNECT_ATTEMPTS раз с растущей паузой.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	applyLimits(pc, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула: %w", err)
	}
	if err := waitReady(ctx, pool, cfg.DBConnectAttempts); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база данных %s:%d недоступна: %w", cfg.DBHost, cfg.DBPort, err)
	}

	log.WithFields(log.Fields{
		"host":      cfg.DBHost,
		"db":        cfg.DBName,
		"max_conns": pc.MaxConns,
	}).Info("Подключение к PostgreSQL установлено")
	return pool, nil
}

func applyLimits(pc *pgxpool.Config, cfg *config.Config) {
	pc.MaxConns = cfg.DBMaxConns
	pc.MinConns = cfg.DBMinConns
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute
}

func waitReady(ctx context.Context, pool *pgxpool.Pool, attempts uint) error {
	if attempts == 0 {
		attempts = 1
	}
	try := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		try++
		err := pool.Ping(ctx)
		if err != nil && uint(try) < attempts {
			log.WithError(err).WithField("attempt", try).Warn("PostgreSQL пока недоступен, ждём")
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	return err
}

// EnsureMigrationsTable создаёт schema_migrations, в которой ExecMigrationSQL
// отмечает применённые версии.
func EnsureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}
	return nil
}
