// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, Redis, репозитории, сервисы,
// обработчики, фильтры и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/bot"
	"serotonyl.ru/escrow-bot/internal/bot/filters"
	"serotonyl.ru/escrow-bot/internal/config"
	"serotonyl.ru/escrow-bot/internal/db/postgres"
	"serotonyl.ru/escrow-bot/internal/features/admin"
	"serotonyl.ru/escrow-bot/internal/features/chats"
	"serotonyl.ru/escrow-bot/internal/features/confirmation"
	"serotonyl.ru/escrow-bot/internal/features/escrow"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/features/reviews"
	"serotonyl.ru/escrow-bot/internal/features/trustfilter"
	"serotonyl.ru/escrow-bot/internal/features/users"
	"serotonyl.ru/escrow-bot/internal/jobs"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	Redis     *redis.Client // nil, если REDIS_ADDR не задан
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Хранилище подтверждений ===
	rdb, consensus, purgers, err := newConsensus(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	// === 3. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		(&App{DB: pool, Redis: rdb}).Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	notifier := notify.NewTelegram(botAPI, cfg.NotifyTimeout, cfg.NotifyMaxTries)

	// === 4. Репозитории ===
	userRepo := users.NewRepository(pool)
	chatRepo := chats.NewRepository(pool)
	escrowRepo := escrow.NewRepository(pool)
	moderationRepo := moderation.NewRepository(pool)
	spamRepo := trustfilter.NewRepository(pool)
	reviewRepo := reviews.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 5. Сервисы ===
	userService := users.NewService(userRepo)
	adminService := admin.NewService(adminRepo, cfg.AdminIDs, cfg.AdminPasswordHash)
	gateway := moderation.NewGateway(moderationRepo, adminService, notifier, cfg.ModeratorGroupID)
	trustService := trustfilter.NewService(
		trustfilter.NewDetector(cfg.SpamKeywords), spamRepo, userService, gateway, notifier, cfg.WarningsBanThreshold,
	)
	chatService := chats.NewService(chatRepo, trustService, notifier)
	escrowService := escrow.NewService(escrowRepo, chatService, gateway, consensus, notifier, escrow.Settings{
		CommissionRate:     cfg.EscrowCommission,
		MinAmount:          decimal.NewFromInt(cfg.MinTransactionAmount),
		PaymentWindow:      cfg.PaymentWindow,
		TransactionTimeout: cfg.TransactionTimeout,
		NegotiationTTL:     cfg.NegotiationTTL,
		Phrases:            cfg.VerificationPhrases,
	})
	chatService.SetTransactionChecker(escrowService)
	reviewService := reviews.NewService(reviewRepo, escrowService, notifier)

	// === 6. Обработчики и фильтры ===
	handlers := bot.Handlers{
		Admin:   admin.NewHandler(adminService, escrowService, trustService, gateway, notifier),
		Escrow:  escrow.NewHandler(escrowService, chatService, notifier),
		Reviews: reviews.NewHandler(reviewService, notifier),
		Chats:   chats.NewHandler(chatService, notifier),
	}
	access := filters.NewAccessFilter(userService, notifier, cfg.ModeratorGroupID)

	// === 7. Собираем бота ===
	b := bot.New(botAPI, cfg, notifier, access, handlers)

	// === 8. Планировщик задач ===
	purgers = append(purgers,
		jobs.Purger{Name: "negotiations", Purge: escrowService.Drafts().Purge},
		jobs.Purger{Name: "admin_states", Purge: adminService.PurgeStates},
		jobs.Purger{Name: "pending_reviews", Purge: reviewService.PurgePending},
	)
	scheduler := jobs.NewScheduler(escrowService, cfg.DeadlineSweepSpec, purgers...)

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		DB:        pool,
		Redis:     rdb,
		BotAPI:    botAPI,
	}, nil
}

// Close освобождает соединения с хранилищами.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	a.DB.Close()
}

// newConsensus выбирает хранилище подтверждений: Redis, если задан адрес,
// иначе память процесса (её нужно чистить по расписанию).
func newConsensus(ctx context.Context, cfg *config.Config) (*redis.Client, confirmation.Consensus, []jobs.Purger, error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR не задан: подтверждения сделок хранятся в памяти процесса")
		mem := confirmation.NewMemoryStore(cfg.ConfirmationWindow)
		return nil, mem, []jobs.Purger{{Name: "confirmations", Purge: mem.Purge}}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("Redis недоступен: %w", err)
	}
	log.WithField("addr", cfg.RedisAddr).Info("Подключение к Redis установлено")
	return rdb, confirmation.NewRedisStore(rdb, cfg.ConfirmationWindow), nil, nil
}
