// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Ключевые слова антиспама и фразы для видео-проверки по умолчанию.
var (
	DefaultSpamKeywords = []string{
		"без гаранта", "давай без гаранта", "напрямую", "переведи сразу",
		"обойдем бота", "мой телеграм", "телефон", "viber", "whatsapp",
		"without a guarantor", "let's go direct", "my telegram", "phone",
		"telegram", "signal", "skype",
	}

	DefaultVerificationPhrases = []string{
		"Добро пожаловать в игровой мир",
		"Я подтверждаю свою личность",
		"Безопасная сделка через бота",
		"Проверка продавца пройдена",
		"Гарант защищает сделку",
	}
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// Модераторы (CSV из Telegram user ID)
	AdminIDsRaw string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs    []int64 `envconfig:"-"`
	// Группа модераторов: сюда уходят заявки на проверку, выплаты, спам
	ModeratorGroupID int64 `envconfig:"MODERATOR_GROUP_ID" required:"true"`

	// --- Database ---
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"escrow_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// сколько раз пробовать достучаться до базы при старте
	DBConnectAttempts uint `envconfig:"DB_CONNECT_ATTEMPTS" default:"10"`

	// --- Redis ---
	// Пустой адрес — подтверждения сделок хранятся в памяти процесса.
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Kyiv"`

	// --- Bot runtime ---
	BotMaxInflight          int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`

	// --- Escrow ---
	EscrowCommissionRaw  string          `envconfig:"ESCROW_COMMISSION" default:"0.05"`
	EscrowCommission     decimal.Decimal `envconfig:"-"`
	MinTransactionAmount int64           `envconfig:"MIN_TRANSACTION_AMOUNT" default:"50"`
	PaymentWindow        time.Duration   `envconfig:"PAYMENT_WINDOW" default:"24h"`
	TransactionTimeout   time.Duration   `envconfig:"TRANSACTION_TIMEOUT" default:"3h"`
	ConfirmationWindow   time.Duration   `envconfig:"CONFIRMATION_WINDOW" default:"1h"`
	NegotiationTTL       time.Duration   `envconfig:"NEGOTIATION_TTL" default:"30m"`
	VerificationPhrases  []string        `envconfig:"VERIFICATION_PHRASES"`
	DeadlineSweepSpec    string          `envconfig:"DEADLINE_SWEEP_SPEC" default:"*/15 * * * *"`

	// --- Trust filter ---
	WarningsBanThreshold int      `envconfig:"WARNINGS_BAN_THRESHOLD" default:"3"`
	SpamKeywords         []string `envconfig:"SPAM_KEYWORDS"`

	// --- Notifications ---
	NotifyTimeout  time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	NotifyMaxTries uint          `envconfig:"NOTIFY_MAX_TRIES" default:"3"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsAdmin проверяет, входит ли пользователь в список модераторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.ModeratorGroupID == 0 {
		return fmt.Errorf("MODERATOR_GROUP_ID не задан или равен 0")
	}
	if len(c.AdminIDs) == 0 {
		return fmt.Errorf("ADMIN_IDS пуст: некому подтверждать сделки")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if !c.EscrowCommission.IsPositive() || c.EscrowCommission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("ESCROW_COMMISSION должна быть в диапазоне (0, 1)")
	}
	if c.MinTransactionAmount <= 0 {
		return fmt.Errorf("MIN_TRANSACTION_AMOUNT должен быть > 0")
	}
	if c.PaymentWindow <= 0 || c.TransactionTimeout <= 0 || c.ConfirmationWindow <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW, TRANSACTION_TIMEOUT и CONFIRMATION_WINDOW должны быть > 0")
	}
	if c.WarningsBanThreshold <= 0 {
		return fmt.Errorf("WARNINGS_BAN_THRESHOLD должен быть > 0")
	}
	if c.NotifyMaxTries == 0 {
		return fmt.Errorf("NOTIFY_MAX_TRIES должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.EscrowCommissionRaw))
	if err != nil {
		return nil, fmt.Errorf("ESCROW_COMMISSION parse: %w", err)
	}
	cfg.EscrowCommission = rate

	if len(cfg.SpamKeywords) == 0 {
		cfg.SpamKeywords = DefaultSpamKeywords
	}
	if len(cfg.VerificationPhrases) == 0 {
		cfg.VerificationPhrases = DefaultVerificationPhrases
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
