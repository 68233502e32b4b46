// Package bot содержит главный модуль бота: приём апдейтов и маршрутизацию.
// bot.go распределяет команды, текст, кружки и нажатия кнопок по обработчикам.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/bot/filters"
	"serotonyl.ru/escrow-bot/internal/bot/middleware"
	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/config"
	"serotonyl.ru/escrow-bot/internal/features/admin"
	"serotonyl.ru/escrow-bot/internal/features/chats"
	"serotonyl.ru/escrow-bot/internal/features/escrow"
	"serotonyl.ru/escrow-bot/internal/features/reviews"
	"serotonyl.ru/escrow-bot/internal/notify"
)

const helpText = `🛡 Бот-гарант для сделок с игровыми аккаунтами.

/open <номер объявления> — откликнуться на объявление
/chats — ваши чаты, /chat <id> — выбрать чат
/close [id] — закрыть чат
/deal — оформить сделку в текущем чате
/deals — ваши сделки, /tx <номер> — карточка сделки

Пока сделка не завершена, общайтесь только через бота.`

// CallbackHandler обрабатывает нажатия своих кнопок.
// Возвращает текст всплывающего ответа и признак, что кнопка обработана.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, userID int64, cb common.Callback) (string, bool)
}

// TextHandler обрабатывает обычный текст. true — сообщение обработано.
type TextHandler interface {
	HandleText(ctx context.Context, chatID, userID int64, text string) bool
}

// Handlers — обработчики фич, подключаемые к боту.
type Handlers struct {
	Admin   *admin.Handler
	Escrow  *escrow.Handler
	Reviews *reviews.Handler
	Chats   *chats.Handler
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      *config.Config
	notifier notify.Notifier

	access      *filters.AccessFilter
	rateLimiter *middleware.RateLimiter

	handlers Handlers
	// порядок важен: первый обработчик, признавший апдейт, его и забирает
	callbacks []CallbackHandler
	texts     []TextHandler

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	notifier notify.Notifier,
	access *filters.AccessFilter,
	handlers Handlers,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:         api,
		cfg:         cfg,
		notifier:    notifier,
		access:      access,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		handlers:    handlers,
		callbacks:   []CallbackHandler{handlers.Admin, handlers.Escrow, handlers.Reviews, handlers.Chats},
		texts: []TextHandler{
			adminDialog{handlers.Admin}, handlers.Escrow, handlers.Reviews, handlers.Chats,
		},
		parser:   NewCommandParser(),
		inflight: make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling и блокируется до отмены ctx.
// Перед возвратом дожидается обработчиков, которые ещё работают.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.cfg.BotMaxInflight,
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	defer b.drain()
	defer b.rateLimiter.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// drain ждёт, пока освободятся все слоты inflight.
func (b *Bot) drain() {
	for i := 0; i < cap(b.inflight); i++ {
		b.inflight <- struct{}{}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	panicked := middleware.Recover(update, func() {
		switch {
		case update.CallbackQuery != nil:
			b.handleCallback(ctx, update.CallbackQuery)
		case update.Message != nil:
			b.handleMessage(ctx, update.Message)
		}
	})
	if panicked && update.Message != nil && update.Message.Chat != nil && update.Message.Chat.IsPrivate() {
		b.sendMessage(ctx, update.Message.Chat.ID, "⚠️ Что-то пошло не так. Попробуйте ещё раз чуть позже.")
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	middleware.LogMessage(message)

	if !b.access.CheckMessage(ctx, message) {
		return
	}
	if !b.rateLimiter.Allow(message.From.ID) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	chatID := message.Chat.ID
	userID := message.From.ID

	if message.VideoNote != nil {
		if !b.handlers.Escrow.HandleVideoNote(ctx, chatID, userID, message.VideoNote.FileID) {
			b.sendMessage(ctx, chatID, "🎥 Сейчас нет сделки, которая ждёт видео-проверки")
		}
		return
	}
	if len(message.Photo) > 0 {
		// последний размер самый крупный
		fileID := message.Photo[len(message.Photo)-1].FileID
		if !b.handlers.Chats.HandlePhoto(ctx, chatID, userID, fileID, message.Caption) {
			b.sendMessage(ctx, chatID, "💬 Нет выбранного чата. Откройте список: /chats")
		}
		return
	}
	if message.Text == "" {
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if isCommand {
		b.routeCommand(ctx, chatID, userID, cmd, args)
		return
	}
	if !b.routeText(ctx, chatID, userID, message.Text) {
		b.sendMessage(ctx, chatID, "💬 Нет выбранного чата. Откройте список: /chats")
	}
}

// routeText отдаёт текст первому обработчику, который его ждёт:
// диалог модератора, оформление сделки, отзыв, пересылка в чат.
func (b *Bot) routeText(ctx context.Context, chatID, userID int64, text string) bool {
	for _, h := range b.texts {
		if h.HandleText(ctx, chatID, userID, text) {
			return true
		}
	}
	return false
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID, userID int64, cmd string, args []string) {
	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")

	h := b.handlers
	switch cmd {
	case "start", "help":
		b.sendMessage(ctx, chatID, helpText)

	case "open":
		h.Chats.HandleOpen(ctx, chatID, userID, args)
	case "chats":
		h.Chats.HandleList(ctx, chatID, userID)
	case "chat":
		h.Chats.HandleSelect(ctx, chatID, userID, args)
	case "close":
		h.Chats.HandleClose(ctx, chatID, userID, args)

	case "deal":
		h.Escrow.HandleDeal(ctx, chatID, userID, args)
	case "deals":
		h.Escrow.HandleDeals(ctx, chatID, userID)
	case "tx":
		h.Escrow.HandleTransaction(ctx, chatID, userID, args)

	case "login":
		h.Admin.HandleLogin(ctx, chatID, userID, args)
	case "logout":
		h.Admin.HandleLogout(ctx, chatID, userID)
	case "tickets":
		h.Admin.HandleTickets(ctx, chatID, userID)
	case "ban", "unban":
		h.Admin.HandleUserStatus(ctx, chatID, userID, cmd, args)
	case "spamlog":
		h.Admin.HandleSpamLog(ctx, chatID, userID, args)
	case "cancel_tx", "extend":
		h.Admin.HandleTransactionCommand(ctx, chatID, userID, cmd, args)

	default:
		b.sendMessage(ctx, chatID, "❓ Неизвестная команда. Список команд: /help")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	middleware.LogCallback(cb)

	answer := ""
	switch {
	case !b.access.CheckCallback(ctx, cb):
	case !b.rateLimiter.Allow(cb.From.ID):
		answer = "⏳ Слишком часто, подождите немного"
	default:
		answer = b.dispatchCallback(ctx, cb.From.ID, cb.Data)
	}

	// Telegram ждёт ответ на каждое нажатие, иначе кнопка «висит»
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, answer)); err != nil {
		log.WithError(err).WithField("user_id", cb.From.ID).Debug("AnswerCallbackQuery failed")
	}
}

// dispatchCallback разбирает callback_data и отдаёт первому подходящему обработчику.
func (b *Bot) dispatchCallback(ctx context.Context, userID int64, data string) string {
	cb, err := common.ParseCallback(data)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Кнопка с неизвестными данными")
		return "Кнопка устарела"
	}
	for _, h := range b.callbacks {
		if answer, ok := h.HandleCallback(ctx, userID, cb); ok {
			return answer
		}
	}
	log.WithField("action", cb.Action).Warn("Нет обработчика для кнопки")
	return "Кнопка устарела"
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	notify.Best(ctx, b.notifier, chatID, text)
}

// adminDialog подключает пошаговые диалоги модератора к цепочке текста.
type adminDialog struct {
	h *admin.Handler
}

func (d adminDialog) HandleText(ctx context.Context, chatID, userID int64, text string) bool {
	return d.h.HandleAdminMessage(ctx, chatID, userID, text)
}

// CommandParser разбирает команды с префиксом «/».
// Суффикс @имя_бота отбрасывается.
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command, _, _ := strings.Cut(strings.ToLower(parts[0]), "@")
	if command == "" {
		return "", nil, false
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
