// Package filters решает, какие апдейты бот вообще обрабатывает.
package filters

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/features/users"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// UserRegistry — регистрация пользователя при первом обращении.
type UserRegistry interface {
	EnsureUser(ctx context.Context, p users.Profile) (*users.User, error)
}

// AccessFilter пропускает личные сообщения незаблокированных пользователей
// и нажатия кнопок в группе модераторов.
type AccessFilter struct {
	users            UserRegistry
	notifier         notify.Notifier
	moderatorGroupID int64
}

func NewAccessFilter(registry UserRegistry, notifier notify.Notifier, moderatorGroupID int64) *AccessFilter {
	return &AccessFilter{
		users:            registry,
		notifier:         notifier,
		moderatorGroupID: moderatorGroupID,
	}
}

// CheckMessage проверяет входящее сообщение.
func (f *AccessFilter) CheckMessage(ctx context.Context, message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "AccessFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "AccessFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("nil message.From (service/channel message?)")
		return false
	}
	// В группе модераторов бот только публикует заявки
	if !message.Chat.IsPrivate() {
		return false
	}
	return f.allow(ctx, message.Chat.ID, message.From)
}

// CheckCallback проверяет нажатие inline-кнопки.
func (f *AccessFilter) CheckCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) bool {
	if cb == nil || cb.From == nil {
		return false
	}
	chatID := cb.From.ID
	if msg := cb.Message; msg != nil && msg.Chat != nil {
		if msg.Chat.ID == f.moderatorGroupID {
			return true
		}
		if !msg.Chat.IsPrivate() {
			return false
		}
		chatID = msg.Chat.ID
	}
	return f.allow(ctx, chatID, cb.From)
}

func (f *AccessFilter) allow(ctx context.Context, chatID int64, from *tgbotapi.User) bool {
	logger := log.WithFields(log.Fields{
		"component": "AccessFilter",
		"chat_id":   chatID,
		"user_id":   from.ID,
	})

	u, err := f.users.EnsureUser(ctx, users.Profile{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	})
	if err != nil {
		// без БД всё равно ничего не сработает
		logger.WithError(err).Error("EnsureUser failed")
		return false
	}
	if u.IsBanned() {
		logger.Debug("deny: banned")
		notify.Best(ctx, f.notifier, chatID, "⛔ Ваш аккаунт заблокирован. Обратитесь к модератору.")
		return false
	}
	return true
}
