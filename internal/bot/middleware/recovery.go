package middleware

import (
	"fmt"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// Recover выполняет handle и перехватывает панику.
// Возвращает true, если обработчик упал: апдейт пропущен, бот работает дальше.
func Recover(update tgbotapi.Update, handle func()) (panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true
		fields := UpdateFields(update)
		fields["panic"] = fmt.Sprint(r)
		fields["stack"] = string(debug.Stack())
		log.WithFields(fields).Error("Паника при обработке апдейта, апдейт пропущен")
	}()
	handle()
	return false
}

// UpdateFields описывает апдейт для логов: кто, откуда и что прислал.
func UpdateFields(update tgbotapi.Update) log.Fields {
	fields := log.Fields{"update_id": update.UpdateID}
	switch {
	case update.CallbackQuery != nil:
		fields["kind"] = "callback"
		fields["data"] = update.CallbackQuery.Data
		if update.CallbackQuery.From != nil {
			fields["user_id"] = update.CallbackQuery.From.ID
		}
	case update.Message != nil:
		fields["kind"] = "message"
		if cmd := update.Message.Command(); cmd != "" {
			fields["command"] = cmd
		}
		if update.Message.From != nil {
			fields["user_id"] = update.Message.From.ID
		}
		if update.Message.Chat != nil {
			fields["chat_id"] = update.Message.Chat.ID
		}
	}
	return fields
}
