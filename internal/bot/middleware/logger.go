// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const maxLoggedText = 50

// LogMessage логирует входящее сообщение.
// Записывает: user_id, chat_id, username, текст (первые 50 символов).
func LogMessage(message *tgbotapi.Message) {
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	text := message.Text
	switch {
	case message.VideoNote != nil:
		text = "[video_note]"
	case len(message.Photo) > 0:
		text = "[photo] " + message.Caption
	}

	log.WithFields(log.Fields{
		"user_id":  message.From.ID,
		"chat_id":  message.Chat.ID,
		"username": message.From.UserName,
		"text":     Truncate(text, maxLoggedText),
	}).Debug("Входящее сообщение")
}

// LogCallback логирует нажатие кнопки.
func LogCallback(cb *tgbotapi.CallbackQuery) {
	if cb == nil || cb.From == nil {
		return
	}
	log.WithFields(log.Fields{
		"user_id": cb.From.ID,
		"data":    cb.Data,
	}).Debug("Нажатие кнопки")
}

// Truncate обрезает строку до n символов (не байт).
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
