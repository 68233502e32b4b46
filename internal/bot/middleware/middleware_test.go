package middleware

import (
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute, func() time.Time { return now })

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "лимит считается на пользователя")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow(1))
}

func TestRateLimiterCleanupDropsIdleUsers(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(5, time.Minute, func() time.Time { return now })
	rl.Allow(1)

	now = now.Add(2 * time.Minute)
	rl.cleanup()
	assert.Empty(t, rl.hits)
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "привет", Truncate("привет", 10))
	assert.Equal(t, "при...", Truncate("привет", 3))
}

func TestRecoverSwallowsPanic(t *testing.T) {
	update := tgbotapi.Update{UpdateID: 7, Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 42},
		Chat:     &tgbotapi.Chat{ID: 42},
		Text:     "/deal",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}}

	var panicked bool
	assert.NotPanics(t, func() {
		panicked = Recover(update, func() { panic("boom") })
	})
	assert.True(t, panicked)
	assert.False(t, Recover(update, func() {}))
}

func TestUpdateFields(t *testing.T) {
	msg := UpdateFields(tgbotapi.Update{UpdateID: 7, Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 42},
		Chat:     &tgbotapi.Chat{ID: 43},
		Text:     "/deal",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}})
	assert.Equal(t, 7, msg["update_id"])
	assert.Equal(t, "message", msg["kind"])
	assert.Equal(t, "deal", msg["command"])
	assert.Equal(t, int64(42), msg["user_id"])
	assert.Equal(t, int64(43), msg["chat_id"])

	cb := UpdateFields(tgbotapi.Update{UpdateID: 8, CallbackQuery: &tgbotapi.CallbackQuery{
		From: &tgbotapi.User{ID: 42},
		Data: "esc:done:3",
	}})
	assert.Equal(t, "callback", cb["kind"])
	assert.Equal(t, "esc:done:3", cb["data"])
	assert.Equal(t, int64(42), cb["user_id"])
}
