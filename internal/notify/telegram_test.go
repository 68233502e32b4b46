package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/escrow-bot/internal/common"
)

type fakeSender struct {
	errs  []error
	calls int
	last  tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	f.last = c
	if len(f.errs) == 0 {
		return tgbotapi.Message{}, nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return tgbotapi.Message{}, err
}

func TestTelegramNotifyWithButtons(t *testing.T) {
	s := &fakeSender{}
	n := NewTelegram(s, time.Second, 3)

	err := n.Notify(context.Background(), 10, "Оплата получена?",
		Action{Label: "✅ Да", Data: "esc:pay:1:ok"},
		Action{Label: "❌ Нет", Data: "esc:pay:1:no"},
	)
	require.NoError(t, err)
	require.Equal(t, 1, s.calls)

	msg, ok := s.last.(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(10), msg.ChatID)
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Len(t, kb.InlineKeyboard, 2)
}

func TestTelegramRetriesTransientErrors(t *testing.T) {
	s := &fakeSender{errs: []error{errors.New("connection reset")}}
	n := NewTelegram(s, 5*time.Second, 3)

	require.NoError(t, n.Notify(context.Background(), 10, "hi"))
	assert.Equal(t, 2, s.calls)
}

func TestTelegramDoesNotRetryForbidden(t *testing.T) {
	s := &fakeSender{errs: []error{&tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"}}}
	n := NewTelegram(s, 5*time.Second, 3)

	err := n.Notify(context.Background(), 10, "hi")
	assert.True(t, errors.Is(err, common.ErrExternalNotify))
	assert.Equal(t, 1, s.calls)
}

func TestBestSwallowsErrors(t *testing.T) {
	s := &fakeSender{errs: []error{&tgbotapi.Error{Code: 400, Message: "chat not found"}}}
	n := NewTelegram(s, time.Second, 1)

	assert.NotPanics(t, func() { Best(context.Background(), n, 1, "hi") })
	assert.NotPanics(t, func() { Best(context.Background(), nil, 1, "hi") })
}

func TestTelegramNotifyPhoto(t *testing.T) {
	s := &fakeSender{}
	n := NewTelegram(s, time.Second, 1)

	require.NoError(t, n.NotifyPhoto(context.Background(), 10, "AgACphoto", "💬 Чат #3: скрин инвентаря"))

	photo, ok := s.last.(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(10), photo.ChatID)
	assert.Equal(t, "💬 Чат #3: скрин инвентаря", photo.Caption)
	assert.Equal(t, tgbotapi.FileID("AgACphoto"), photo.File)
}

type textOnly struct{ texts []string }

func (n *textOnly) Notify(_ context.Context, _ int64, text string, _ ...Action) error {
	n.texts = append(n.texts, text)
	return nil
}

func TestBestPhotoFallsBackToCaption(t *testing.T) {
	n := &textOnly{}
	BestPhoto(context.Background(), n, 1, "AgACphoto", "подпись")
	assert.Equal(t, []string{"подпись"}, n.texts)
}
