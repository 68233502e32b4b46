package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
)

// Sender — часть tgbotapi.BotAPI, нужная для отправки.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления через Bot API с таймаутом и повторами.
type Telegram struct {
	api      Sender
	timeout  time.Duration
	maxTries uint
}

// NewTelegram создаёт отправителя.
func NewTelegram(api Sender, timeout time.Duration, maxTries uint) *Telegram {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxTries == 0 {
		maxTries = 1
	}
	return &Telegram{api: api, timeout: timeout, maxTries: maxTries}
}

func (t *Telegram) Notify(ctx context.Context, recipientID int64, text string, actions ...Action) error {
	msg := tgbotapi.NewMessage(recipientID, text)
	if kb, ok := Keyboard(actions); ok {
		msg.ReplyMarkup = kb
	}
	return t.send(ctx, recipientID, msg)
}

func (t *Telegram) NotifyVideoNote(ctx context.Context, recipientID int64, fileID string) error {
	return t.send(ctx, recipientID, tgbotapi.NewVideoNote(recipientID, 0, tgbotapi.FileID(fileID)))
}

func (t *Telegram) NotifyPhoto(ctx context.Context, recipientID int64, fileID, caption string) error {
	photo := tgbotapi.NewPhoto(recipientID, tgbotapi.FileID(fileID))
	photo.Caption = caption
	return t.send(ctx, recipientID, photo)
}

// Keyboard строит inline-клавиатуру: по одной кнопке в ряд.
func Keyboard(actions []Action) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(actions) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func (t *Telegram) send(ctx context.Context, recipientID int64, c tgbotapi.Chattable) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := t.sendOnce(ctx, c)
		if err == nil {
			return struct{}{}, nil
		}

		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			if apiErr.RetryAfter > 0 {
				return struct{}{}, backoff.RetryAfter(apiErr.RetryAfter)
			}
			// 4xx кроме 429: бот заблокирован или чат не найден, повтор не поможет
			if apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		log.WithError(err).WithFields(log.Fields{
			"recipient_id": recipientID,
			"attempt":      attempt,
		}).Debug("Повтор отправки")
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(t.maxTries),
	)
	if err != nil {
		return fmt.Errorf("%w: recipient %d: %v", common.ErrExternalNotify, recipientID, err)
	}
	return nil
}

// sendOnce выполняет вызов Bot API с учётом ctx.
// Сам tgbotapi контекст не принимает, поэтому ждём результат в select.
func (t *Telegram) sendOnce(ctx context.Context, c tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.api.Send(c)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return backoff.Permanent(ctx.Err())
	}
}
