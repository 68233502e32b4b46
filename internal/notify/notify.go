// Package notify доставляет уведомления участникам сделок и модераторам.
//
// Ядро сделок не зависит от Telegram: сервисы получают Notifier,
// а доставка через Bot API живёт в Telegram.
package notify

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
)

// Action — кнопка под уведомлением.
type Action struct {
	Label string
	Data  string
}

// Notifier отправляет текст получателю (пользователю или группе модераторов).
type Notifier interface {
	Notify(ctx context.Context, recipientID int64, text string, actions ...Action) error
}

// MediaNotifier умеет пересылать видеосообщения (кружки), которыми продавец проходит проверку.
type MediaNotifier interface {
	NotifyVideoNote(ctx context.Context, recipientID int64, fileID string) error
}

// PhotoNotifier умеет пересылать фотографии из анонимного чата.
type PhotoNotifier interface {
	NotifyPhoto(ctx context.Context, recipientID int64, fileID, caption string) error
}

// Best отправляет уведомление и не возвращает ошибку: сбой доставки
// логируется и не влияет на уже применённый переход сделки.
func Best(ctx context.Context, n Notifier, recipientID int64, text string, actions ...Action) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, recipientID, text, actions...); err != nil {
		log.WithError(fmt.Errorf("%w: %v", common.ErrExternalNotify, err)).
			WithField("recipient_id", recipientID).
			Warn("Уведомление не доставлено")
	}
}

// BestVideoNote пересылает кружок, если Notifier это умеет.
func BestVideoNote(ctx context.Context, n Notifier, recipientID int64, fileID string) {
	mn, ok := n.(MediaNotifier)
	if !ok || fileID == "" {
		return
	}
	if err := mn.NotifyVideoNote(ctx, recipientID, fileID); err != nil {
		log.WithError(fmt.Errorf("%w: %v", common.ErrExternalNotify, err)).
			WithField("recipient_id", recipientID).
			Warn("Видео не доставлено")
	}
}

// BestPhoto пересылает фото с подписью. Если Notifier фото не умеет,
// получатель видит только подпись.
func BestPhoto(ctx context.Context, n Notifier, recipientID int64, fileID, caption string) {
	pn, ok := n.(PhotoNotifier)
	if !ok || fileID == "" {
		Best(ctx, n, recipientID, caption)
		return
	}
	if err := pn.NotifyPhoto(ctx, recipientID, fileID, caption); err != nil {
		log.WithError(fmt.Errorf("%w: %v", common.ErrExternalNotify, err)).
			WithField("recipient_id", recipientID).
			Warn("Фото не доставлено")
	}
}
