// Package reviews — handlers.go: кнопки оценки и текст комментария.
package reviews

import (
	"context"
	"strconv"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/escrow"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Handler обрабатывает отзывы.
type Handler struct {
	service  *Service
	notifier notify.Notifier
}

// NewHandler создаёт обработчик отзывов.
func NewHandler(service *Service, notifier notify.Notifier) *Handler {
	return &Handler{service: service, notifier: notifier}
}

// HandleCallback — кнопка со звёздами под сообщением о выплате.
func (h *Handler) HandleCallback(ctx context.Context, userID int64, cb common.Callback) (string, bool) {
	if cb.Action != escrow.ActionRate {
		return "", false
	}
	rating, err := strconv.Atoi(cb.Arg)
	if err != nil {
		return "❌ Неверная оценка", true
	}
	if err := h.service.ChooseRating(ctx, cb.ID, userID, rating); err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("Оценка отклонена")
		return common.UserMessage(err), true
	}
	return "⭐", true
}

// HandleText принимает комментарий к отзыву.
func (h *Handler) HandleText(ctx context.Context, chatID, userID int64, text string) bool {
	handled, err := h.service.HandleComment(ctx, userID, text)
	if handled && err != nil {
		notify.Best(ctx, h.notifier, chatID, common.UserMessage(err))
	}
	return handled
}
