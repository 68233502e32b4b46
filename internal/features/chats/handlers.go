// Package chats — handlers.go: /open <объявление>, /chats, /chat <id>, /close
// и пересылка обычного текста собеседнику.
package chats

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Handler обрабатывает команды чатов.
type Handler struct {
	service  *Service
	notifier notify.Notifier
}

// NewHandler создаёт обработчик чатов.
func NewHandler(service *Service, notifier notify.Notifier) *Handler {
	return &Handler{service: service, notifier: notifier}
}

// HandleOpen — /open <id объявления>: отклик на объявление.
func (h *Handler) HandleOpen(ctx context.Context, chatID, userID int64, args []string) {
	listingID, ok := parseID(args)
	if !ok {
		h.sendMessage(ctx, chatID, "❌ Формат: /open <номер объявления>")
		return
	}
	chat, err := h.service.OpenForListing(ctx, listingID, userID)
	if err != nil {
		h.sendError(ctx, chatID, userID, err)
		return
	}
	if chat.Status == StatusWaiting {
		h.sendMessage(ctx, chatID, fmt.Sprintf("📨 Отклик на «%s» отправлен автору (чат #%d). Ждём подтверждения.", chat.ListingTitle, chat.ID))
		return
	}
	h.sendMessage(ctx, chatID, fmt.Sprintf("💬 Чат #%d «%s» выбран. Пишите — бот перешлёт сообщения.", chat.ID, chat.ListingTitle))
}

// HandleList — /chats.
func (h *Handler) HandleList(ctx context.Context, chatID, userID int64) {
	list, err := h.service.ListForUser(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка чтения чатов")
		h.sendMessage(ctx, chatID, "❌ Не удалось загрузить чаты")
		return
	}
	if len(list) == 0 {
		h.sendMessage(ctx, chatID, "📭 Открытых чатов нет")
		return
	}

	var sb strings.Builder
	sb.WriteString("💬 Ваши чаты:\n\n")
	actions := make([]notify.Action, 0, len(list))
	for _, c := range list {
		fmt.Fprintf(&sb, "#%d «%s» — %s\n", c.ID, c.ListingTitle, statusLabel(c.Status))
		actions = append(actions, notify.Action{
			Label: fmt.Sprintf("Перейти в #%d", c.ID),
			Data:  common.CallbackData(ActionSelect, c.ID),
		})
	}
	h.sendMessage(ctx, chatID, sb.String(), actions...)
}

// HandleSelect — /chat <id>.
func (h *Handler) HandleSelect(ctx context.Context, chatID, userID int64, args []string) {
	id, ok := parseID(args)
	if !ok {
		h.sendMessage(ctx, chatID, "❌ Формат: /chat <номер чата>")
		return
	}
	chat, err := h.service.Select(ctx, userID, id)
	if err != nil {
		h.sendError(ctx, chatID, userID, err)
		return
	}
	h.sendMessage(ctx, chatID, fmt.Sprintf("💬 Текущий чат: #%d «%s»", chat.ID, chat.ListingTitle))
}

// HandleClose — /close [id]. Без аргумента закрывается текущий чат.
func (h *Handler) HandleClose(ctx context.Context, chatID, userID int64, args []string) {
	id, ok := parseID(args)
	if !ok {
		chat, err := h.service.CurrentChatFor(ctx, userID)
		if err != nil {
			h.sendError(ctx, chatID, userID, err)
			return
		}
		id = chat.ID
	}
	if err := h.service.Close(ctx, id, userID); err != nil {
		h.sendError(ctx, chatID, userID, err)
		return
	}
	h.sendMessage(ctx, chatID, fmt.Sprintf("🔒 Чат #%d закрыт", id))
}

// HandleText пересылает текст в текущий чат пользователя.
func (h *Handler) HandleText(ctx context.Context, chatID, userID int64, text string) bool {
	chat, err := h.service.CurrentChatFor(ctx, userID)
	if err != nil {
		return false
	}
	res, err := h.service.Relay(ctx, chat.ID, userID, text)
	if err != nil {
		h.sendError(ctx, chatID, userID, err)
		return true
	}
	if !res.Forwarded {
		log.WithFields(log.Fields{
			"chat_id": chat.ID,
			"user_id": userID,
		}).Debug("Сообщение задержано антиспамом")
	}
	return true
}

// HandlePhoto пересылает фото в текущий чат. false — чат не выбран.
func (h *Handler) HandlePhoto(ctx context.Context, chatID, userID int64, fileID, caption string) bool {
	chat, err := h.service.CurrentChatFor(ctx, userID)
	if err != nil {
		return false
	}
	res, err := h.service.RelayPhoto(ctx, chat.ID, userID, fileID, caption)
	if err != nil {
		h.sendError(ctx, chatID, userID, err)
		return true
	}
	if !res.Forwarded {
		log.WithFields(log.Fields{
			"chat_id": chat.ID,
			"user_id": userID,
		}).Debug("Фото задержано антиспамом")
	}
	return true
}

// HandleCallback — кнопки чатов.
func (h *Handler) HandleCallback(ctx context.Context, userID int64, cb common.Callback) (string, bool) {
	var err error
	answer := "✅"
	switch cb.Action {
	case ActionAccept:
		_, err = h.service.Accept(ctx, cb.ID, userID)
		answer = "✅ Отклик принят"
	case ActionClose:
		err = h.service.Close(ctx, cb.ID, userID)
		answer = "🔒 Чат закрыт"
	case ActionSelect:
		_, err = h.service.Select(ctx, userID, cb.ID)
		answer = fmt.Sprintf("💬 Чат #%d", cb.ID)
	default:
		return "", false
	}
	if err != nil {
		return common.UserMessage(err), true
	}
	return answer, true
}

func (h *Handler) sendError(ctx context.Context, chatID, userID int64, err error) {
	log.WithError(err).WithField("user_id", userID).Debug("Действие с чатом отклонено")
	h.sendMessage(ctx, chatID, common.UserMessage(err))
}

func (h *Handler) sendMessage(ctx context.Context, chatID int64, text string, actions ...notify.Action) {
	notify.Best(ctx, h.notifier, chatID, text, actions...)
}

func statusLabel(s Status) string {
	switch s {
	case StatusWaiting:
		return "ждёт ответа автора"
	case StatusActive:
		return "активен"
	case StatusTransaction:
		return "идёт сделка"
	default:
		return "закрыт"
	}
}

func parseID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}
