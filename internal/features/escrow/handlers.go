// Package escrow — handlers.go обрабатывает команды и кнопки участников сделки:
// /deal (начать сделку в текущем чате), /deals (мои сделки), /tx <id> (карточка сделки),
// ввод цены и реквизитов, видео-проверку продавца.
package escrow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/chats"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// ChatLocator находит текущий чат пользователя (реализуется chats.Service).
type ChatLocator interface {
	CurrentChatFor(ctx context.Context, userID int64) (*chats.Chat, error)
}

// Handler обрабатывает действия участников сделок.
type Handler struct {
	service  *Service
	chats    ChatLocator
	notifier notify.Notifier
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, chatLocator ChatLocator, notifier notify.Notifier) *Handler {
	return &Handler{service: service, chats: chatLocator, notifier: notifier}
}

// HandleDeal — /deal [id чата]. Без аргумента берётся текущий чат.
func (h *Handler) HandleDeal(ctx context.Context, chatID, userID int64, args []string) {
	var targetChat int64
	if len(args) > 0 {
		id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
		if err != nil || id <= 0 {
			h.sendMessage(ctx, chatID, "❌ Формат: /deal [номер чата]")
			return
		}
		targetChat = id
	} else {
		chat, err := h.chats.CurrentChatFor(ctx, userID)
		if err != nil {
			h.sendMessage(ctx, chatID, "❌ Нет активного чата. Откройте чат по объявлению.")
			return
		}
		targetChat = chat.ID
	}

	if _, err := h.service.StartNegotiation(ctx, targetChat, userID); err != nil {
		h.sendError(ctx, chatID, userID, err)
	}
}

// HandleDeals — /deals, последние сделки пользователя.
func (h *Handler) HandleDeals(ctx context.Context, chatID, userID int64) {
	list, err := h.service.ListForUser(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка чтения сделок")
		h.sendMessage(ctx, chatID, "❌ Не удалось загрузить сделки")
		return
	}
	if len(list) == 0 {
		h.sendMessage(ctx, chatID, "📭 У вас пока нет сделок")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 Ваши сделки:\n\n")
	for _, t := range list {
		fmt.Fprintf(&sb, "#%d «%s» — %s, %s (%s)\n",
			t.ID, t.Title, common.FormatMoney(t.Amount), t.Status.Label(), t.RoleOf(userID))
	}
	sb.WriteString("\nПодробнее: /tx <номер>")
	h.sendMessage(ctx, chatID, sb.String())
}

// HandleTransaction — /tx <id>, карточка сделки с кнопками по статусу.
func (h *Handler) HandleTransaction(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) == 0 {
		h.sendMessage(ctx, chatID, "❌ Формат: /tx <номер сделки>")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		h.sendMessage(ctx, chatID, "❌ Номер сделки должен быть числом")
		return
	}
	t, err := h.service.GetForParty(ctx, id, userID)
	if err != nil {
		h.sendError(ctx, chatID, userID, err)
		return
	}

	var actions []notify.Action
	switch t.Status {
	case StatusInProgress:
		actions = partyActions(t.ID)
	case StatusPaymentPending, StatusVerificationPending:
		actions = partyActions(t.ID)[1:2]
	}
	h.sendMessage(ctx, chatID, Summary(t), actions...)
}

// HandleText передаёт текст в согласование, если оно ждёт ввода от пользователя.
func (h *Handler) HandleText(ctx context.Context, chatID, userID int64, text string) bool {
	handled, err := h.service.HandleDraftInput(ctx, userID, text)
	if handled && err != nil {
		h.sendError(ctx, chatID, userID, err)
	}
	return handled
}

// HandleVideoNote — продавец прислал кружок для сделки на проверке.
func (h *Handler) HandleVideoNote(ctx context.Context, chatID, userID int64, fileID string) bool {
	list, err := h.service.ListForUser(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка чтения сделок")
		return false
	}
	for _, t := range list {
		if t.SellerID != userID || t.Status != StatusVerificationPending {
			continue
		}
		if _, err := h.service.SubmitVerificationEvidence(ctx, t.ID, userID, fileID); err != nil {
			h.sendError(ctx, chatID, userID, err)
		}
		return true
	}
	return false
}

// HandleCallback обрабатывает кнопки согласования и сделки.
// Возвращает текст всплывающего ответа и признак, что кнопка наша.
func (h *Handler) HandleCallback(ctx context.Context, userID int64, cb common.Callback) (string, bool) {
	var err error
	answer := "✅"

	switch cb.Action {
	case ActionPriceAccept:
		_, err = h.service.RespondToPrice(ctx, cb.ID, userID, true)
	case ActionPriceReject:
		_, err = h.service.RespondToPrice(ctx, cb.ID, userID, false)
	case ActionPayer:
		_, err = h.service.ChooseCommissionPayer(ctx, cb.ID, userID, cb.Arg)
	case ActionMethod:
		_, err = h.service.ChoosePaymentMethod(ctx, cb.ID, userID, cb.Arg)
	case ActionConfirm:
		_, err = h.service.ConfirmDraft(ctx, cb.ID, userID)
	case ActionAbort:
		err = h.service.CancelNegotiation(ctx, cb.ID, userID)
		answer = "Оформление отменено"
	case ActionDone:
		_, err = h.service.ConfirmCompletion(ctx, cb.ID, userID)
	case ActionCancel:
		_, err = h.service.RequestCancel(ctx, cb.ID, userID)
	case ActionCancelYes:
		_, err = h.service.ConfirmCancel(ctx, cb.ID, userID)
	case ActionCancelNo:
		_, err = h.service.DeclineCancel(ctx, cb.ID, userID)
	case ActionHelp:
		_, err = h.service.RequestHelp(ctx, cb.ID, userID)
	default:
		return "", false
	}

	if err != nil {
		logHandlerError(err, userID, cb.Action)
		return common.UserMessage(err), true
	}
	return answer, true
}

func (h *Handler) sendError(ctx context.Context, chatID, userID int64, err error) {
	logHandlerError(err, userID, "")
	h.sendMessage(ctx, chatID, common.UserMessage(err))
}

func (h *Handler) sendMessage(ctx context.Context, chatID int64, text string, actions ...notify.Action) {
	notify.Best(ctx, h.notifier, chatID, text, actions...)
}

func logHandlerError(err error, userID int64, action string) {
	entry := log.WithError(err).WithField("user_id", userID)
	if action != "" {
		entry = entry.WithField("action", action)
	}
	entry.Debug("Действие со сделкой отклонено")
}
