// Package admin — handlers.go: панель модератора.
// Вход по паролю (/login), решения по кнопкам заявок, пошаговые диалоги:
// причина отказа или отмены, срок продления сделки.
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/escrow"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/features/trustfilter"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Коды ожидающих действий, для которых нужен ввод текста.
const (
	pendingVerificationReject = "verify_reject"
	pendingCancel             = "cancel"
	pendingExtend             = "extend"
)

const maxExtendHours = 24 * 7

// Handler обрабатывает действия модераторов.
type Handler struct {
	service  *Service
	escrow   *escrow.Service
	trust    *trustfilter.Service
	gateway  *moderation.Gateway
	notifier notify.Notifier
}

// NewHandler создаёт обработчик панели модератора.
func NewHandler(
	service *Service,
	escrowService *escrow.Service,
	trust *trustfilter.Service,
	gateway *moderation.Gateway,
	notifier notify.Notifier,
) *Handler {
	return &Handler{
		service:  service,
		escrow:   escrowService,
		trust:    trust,
		gateway:  gateway,
		notifier: notifier,
	}
}

// HandleLogin — /login [пароль]. Без пароля бот спросит его следующим сообщением.
func (h *Handler) HandleLogin(ctx context.Context, chatID, userID int64, args []string) {
	if !h.service.IsAdmin(userID) {
		h.sendMessage(ctx, chatID, common.UserMessage(common.ErrNotAdmin))
		return
	}
	if len(args) == 0 {
		h.service.SetState(userID, StateAwaitingPassword, Pending{})
		h.sendMessage(ctx, chatID, "🔐 Введите пароль модератора:")
		return
	}
	h.handlePasswordInput(ctx, chatID, userID, strings.Join(args, " "))
}

// HandleLogout — /logout.
func (h *Handler) HandleLogout(ctx context.Context, chatID, userID int64) {
	if !h.service.IsAdmin(userID) {
		return
	}
	if err := h.service.Logout(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка завершения сессии")
		h.sendMessage(ctx, chatID, "❌ Не удалось завершить сессию")
		return
	}
	h.sendMessage(ctx, chatID, "👋 Сессия завершена")
}

// HandleAdminMessage обрабатывает текст модератора в личных сообщениях,
// если идёт пошаговый диалог. Возвращает true, если сообщение обработано.
func (h *Handler) HandleAdminMessage(ctx context.Context, chatID, userID int64, text string) bool {
	if !h.service.IsAdmin(userID) {
		return false
	}
	state := h.service.GetState(userID)
	if state == nil {
		return false
	}

	switch state.State {
	case StateAwaitingPassword:
		h.handlePasswordInput(ctx, chatID, userID, text)
	case StateAwaitingReason:
		h.handleReasonInput(ctx, chatID, userID, state.Pending, text)
	case StateAwaitingHours:
		h.handleHoursInput(ctx, chatID, userID, state.Pending, text)
	default:
		return false
	}
	return true
}

// HandleCallback — кнопки под заявками в группе модераторов.
func (h *Handler) HandleCallback(ctx context.Context, userID int64, cb common.Callback) (string, bool) {
	switch cb.Action {
	case trustfilter.ActionBan:
		return h.answer(h.trust.Ban(ctx, userID, cb.ID), "🚫 Заблокирован"), true
	case trustfilter.ActionUnban:
		return h.answer(h.trust.Unban(ctx, userID, cb.ID), "✅ Разблокирован"), true
	case trustfilter.ActionSuspicious:
		return h.answer(h.trust.MarkSuspicious(ctx, userID, cb.ID), "⚠️ Помечен"), true
	}

	d, ok := escrow.DecisionFromCallback(cb)
	if !ok {
		return "", false
	}
	if !h.service.IsModerator(ctx, userID) {
		return common.UserMessage(common.ErrSessionExpired), true
	}
	h.service.Touch(ctx, userID)

	// отказ в проверке и отмена требуют причину
	switch {
	case d.Kind == moderation.DecisionVerification && !d.Approve:
		h.askReason(ctx, userID, Pending{Action: pendingVerificationReject, ID: cb.ID})
		return "✏️ Укажите причину в личных сообщениях", true
	case d.Kind == moderation.DecisionCancel:
		h.askReason(ctx, userID, Pending{Action: pendingCancel, ID: cb.ID})
		return "✏️ Укажите причину в личных сообщениях", true
	}

	t, err := h.escrow.ApplyModeratorDecision(ctx, cb.ID, d, userID)
	if err != nil {
		return common.UserMessage(err), true
	}
	return fmt.Sprintf("✅ Сделка #%d: %s", t.ID, t.Status.Label()), true
}

// HandleTickets — /tickets, открытые заявки.
func (h *Handler) HandleTickets(ctx context.Context, chatID, userID int64) {
	if !h.requireSession(ctx, chatID, userID) {
		return
	}
	list, err := h.gateway.ListOpen(ctx, 20)
	if err != nil {
		log.WithError(err).Error("Ошибка чтения заявок")
		h.sendMessage(ctx, chatID, "❌ Не удалось загрузить заявки")
		return
	}
	if len(list) == 0 {
		h.sendMessage(ctx, chatID, "📭 Открытых заявок нет")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 Открытые заявки:\n\n")
	for _, t := range list {
		fmt.Fprintf(&sb, "%s %s", t.ID.String()[:8], t.Kind.Title())
		if t.TransactionID != 0 {
			fmt.Fprintf(&sb, " · сделка #%d", t.TransactionID)
		}
		fmt.Fprintf(&sb, " · %s\n", common.FormatDateTime(t.CreatedAt))
	}
	h.sendMessage(ctx, chatID, sb.String())
}

// HandleUserStatus — /ban <id>, /unban <id>.
func (h *Handler) HandleUserStatus(ctx context.Context, chatID, userID int64, cmd string, args []string) {
	if !h.requireSession(ctx, chatID, userID) {
		return
	}
	target, ok := parseID(args)
	if !ok {
		h.sendMessage(ctx, chatID, fmt.Sprintf("❌ Формат: /%s <id пользователя>", cmd))
		return
	}

	var err error
	switch cmd {
	case "ban":
		err = h.trust.Ban(ctx, userID, target)
	case "unban":
		err = h.trust.Unban(ctx, userID, target)
	default:
		return
	}
	h.sendMessage(ctx, chatID, h.answer(err, fmt.Sprintf("✅ Готово: пользователь %d", target)))
}

// HandleSpamLog — /spamlog <id>, последние срабатывания антиспама по пользователю.
func (h *Handler) HandleSpamLog(ctx context.Context, chatID, userID int64, args []string) {
	if !h.requireSession(ctx, chatID, userID) {
		return
	}
	target, ok := parseID(args)
	if !ok {
		h.sendMessage(ctx, chatID, "❌ Формат: /spamlog <id пользователя>")
		return
	}
	logs, err := h.trust.History(ctx, userID, target)
	if err != nil {
		h.sendMessage(ctx, chatID, common.UserMessage(err))
		return
	}
	if len(logs) == 0 {
		h.sendMessage(ctx, chatID, fmt.Sprintf("📭 У пользователя %d нарушений нет", target))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 Нарушения пользователя %d:\n\n", target)
	for _, l := range logs {
		fmt.Fprintf(&sb, "%s · чат #%d · %s (%d)\n%s\n\n",
			common.FormatDateTime(l.CreatedAt), l.ChatID, l.Action, l.WarningsCount, strings.Join(l.Triggers, ", "))
	}
	h.sendMessage(ctx, chatID, sb.String())
}

// HandleTransactionCommand — /cancel_tx <id> и /extend <id>: запускает диалог.
func (h *Handler) HandleTransactionCommand(ctx context.Context, chatID, userID int64, cmd string, args []string) {
	if !h.requireSession(ctx, chatID, userID) {
		return
	}
	txID, ok := parseID(args)
	if !ok {
		h.sendMessage(ctx, chatID, fmt.Sprintf("❌ Формат: /%s <номер сделки>", cmd))
		return
	}
	switch cmd {
	case "cancel_tx":
		h.askReason(ctx, userID, Pending{Action: pendingCancel, ID: txID})
	case "extend":
		h.service.SetState(userID, StateAwaitingHours, Pending{Action: pendingExtend, ID: txID})
		h.sendMessage(ctx, userID, fmt.Sprintf("⏳ На сколько часов продлить сделку #%d? (1–%d)", txID, maxExtendHours))
	}
}

func (h *Handler) handlePasswordInput(ctx context.Context, chatID, userID int64, password string) {
	h.service.ClearState(userID)
	if err := h.service.VerifyPassword(ctx, userID, strings.TrimSpace(password)); err != nil {
		h.sendMessage(ctx, chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(ctx, chatID, "✅ Вход выполнен. Решения по заявкам доступны 24 часа.\nКоманды: /tickets, /ban, /unban, /spamlog, /cancel_tx, /extend, /logout")
}

func (h *Handler) askReason(ctx context.Context, userID int64, p Pending) {
	h.service.SetState(userID, StateAwaitingReason, p)
	h.sendMessage(ctx, userID, fmt.Sprintf("✏️ Сделка #%d: напишите причину или «-» для стандартной.", p.ID))
}

func (h *Handler) handleReasonInput(ctx context.Context, chatID, userID int64, p Pending, text string) {
	h.service.ClearState(userID)
	reason := strings.TrimSpace(text)
	if reason == "-" {
		reason = ""
	}

	var d moderation.Decision
	switch p.Action {
	case pendingVerificationReject:
		d = moderation.Decision{Kind: moderation.DecisionVerification, Reason: reason}
	case pendingCancel:
		d = moderation.Decision{Kind: moderation.DecisionCancel, Reason: reason}
	default:
		return
	}
	h.applyAndReport(ctx, chatID, userID, p.ID, d)
}

func (h *Handler) handleHoursInput(ctx context.Context, chatID, userID int64, p Pending, text string) {
	hours, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || hours < 1 || hours > maxExtendHours {
		h.sendMessage(ctx, chatID, fmt.Sprintf("❌ Введите число часов от 1 до %d", maxExtendHours))
		return
	}
	h.service.ClearState(userID)
	h.applyAndReport(ctx, chatID, userID, p.ID, moderation.Decision{
		Kind:   moderation.DecisionExtend,
		Extend: time.Duration(hours) * time.Hour,
	})
}

func (h *Handler) applyAndReport(ctx context.Context, chatID, userID, txID int64, d moderation.Decision) {
	t, err := h.escrow.ApplyModeratorDecision(ctx, txID, d, userID)
	if err != nil {
		h.sendMessage(ctx, chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(ctx, chatID, fmt.Sprintf("✅ Сделка #%d: %s", t.ID, t.Status.Label()))
}

func (h *Handler) requireSession(ctx context.Context, chatID, userID int64) bool {
	if !h.service.IsAdmin(userID) {
		return false
	}
	if !h.service.HasActiveSession(ctx, userID) {
		h.sendMessage(ctx, chatID, "🔐 Сначала войдите: /login")
		return false
	}
	h.service.Touch(ctx, userID)
	return true
}

func (h *Handler) answer(err error, ok string) string {
	if err != nil {
		log.WithError(err).Debug("Действие модератора отклонено")
		return common.UserMessage(err)
	}
	return ok
}

func (h *Handler) sendMessage(ctx context.Context, chatID int64, text string) {
	notify.Best(ctx, h.notifier, chatID, text)
}

func parseID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}
