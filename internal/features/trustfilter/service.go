// Package trustfilter — service.go: проверка сообщений и эскалация нарушителей.
package trustfilter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/features/users"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Коды кнопок модератора.
const (
	ActionBan        = "mod_ban"
	ActionUnban      = "mod_unban"
	ActionSuspicious = "mod_susp"
)

const excerptLen = 200

// Store — журнал антиспама (реализуется Repository).
type Store interface {
	RecordViolation(ctx context.Context, msg Message, triggers []string, threshold int) (*AntiSpamLog, error)
	ListForUser(ctx context.Context, userID int64, limit int) ([]*AntiSpamLog, error)
}

// UserStatuses — чтение и смена статуса пользователя (реализуется users.Service).
type UserStatuses interface {
	Get(ctx context.Context, userID int64) (*users.User, error)
	SetStatus(ctx context.Context, userID int64, status users.Status) (*users.User, error)
}

// Service проверяет сообщения и применяет политику предупреждений.
type Service struct {
	detector  *Detector
	store     Store
	users     UserStatuses
	gateway   *moderation.Gateway
	notifier  notify.Notifier
	threshold int
}

// NewService создаёт сервис. threshold — число предупреждений до бана.
func NewService(detector *Detector, store Store, userStatuses UserStatuses, gateway *moderation.Gateway, notifier notify.Notifier, threshold int) *Service {
	if threshold <= 0 {
		threshold = 3
	}
	return &Service{
		detector:  detector,
		store:     store,
		users:     userStatuses,
		gateway:   gateway,
		notifier:  notifier,
		threshold: threshold,
	}
}

// Inspect проверяет сообщение. При срабатывании сообщение никогда не пересылается,
// отправитель получает предупреждение, модераторы получают уведомление.
func (s *Service) Inspect(ctx context.Context, msg Message) (Result, error) {
	triggers := s.detector.Detect(msg.Text)
	if len(triggers) == 0 {
		return Result{Verdict: Allow}, nil
	}

	entry, err := s.store.RecordViolation(ctx, msg, triggers, s.threshold)
	if errors.Is(err, common.ErrUserBanned) {
		return Result{Verdict: Suppress}, nil
	}
	if err != nil {
		return Result{Verdict: Suppress}, fmt.Errorf("антиспам: %w", err)
	}

	log.WithFields(log.Fields{
		"user_id":  msg.SenderID,
		"chat_id":  msg.ChatID,
		"triggers": triggers,
		"action":   entry.Action,
		"warnings": entry.WarningsCount,
	}).Warn("Сработал антиспам")

	s.gateway.NotifyModerators(ctx, s.moderatorReport(ctx, entry),
		notify.Action{Label: "✅ Разбанить", Data: common.CallbackData(ActionUnban, msg.SenderID)},
		notify.Action{Label: "⚠️ Подозрительный", Data: common.CallbackData(ActionSuspicious, msg.SenderID)},
		notify.Action{Label: "🚫 Забанить", Data: common.CallbackData(ActionBan, msg.SenderID)},
	)

	if entry.Action == ActionBanned {
		notify.Best(ctx, s.notifier, msg.SenderID,
			"🚫 Вы заблокированы за попытки провести сделку в обход гаранта.\nСообщение не доставлено.")
	} else {
		notify.Best(ctx, s.notifier, msg.SenderID, fmt.Sprintf(
			"⚠️ Предупреждение %d/%d\nОбмен контактами и сделки в обход гаранта запрещены. Сообщение не доставлено.",
			entry.WarningsCount, s.threshold))
	}

	return Result{Verdict: Suppress, Log: entry}, nil
}

// History — последние срабатывания антиспама по пользователю. Только для модераторов.
func (s *Service) History(ctx context.Context, moderatorID, userID int64) ([]*AntiSpamLog, error) {
	if err := s.gateway.Authorize(ctx, moderatorID); err != nil {
		return nil, err
	}
	return s.store.ListForUser(ctx, userID, 10)
}

// Ban блокирует пользователя по решению модератора.
func (s *Service) Ban(ctx context.Context, moderatorID, userID int64) error {
	return s.moderate(ctx, moderatorID, userID, users.StatusBanned, ActionBan,
		"🚫 Вы заблокированы модератором.")
}

// Unban снимает блокировку и обнуляет предупреждения.
func (s *Service) Unban(ctx context.Context, moderatorID, userID int64) error {
	return s.moderate(ctx, moderatorID, userID, users.StatusActive, ActionUnban,
		"✅ Блокировка снята, предупреждения обнулены.")
}

// MarkSuspicious помечает пользователя подозрительным.
func (s *Service) MarkSuspicious(ctx context.Context, moderatorID, userID int64) error {
	return s.moderate(ctx, moderatorID, userID, users.StatusSuspicious, ActionSuspicious, "")
}

func (s *Service) moderate(ctx context.Context, moderatorID, userID int64, status users.Status, action, userText string) error {
	err := s.gateway.Authorize(ctx, moderatorID)
	if err == nil {
		_, err = s.users.SetStatus(ctx, userID, status)
	}

	if aerr := s.gateway.Record(ctx, moderation.AdminAction{
		AdminID:      moderatorID,
		Action:       action,
		TargetUserID: userID,
		Outcome:      moderation.OutcomeOf(err),
		Details:      string(status),
	}); aerr != nil && err == nil {
		log.WithError(aerr).WithField("user_id", userID).Error("Статус изменён без записи в журнал")
	}
	if err != nil {
		return err
	}

	if userText != "" {
		notify.Best(ctx, s.notifier, userID, userText)
	}
	return nil
}

func (s *Service) moderatorReport(ctx context.Context, entry *AntiSpamLog) string {
	name := fmt.Sprintf("id%d", entry.UserID)
	if u, err := s.users.Get(ctx, entry.UserID); err == nil {
		name = fmt.Sprintf("%s (id%d)", u.DisplayName(), entry.UserID)
	}

	result := fmt.Sprintf("предупреждение %d/%d", entry.WarningsCount, s.threshold)
	if entry.Action == ActionBanned {
		result = "заблокирован"
	}

	return fmt.Sprintf("%s\n\nОтправитель: %s\nЧат: #%d\nСработало: %s\nРезультат: %s\n\n«%s»",
		moderation.KindSpam.Title(), name, entry.ChatID,
		strings.Join(entry.Triggers, ", "), result, excerpt(entry.MessageText))
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptLen {
		return text
	}
	return string(r[:excerptLen]) + "…"
}
