// Package moderation — service.go: шлюз между ядром сделок и модераторами.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Store — хранилище заявок и журнала (реализуется Repository).
type Store interface {
	CreateTicket(ctx context.Context, t *Ticket) error
	ResolveTickets(ctx context.Context, transactionID int64, kind Kind, reviewerID int64) (int64, error)
	ListOpen(ctx context.Context, limit int) ([]*Ticket, error)
	RecordAction(ctx context.Context, a *AdminAction) error
}

// Authorizer проверяет, может ли пользователь принимать решения модератора.
type Authorizer interface {
	IsModerator(ctx context.Context, userID int64) bool
}

// Gateway отправляет заявки модераторам и ведёт журнал их решений.
type Gateway struct {
	store    Store
	auth     Authorizer
	notifier notify.Notifier
	groupID  int64
}

// NewGateway создаёт шлюз. groupID — чат модераторов.
func NewGateway(store Store, auth Authorizer, notifier notify.Notifier, groupID int64) *Gateway {
	return &Gateway{store: store, auth: auth, notifier: notifier, groupID: groupID}
}

// SubmitForReview сохраняет заявку и отправляет её в группу модераторов с кнопками решений.
// Сбой доставки не отменяет заявку: она остаётся в списке открытых.
func (g *Gateway) SubmitForReview(ctx context.Context, kind Kind, subject Subject, evidence map[string]string, actions ...notify.Action) (*Ticket, error) {
	t := &Ticket{
		ID:            uuid.New(),
		Kind:          kind,
		TransactionID: subject.TransactionID,
		UserID:        subject.UserID,
		Text:          subject.Text,
		Evidence:      evidence,
		Status:        TicketOpen,
	}
	if t.Evidence == nil {
		t.Evidence = map[string]string{}
	}
	if err := g.store.CreateTicket(ctx, t); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"ticket_id":      t.ID,
		"kind":           kind,
		"transaction_id": subject.TransactionID,
		"user_id":        subject.UserID,
	}).Info("Заявка отправлена модераторам")

	notify.Best(ctx, g.notifier, g.groupID, FormatTicket(t), actions...)
	if fileID := t.Evidence["video_note"]; fileID != "" {
		notify.BestVideoNote(ctx, g.notifier, g.groupID, fileID)
	}
	return t, nil
}

// Authorize проверяет права модератора.
func (g *Gateway) Authorize(ctx context.Context, reviewerID int64) error {
	if g.auth == nil || !g.auth.IsModerator(ctx, reviewerID) {
		return fmt.Errorf("модератор %d: %w", reviewerID, common.ErrForbidden)
	}
	return nil
}

// auditTries — сколько раз пробуем записать решение в admin_actions.
const auditTries = 4

// Record пишет решение модератора в журнал, повторяя запись при сбоях базы.
// Если журнал так и не принял запись, она уходит в группу модераторов,
// а вызывающий получает ErrAuditWrite.
func (g *Gateway) Record(ctx context.Context, a AdminAction) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		entry := a
		return struct{}{}, g.store.RecordAction(ctx, &entry)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(auditTries))
	if err == nil {
		return nil
	}

	log.WithError(err).WithFields(log.Fields{
		"admin_id":       a.AdminID,
		"action":         a.Action,
		"transaction_id": a.TransactionID,
		"target_user_id": a.TargetUserID,
		"outcome":        a.Outcome,
	}).Error("Не удалось записать действие модератора")
	notify.Best(ctx, g.notifier, g.groupID, fmt.Sprintf(
		"📝 Журнал недоступен, запись сохранена здесь:\nмодератор %d · %s · сделка #%d · пользователь %d · %s\n%s",
		a.AdminID, a.Action, a.TransactionID, a.TargetUserID, a.Outcome, a.Details,
	))
	return fmt.Errorf("%s: %w: %v", a.Action, common.ErrAuditWrite, err)
}

// ResolveTickets закрывает открытые заявки по сделке.
func (g *Gateway) ResolveTickets(ctx context.Context, transactionID int64, kind Kind, reviewerID int64) {
	n, err := g.store.ResolveTickets(ctx, transactionID, kind, reviewerID)
	if err != nil {
		log.WithError(err).WithField("transaction_id", transactionID).Warn("Не удалось закрыть заявки")
		return
	}
	if n > 0 {
		log.WithFields(log.Fields{
			"transaction_id": transactionID,
			"kind":           kind,
			"resolved":       n,
		}).Debug("Заявки закрыты")
	}
}

// ListOpen возвращает открытые заявки.
func (g *Gateway) ListOpen(ctx context.Context, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	return g.store.ListOpen(ctx, limit)
}

// NotifyModerators отправляет сообщение в группу модераторов без создания заявки.
func (g *Gateway) NotifyModerators(ctx context.Context, text string, actions ...notify.Action) {
	notify.Best(ctx, g.notifier, g.groupID, text, actions...)
}

// OutcomeOf сопоставляет ошибку применения решения с исходом для журнала.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, common.ErrInvalidStateTransition):
		return OutcomeInvalidState
	case errors.Is(err, common.ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, common.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, common.ErrConcurrencyConflict):
		return OutcomeConflict
	default:
		return OutcomeFailed
	}
}

// FormatTicket — текст заявки для группы модераторов.
func FormatTicket(t *Ticket) string {
	var b strings.Builder
	b.WriteString(t.Kind.Title())
	if t.TransactionID != 0 {
		fmt.Fprintf(&b, " · сделка #%d", t.TransactionID)
	}
	b.WriteString("\n\n")
	b.WriteString(t.Text)

	keys := make([]string, 0, len(t.Evidence))
	for k := range t.Evidence {
		if k == "video_note" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, t.Evidence[k])
		}
	}
	fmt.Fprintf(&b, "\n\nЗаявка %s", t.ID.String()[:8])
	return b.String()
}
