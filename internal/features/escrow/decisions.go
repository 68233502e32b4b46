// Package escrow — decisions.go: решения модераторов по сделкам.
package escrow

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// ApplyModeratorDecision применяет решение модератора.
// Каждое решение попадает в журнал admin_actions, в том числе отклонённое.
func (s *Service) ApplyModeratorDecision(ctx context.Context, txID int64, d moderation.Decision, reviewerID int64) (*Transaction, error) {
	t, err := s.applyDecision(ctx, txID, d, reviewerID)

	a := moderation.AdminAction{
		AdminID:       reviewerID,
		Action:        decisionAction(d),
		TransactionID: txID,
		Outcome:       moderation.OutcomeOf(err),
		Details:       d.Reason,
	}
	if d.Kind == moderation.DecisionExtend {
		a.Details = d.Extend.String()
	}
	if err != nil {
		a.Details = err.Error()
	}
	if aerr := s.gateway.Record(ctx, a); aerr != nil && err == nil {
		// решение уже применено, журнал продублирован в группу модераторов
		log.WithError(aerr).WithField("transaction_id", txID).Error("Решение применено без записи в журнал")
	}

	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"transaction_id": txID,
			"decision":       a.Action,
			"reviewer_id":    reviewerID,
		}).Warn("Решение модератора не применено")
		return nil, err
	}
	return t, nil
}

func (s *Service) applyDecision(ctx context.Context, txID int64, d moderation.Decision, reviewerID int64) (*Transaction, error) {
	if err := s.gateway.Authorize(ctx, reviewerID); err != nil {
		return nil, err
	}
	t, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}

	switch d.Kind {
	case moderation.DecisionPayment:
		if d.Approve {
			return s.approvePayment(ctx, t, reviewerID)
		}
		return s.rejectIn(ctx, t, StatusPaymentPending, ReasonPaymentNotReceived, reviewerID, moderation.KindPayment)
	case moderation.DecisionVerification:
		if d.Approve {
			return s.approveVerification(ctx, t, reviewerID)
		}
		reason := d.Reason
		if reason == "" {
			reason = ReasonVerificationFailed
		}
		return s.rejectIn(ctx, t, StatusVerificationPending, reason, reviewerID, moderation.KindVerification)
	case moderation.DecisionPayout:
		if !d.Approve {
			return nil, common.Invalid("", "выплату можно только подтвердить")
		}
		return s.payOut(ctx, t, reviewerID)
	case moderation.DecisionCancel:
		reason := d.Reason
		if reason == "" {
			reason = ReasonCancelledByModerator
		}
		next, err := s.cancel(ctx, t, reason, reviewerID)
		if err != nil {
			return nil, err
		}
		s.gateway.ResolveTickets(ctx, t.ID, moderation.KindOverdue, reviewerID)
		if t.Status == StatusDisputed {
			s.gateway.ResolveTickets(ctx, t.ID, moderation.KindDispute, reviewerID)
		}
		return next, nil
	case moderation.DecisionExtend:
		return s.extend(ctx, t, d, reviewerID)
	default:
		return nil, common.Invalid("", "неизвестное решение %q", d.Kind)
	}
}

func (s *Service) approvePayment(ctx context.Context, t *Transaction, reviewerID int64) (*Transaction, error) {
	phrase := s.pickPhrase(s.settings.Phrases)
	next, err := s.transition(ctx, t, StatusVerificationPending, Change{VerificationPhrase: phrase}, reviewerID)
	if err != nil {
		return nil, err
	}
	s.gateway.ResolveTickets(ctx, t.ID, moderation.KindPayment, reviewerID)

	notify.Best(ctx, s.notifier, next.SellerID, fmt.Sprintf(
		"✅ Оплата по сделке #%d получена гарантом.\n\n🎥 Запишите видеосообщение (кружок), произнесите фразу:\n«%s»\nи покажите товар. Отправьте кружок сюда.",
		next.ID, phrase,
	))
	notify.Best(ctx, s.notifier, next.BuyerID, fmt.Sprintf(
		"✅ Оплата по сделке #%d подтверждена. Ждём видео-проверку продавца.", next.ID,
	))
	return next, nil
}

func (s *Service) approveVerification(ctx context.Context, t *Transaction, reviewerID int64) (*Transaction, error) {
	next, err := s.transition(ctx, t, StatusInProgress, Change{MarkVerified: true}, reviewerID)
	if err != nil {
		return nil, err
	}
	s.gateway.ResolveTickets(ctx, t.ID, moderation.KindVerification, reviewerID)

	text := fmt.Sprintf(
		"🎉 Продавец прошёл проверку. Сделка #%d в процессе.\nПередайте товар и подтвердите завершение до %s.",
		next.ID, common.FormatDateTime(next.CompletionDeadline),
	)
	notify.Best(ctx, s.notifier, next.SellerID, text, partyActions(next.ID)...)
	notify.Best(ctx, s.notifier, next.BuyerID, text, partyActions(next.ID)...)
	return next, nil
}

// rejectIn отменяет сделку, только если она ещё в статусе from.
func (s *Service) rejectIn(ctx context.Context, t *Transaction, from Status, reason string, reviewerID int64, kind moderation.Kind) (*Transaction, error) {
	if t.Status != from {
		return nil, invalidTransition(t, StatusCancelled)
	}
	next, err := s.cancel(ctx, t, reason, reviewerID)
	if err != nil {
		return nil, err
	}
	s.gateway.ResolveTickets(ctx, t.ID, kind, reviewerID)
	return next, nil
}

// cancel переводит сделку в «отменена» и сообщает обеим сторонам.
func (s *Service) cancel(ctx context.Context, t *Transaction, reason string, actor int64) (*Transaction, error) {
	next, err := s.transition(ctx, t, StatusCancelled, Change{CancelReason: reason}, actor)
	if err != nil {
		return nil, err
	}
	if err := s.consensus.Reset(ctx, t.ID); err != nil {
		log.WithError(err).WithField("transaction_id", t.ID).Warn("Не удалось сбросить подтверждения")
	}

	text := fmt.Sprintf("🚫 Сделка #%d отменена.\nПричина: %s", next.ID, CancelReasonLabel(reason))
	if t.Status != StatusPaymentPending {
		text += "\nСредства будут возвращены покупателю."
	}
	notify.Best(ctx, s.notifier, next.SellerID, text)
	notify.Best(ctx, s.notifier, next.BuyerID, text)
	return next, nil
}

func (s *Service) payOut(ctx context.Context, t *Transaction, reviewerID int64) (*Transaction, error) {
	if !CanTransition(t.Status, StatusPaidOut) {
		return nil, invalidTransition(t, StatusPaidOut)
	}
	next, err := s.store.PayOut(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, s.casMiss(ctx, t, StatusPaidOut)
	}
	logTransition(t.ID, t.Status, StatusPaidOut, reviewerID)
	s.gateway.ResolveTickets(ctx, t.ID, moderation.KindPayout, reviewerID)

	br, _ := next.Breakdown()
	notify.Best(ctx, s.notifier, next.SellerID, fmt.Sprintf(
		"💸 Выплата по сделке #%d проведена: %s.\nОцените покупателя:", next.ID, common.FormatMoney(br.SellerReceives),
	), rateActions(next.ID)...)
	notify.Best(ctx, s.notifier, next.BuyerID, fmt.Sprintf(
		"✅ Сделка #%d завершена. Спасибо!\nОцените продавца:", next.ID,
	), rateActions(next.ID)...)
	return next, nil
}

func (s *Service) extend(ctx context.Context, t *Transaction, d moderation.Decision, reviewerID int64) (*Transaction, error) {
	if d.Extend <= 0 {
		return nil, common.Invalid("", "срок продления должен быть положительным")
	}
	if t.Status != StatusInProgress {
		return nil, fmt.Errorf("сделка #%d в статусе %s: продление недоступно: %w", t.ID, t.Status, common.ErrInvalidStateTransition)
	}
	next, err := s.store.Extend(ctx, t.ID, d.Extend)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, fmt.Errorf("сделка #%d: продление: %w", t.ID, common.ErrInvalidStateTransition)
	}
	s.gateway.ResolveTickets(ctx, t.ID, moderation.KindOverdue, reviewerID)

	log.WithFields(log.Fields{
		"transaction_id": t.ID,
		"extend":         d.Extend,
		"actor":          reviewerID,
	}).Info("Срок сделки продлён")

	text := fmt.Sprintf("⏳ Модератор продлил сделку #%d до %s.", next.ID, common.FormatDateTime(next.CompletionDeadline))
	notify.Best(ctx, s.notifier, next.SellerID, text)
	notify.Best(ctx, s.notifier, next.BuyerID, text)
	return next, nil
}

func decisionAction(d moderation.Decision) string {
	switch d.Kind {
	case moderation.DecisionCancel, moderation.DecisionExtend, moderation.DecisionPayout:
		return string(d.Kind)
	}
	if d.Approve {
		return string(d.Kind) + "_approve"
	}
	return string(d.Kind) + "_reject"
}
