// Package escrow — lifecycle.go: действия участников сделки и проверка дедлайнов.
package escrow

import (
	"context"
	"fmt"
	"time"
	"unicode"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// requiredConfirmations — обе стороны.
const requiredConfirmations = 2

// overdueBatch — сколько просроченных сделок обрабатывает один проход.
const overdueBatch = 100

// SubmitVerificationEvidence — продавец прислал кружок с фразой. Заявка уходит модераторам.
func (s *Service) SubmitVerificationEvidence(ctx context.Context, txID, sellerID int64, fileID string) (*moderation.Ticket, error) {
	t, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.SellerID != sellerID {
		return nil, common.ErrNotParty
	}
	if t.Status != StatusVerificationPending {
		return nil, fmt.Errorf("сделка #%d в статусе %s: %w", t.ID, t.Status, common.ErrInvalidStateTransition)
	}
	if fileID == "" {
		return nil, common.Invalid("", "пришлите видеосообщение (кружок)")
	}

	ticket, err := s.gateway.SubmitForReview(ctx, moderation.KindVerification,
		moderation.Subject{
			TransactionID: t.ID,
			UserID:        sellerID,
			Text:          "Продавец прислал видео-проверку.\n" + moderatorCard(t),
		},
		map[string]string{"phrase": t.VerificationPhrase, "video_note": fileID},
		verificationReviewActions(t.ID)...,
	)
	if err != nil {
		return nil, err
	}
	notify.Best(ctx, s.notifier, sellerID, "📨 Видео отправлено модераторам. Ожидайте проверки.")
	return ticket, nil
}

// ConfirmCompletion — участник подтверждает, что сделка выполнена.
// Второе подтверждение переводит сделку в «ожидает выплаты» и создаёт заявку на выплату.
func (s *Service) ConfirmCompletion(ctx context.Context, txID, partyID int64) (*Transaction, error) {
	t, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(partyID) {
		return nil, common.ErrNotParty
	}
	if t.Status != StatusInProgress {
		return nil, invalidTransition(t, StatusCompleted)
	}

	res, err := s.consensus.Confirm(ctx, t.ID, partyID, requiredConfirmations)
	if err != nil {
		return nil, fmt.Errorf("подтверждение сделки #%d: %w", t.ID, err)
	}
	if !res.QuorumReached {
		if res.Confirmed >= requiredConfirmations {
			// кворум уже забрал параллельный вызов
			return s.afterForeignQuorum(ctx, t)
		}
		notify.Best(ctx, s.notifier, partyID, "✅ Подтверждение принято. Ждём вторую сторону.")
		notify.Best(ctx, s.notifier, t.Counterpart(partyID), fmt.Sprintf(
			"ℹ️ %s подтвердил завершение сделки #%d. Подтвердите и вы, если всё в порядке.",
			capitalize(t.RoleOf(partyID)), t.ID,
		), partyActions(t.ID)[0])
		return t, nil
	}

	now := s.now()
	next, err := s.transition(ctx, t, StatusCompleted, Change{CompletedAt: &now}, partyID)
	if err != nil {
		if rerr := s.consensus.Release(ctx, t.ID); rerr != nil {
			log.WithError(rerr).WithField("transaction_id", t.ID).Error("Не удалось вернуть кворум после ошибки перехода")
		}
		return nil, err
	}

	br, _ := next.Breakdown()
	if _, err := s.gateway.SubmitForReview(ctx, moderation.KindPayout,
		moderation.Subject{
			TransactionID: next.ID,
			UserID:        next.SellerID,
			Text:          "Обе стороны подтвердили завершение. Нужна выплата продавцу.\n" + moderatorCard(next),
		},
		map[string]string{"seller_receives": br.SellerReceives.StringFixed(2)},
		payoutReviewActions(next.ID)...,
	); err != nil {
		log.WithError(err).WithField("transaction_id", next.ID).Error("Не удалось создать заявку на выплату")
	}

	text := fmt.Sprintf("🤝 Обе стороны подтвердили сделку #%d. Модератор проведёт выплату продавцу.", next.ID)
	notify.Best(ctx, s.notifier, next.SellerID, text)
	notify.Best(ctx, s.notifier, next.BuyerID, text)
	return next, nil
}

// afterForeignQuorum отвечает стороне, чьё подтверждение пришло после кворума.
// Пока сделка не стала «завершена», переход ещё выполняется или сорвался.
func (s *Service) afterForeignQuorum(ctx context.Context, t *Transaction) (*Transaction, error) {
	cur, err := s.store.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if cur.Status == StatusInProgress {
		return nil, fmt.Errorf("сделка #%d: подтверждение ещё обрабатывается: %w", t.ID, common.ErrConcurrencyConflict)
	}
	return cur, nil
}

// RequestCancel — участник просит отменить сделку. Отмена требует согласия второй стороны.
// Если вторая сторона уже просила отмену, запрос считается согласием.
func (s *Service) RequestCancel(ctx context.Context, txID, partyID int64) (*Transaction, error) {
	t, err := s.partyCancellable(ctx, txID, partyID)
	if err != nil {
		return nil, err
	}
	if t.CancelRequestedBy == t.Counterpart(partyID) {
		return s.cancel(ctx, t, ReasonMutualAgreement, partyID)
	}
	if t.CancelRequestedBy == partyID {
		return t, nil
	}

	ok, err := s.store.SetCancelRequest(ctx, t.ID, t.Status, partyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.casMiss(ctx, t, StatusCancelled)
	}
	t.CancelRequestedBy = partyID

	log.WithFields(log.Fields{
		"transaction_id": t.ID,
		"actor":          partyID,
	}).Info("Запрошена отмена сделки")

	notify.Best(ctx, s.notifier, t.Counterpart(partyID), fmt.Sprintf(
		"❓ %s просит отменить сделку #%d. Согласны?", capitalize(t.RoleOf(partyID)), t.ID,
	),
		notify.Action{Label: "✅ Да, отменить", Data: common.CallbackData(ActionCancelYes, t.ID)},
		notify.Action{Label: "❌ Нет", Data: common.CallbackData(ActionCancelNo, t.ID)},
	)
	notify.Best(ctx, s.notifier, partyID, "📨 Запрос на отмену отправлен второй стороне.")
	return t, nil
}

// ConfirmCancel — вторая сторона соглашается на отмену.
func (s *Service) ConfirmCancel(ctx context.Context, txID, partyID int64) (*Transaction, error) {
	t, err := s.partyCancellable(ctx, txID, partyID)
	if err != nil {
		return nil, err
	}
	if t.CancelRequestedBy == 0 || t.CancelRequestedBy == partyID {
		return nil, fmt.Errorf("сделка #%d: нет запроса на отмену от второй стороны: %w", t.ID, common.ErrInvalidStateTransition)
	}
	return s.cancel(ctx, t, ReasonMutualAgreement, partyID)
}

// DeclineCancel — вторая сторона отказывается от отмены.
func (s *Service) DeclineCancel(ctx context.Context, txID, partyID int64) (*Transaction, error) {
	t, err := s.partyCancellable(ctx, txID, partyID)
	if err != nil {
		return nil, err
	}
	if t.CancelRequestedBy == 0 || t.CancelRequestedBy == partyID {
		return nil, fmt.Errorf("сделка #%d: нет запроса на отмену от второй стороны: %w", t.ID, common.ErrInvalidStateTransition)
	}
	requester := t.CancelRequestedBy
	ok, err := s.store.SetCancelRequest(ctx, t.ID, t.Status, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.casMiss(ctx, t, StatusCancelled)
	}
	t.CancelRequestedBy = 0

	notify.Best(ctx, s.notifier, requester, fmt.Sprintf("❌ Вторая сторона отказалась отменять сделку #%d.", t.ID))
	return t, nil
}

// RequestHelp — участник зовёт модератора. Сделка переходит в «спор».
func (s *Service) RequestHelp(ctx context.Context, txID, partyID int64) (*Transaction, error) {
	t, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(partyID) {
		return nil, common.ErrNotParty
	}
	next, err := s.transition(ctx, t, StatusDisputed, Change{}, partyID)
	if err != nil {
		return nil, err
	}
	if err := s.consensus.Reset(ctx, t.ID); err != nil {
		log.WithError(err).WithField("transaction_id", t.ID).Warn("Не удалось сбросить подтверждения")
	}

	if _, err := s.gateway.SubmitForReview(ctx, moderation.KindDispute,
		moderation.Subject{
			TransactionID: next.ID,
			UserID:        partyID,
			Text:          fmt.Sprintf("%s позвал модератора.\n%s", capitalize(next.RoleOf(partyID)), moderatorCard(next)),
		}, nil,
		interventionActions(next.ID)[:1]...,
	); err != nil {
		log.WithError(err).WithField("transaction_id", next.ID).Error("Не удалось создать заявку по спору")
	}

	text := fmt.Sprintf("🆘 По сделке #%d открыт спор. Модератор свяжется с вами.", next.ID)
	notify.Best(ctx, s.notifier, next.SellerID, text)
	notify.Best(ctx, s.notifier, next.BuyerID, text)
	return next, nil
}

// SweepOverdue сообщает модераторам о сделках с истёкшим дедлайном.
// Статусы не меняются: решение об отмене или продлении за модератором.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	list, err := s.store.ListOverdue(ctx, s.now(), overdueBatch)
	if err != nil {
		return 0, err
	}

	filed := 0
	for _, t := range list {
		if ctx.Err() != nil {
			return filed, ctx.Err()
		}
		ok, err := s.store.MarkOverdueNotified(ctx, t.ID)
		if err != nil {
			log.WithError(err).WithField("transaction_id", t.ID).Warn("Не удалось отметить просрочку")
			continue
		}
		if !ok {
			continue
		}

		deadline := t.CompletionDeadline
		what := "завершения"
		if t.Status == StatusPaymentPending {
			deadline = t.PaymentDeadline
			what = "оплаты"
		}
		var actions []notify.Action
		if t.Status == StatusInProgress {
			actions = interventionActions(t.ID)
		} else {
			actions = interventionActions(t.ID)[:1]
		}

		if _, err := s.gateway.SubmitForReview(ctx, moderation.KindOverdue,
			moderation.Subject{
				TransactionID: t.ID,
				Text: fmt.Sprintf("Истёк срок %s (%s), статус: %s.\n%s",
					what, common.FormatDateTime(deadline), t.Status.Label(), moderatorCard(t)),
			},
			map[string]string{"deadline": deadline.Format(time.RFC3339)},
			actions...,
		); err != nil {
			log.WithError(err).WithField("transaction_id", t.ID).Error("Не удалось создать заявку о просрочке")
			continue
		}
		filed++
	}

	if filed > 0 {
		log.WithField("count", filed).Info("Найдены просроченные сделки")
	}
	return filed, nil
}

func (s *Service) partyCancellable(ctx context.Context, txID, partyID int64) (*Transaction, error) {
	t, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(partyID) {
		return nil, common.ErrNotParty
	}
	if t.Status == StatusDisputed || !CanTransition(t.Status, StatusCancelled) {
		return nil, invalidTransition(t, StatusCancelled)
	}
	return t, nil
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(unicode.ToUpper(r[0])) + string(r[1:])
}
