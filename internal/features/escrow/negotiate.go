// Package escrow — negotiate.go: согласование условий до создания сделки.
// Пока идёт согласование, в БД ничего не пишется.
package escrow

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/chats"
	"serotonyl.ru/escrow-bot/internal/features/commission"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// statusNegotiating — условное состояние черновика для журнала переходов.
const statusNegotiating Status = "negotiating"

// StartNegotiation начинает согласование сделки в активном чате.
// Для объявления с фиксированной ценой цена принимается сразу.
func (s *Service) StartNegotiation(ctx context.Context, chatID, initiatorID int64) (Draft, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return Draft{}, err
	}
	if !chat.IsParticipant(initiatorID) {
		return Draft{}, common.ErrNotParty
	}
	if chat.Status != chats.StatusActive {
		return Draft{}, fmt.Errorf("чат #%d в статусе %s: %w", chatID, chat.Status, common.ErrInvalidStateTransition)
	}
	if _, err := s.store.GetByChat(ctx, chatID); err == nil {
		return Draft{}, fmt.Errorf("по чату #%d уже есть сделка: %w", chatID, common.ErrInvalidStateTransition)
	} else if !errors.Is(err, common.ErrNotFound) {
		return Draft{}, err
	}

	sellerID, buyerID := chat.SellerAndBuyer()
	d := Draft{
		ChatID:     chatID,
		ListingID:  chat.ListingID,
		Title:      chat.ListingTitle,
		SellerID:   sellerID,
		BuyerID:    buyerID,
		FixedPrice: chat.FixedPrice,
	}
	if chat.FixedPrice {
		if chat.ListingPrice.LessThan(s.settings.MinAmount) {
			return Draft{}, common.Invalid("", "минимальная сумма сделки: %s", common.FormatMoney(s.settings.MinAmount))
		}
		d.Amount = chat.ListingPrice
		d.ProposedBy = sellerID
		d.Stage = StagePayer
	} else {
		d.Stage = StagePrice
		d.AwaitingFrom = initiatorID
	}

	d, err = s.drafts.Start(d)
	if err != nil {
		return Draft{}, err
	}

	log.WithFields(log.Fields{
		"chat_id":   chatID,
		"initiator": initiatorID,
		"fixed":     d.FixedPrice,
	}).Info("Начато согласование сделки")

	if d.FixedPrice {
		text := fmt.Sprintf("🤝 Сделка «%s» по фиксированной цене %s.\nКто оплачивает комиссию гаранта?", d.Title, common.FormatMoney(d.Amount))
		notify.Best(ctx, s.notifier, d.SellerID, text, payerActions(chatID)...)
		notify.Best(ctx, s.notifier, d.BuyerID, text, payerActions(chatID)...)
		return d, nil
	}
	notify.Best(ctx, s.notifier, initiatorID, fmt.Sprintf("🤝 Сделка «%s».\nВведите предлагаемую цену в гривнах (минимум %s).", d.Title, common.FormatMoney(s.settings.MinAmount)))
	notify.Best(ctx, s.notifier, d.Counterpart(initiatorID), fmt.Sprintf("🤝 Собеседник начал оформление сделки «%s». Ждём предложение цены.", d.Title))
	return d, nil
}

// ProposePrice — предложение цены. Ошибка валидации оставляет черновик на том же этапе.
func (s *Service) ProposePrice(ctx context.Context, chatID, userID int64, raw string) (Draft, error) {
	d, err := s.drafts.Update(chatID, func(d *Draft) error {
		if !d.IsParty(userID) {
			return common.ErrNotParty
		}
		if d.Stage != StagePrice || d.AwaitingFrom != userID {
			return notYourTurn(d)
		}
		amount, err := ParseAmount(raw, s.settings.MinAmount)
		if err != nil {
			return err
		}
		d.Amount = amount
		d.ProposedBy = userID
		d.AwaitingFrom = 0
		d.Stage = StagePriceResponse
		return nil
	})
	if err != nil {
		return d, err
	}

	notify.Best(ctx, s.notifier, d.Counterpart(userID),
		fmt.Sprintf("💰 Собеседник предлагает цену %s за «%s».", common.FormatMoney(d.Amount), d.Title),
		notify.Action{Label: "✅ Согласен", Data: common.CallbackData(ActionPriceAccept, chatID)},
		notify.Action{Label: "❌ Предложить другую", Data: common.CallbackData(ActionPriceReject, chatID)},
	)
	notify.Best(ctx, s.notifier, userID, "📨 Предложение отправлено, ждём ответ собеседника.")
	return d, nil
}

// RespondToPrice — ответ на предложенную цену. Отказавший предлагает свою цену.
func (s *Service) RespondToPrice(ctx context.Context, chatID, userID int64, accept bool) (Draft, error) {
	d, err := s.drafts.Update(chatID, func(d *Draft) error {
		if !d.IsParty(userID) {
			return common.ErrNotParty
		}
		if d.Stage != StagePriceResponse || d.ProposedBy == userID {
			return notYourTurn(d)
		}
		if accept {
			d.Stage = StagePayer
			return nil
		}
		d.Stage = StagePrice
		d.AwaitingFrom = userID
		return nil
	})
	if err != nil {
		return d, err
	}

	if accept {
		text := fmt.Sprintf("✅ Цена %s согласована.\nКто оплачивает комиссию гаранта?", common.FormatMoney(d.Amount))
		notify.Best(ctx, s.notifier, d.SellerID, text, payerActions(chatID)...)
		notify.Best(ctx, s.notifier, d.BuyerID, text, payerActions(chatID)...)
		return d, nil
	}
	notify.Best(ctx, s.notifier, d.ProposedBy, "❌ Собеседник не согласен с ценой и предложит свою.")
	notify.Best(ctx, s.notifier, userID, "✏️ Введите вашу цену в гривнах.")
	return d, nil
}

// ChooseCommissionPayer фиксирует, кто платит комиссию. Выбрать может любая сторона.
func (s *Service) ChooseCommissionPayer(ctx context.Context, chatID, userID int64, raw string) (Draft, error) {
	d, err := s.drafts.Update(chatID, func(d *Draft) error {
		if !d.IsParty(userID) {
			return common.ErrNotParty
		}
		if d.Stage != StagePayer {
			return notYourTurn(d)
		}
		payer, err := commission.ParsePayer(raw)
		if err != nil {
			return err
		}
		d.Payer = payer
		d.Stage = StageMethod
		return nil
	})
	if err != nil {
		return d, err
	}

	br, _ := s.calc.Quote(d.Amount, d.Payer)
	notify.Best(ctx, s.notifier, d.SellerID, DraftSummary(d, br)+"\nВыберите способ получения выплаты:", methodActions(chatID)...)
	notify.Best(ctx, s.notifier, d.BuyerID, DraftSummary(d, br)+"\nЖдём, пока продавец укажет реквизиты.")
	return d, nil
}

// ChoosePaymentMethod — продавец выбирает способ выплаты.
func (s *Service) ChoosePaymentMethod(ctx context.Context, chatID, userID int64, raw string) (Draft, error) {
	d, err := s.drafts.Update(chatID, func(d *Draft) error {
		if !d.IsParty(userID) {
			return common.ErrNotParty
		}
		if userID != d.SellerID {
			return common.Invalid("", "способ выплаты выбирает продавец")
		}
		if d.Stage != StageMethod && d.Stage != StageDetails {
			return notYourTurn(d)
		}
		method, err := ParsePaymentMethod(raw)
		if err != nil {
			return err
		}
		d.Method = method
		d.Details = ""
		d.Stage = StageDetails
		return nil
	})
	if err != nil {
		return d, err
	}

	prompt := "💳 Введите номер карты (16 цифр)."
	if d.Method != MethodUACard {
		prompt = fmt.Sprintf("💎 Введите адрес кошелька %s.", d.Method.Label())
	}
	notify.Best(ctx, s.notifier, userID, prompt)
	return d, nil
}

// SubmitPaymentDetails — продавец вводит реквизиты для выплаты.
func (s *Service) SubmitPaymentDetails(ctx context.Context, chatID, userID int64, raw string) (Draft, error) {
	d, err := s.drafts.Update(chatID, func(d *Draft) error {
		if !d.IsParty(userID) {
			return common.ErrNotParty
		}
		if userID != d.SellerID || d.Stage != StageDetails {
			return notYourTurn(d)
		}
		details, err := ValidatePaymentDetails(d.Method, raw)
		if err != nil {
			return err
		}
		d.Details = details
		d.Stage = StageConfirm
		return nil
	})
	if err != nil {
		return d, err
	}

	br, _ := s.calc.Quote(d.Amount, d.Payer)
	notify.Best(ctx, s.notifier, d.SellerID, DraftSummary(d, br)+"\nВсё верно?",
		notify.Action{Label: "✅ Создать сделку", Data: common.CallbackData(ActionConfirm, chatID)},
		notify.Action{Label: "❌ Отменить", Data: common.CallbackData(ActionAbort, chatID)},
	)
	return d, nil
}

// HandleDraftInput передаёт текст пользователя в черновик, который его ждёт.
// handled=false — текст не относится к согласованию.
func (s *Service) HandleDraftInput(ctx context.Context, userID int64, text string) (handled bool, err error) {
	d, ok := s.drafts.AwaitingTextFrom(userID)
	if !ok {
		return false, nil
	}
	switch d.Stage {
	case StagePrice:
		_, err = s.ProposePrice(ctx, d.ChatID, userID, text)
	case StageDetails:
		_, err = s.SubmitPaymentDetails(ctx, d.ChatID, userID, text)
	}
	return true, err
}

// ConfirmDraft — продавец подтверждает условия, создаётся сделка в статусе «ожидает оплаты».
func (s *Service) ConfirmDraft(ctx context.Context, chatID, userID int64) (*Transaction, error) {
	d, err := s.drafts.Take(chatID, func(d *Draft) error {
		if !d.IsParty(userID) {
			return common.ErrNotParty
		}
		if userID != d.SellerID {
			return common.Invalid("", "условия подтверждает продавец")
		}
		if d.Stage != StageConfirm {
			return notYourTurn(d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	br, err := s.calc.Quote(d.Amount, d.Payer)
	if err != nil {
		s.drafts.Restore(d)
		return nil, err
	}

	now := s.now()
	t := &Transaction{
		ChatID:             d.ChatID,
		ListingID:          d.ListingID,
		Title:              d.Title,
		SellerID:           d.SellerID,
		BuyerID:            d.BuyerID,
		Amount:             d.Amount,
		Commission:         br.Commission,
		CommissionPayer:    d.Payer,
		PaymentMethod:      d.Method,
		PaymentDetails:     d.Details,
		Status:             StatusPaymentPending,
		PaymentDeadline:    now.Add(s.settings.PaymentWindow),
		CompletionDeadline: now.Add(s.settings.PaymentWindow + s.settings.TransactionTimeout),
	}
	if err := s.store.Create(ctx, t); err != nil {
		if !errors.Is(err, common.ErrInvalidStateTransition) {
			s.drafts.Restore(d)
		}
		return nil, err
	}
	logTransition(t.ID, statusNegotiating, StatusPaymentPending, userID)

	if _, err := s.gateway.SubmitForReview(ctx, moderation.KindPayment,
		moderation.Subject{
			TransactionID: t.ID,
			UserID:        t.BuyerID,
			Text:          "Новая сделка, ждём оплату от покупателя.\n" + moderatorCard(t),
		},
		map[string]string{"buyer_owes": br.BuyerOwes.StringFixed(2)},
		paymentReviewActions(t.ID)...,
	); err != nil {
		log.WithError(err).WithField("transaction_id", t.ID).Error("Не удалось создать заявку на проверку оплаты")
	}

	notify.Best(ctx, s.notifier, t.BuyerID, fmt.Sprintf(
		"🧾 Сделка #%d создана.\nК оплате: %s\nОплатить до: %s\nПосле поступления средств модератор подтвердит оплату.",
		t.ID, common.FormatMoney(br.BuyerOwes), common.FormatDateTime(t.PaymentDeadline),
	))
	notify.Best(ctx, s.notifier, t.SellerID, fmt.Sprintf(
		"🧾 Сделка #%d создана. Ждём оплату от покупателя до %s.",
		t.ID, common.FormatDateTime(t.PaymentDeadline),
	))
	return t, nil
}

// CancelNegotiation прекращает согласование. Сделка не создаётся.
func (s *Service) CancelNegotiation(ctx context.Context, chatID, userID int64) error {
	d, err := s.drafts.Take(chatID, func(d *Draft) error {
		if !d.IsParty(userID) {
			return common.ErrNotParty
		}
		return nil
	})
	if err != nil {
		return err
	}
	notify.Best(ctx, s.notifier, d.Counterpart(userID), fmt.Sprintf("🚫 Собеседник отменил оформление сделки «%s».", d.Title))
	return nil
}

func notYourTurn(d *Draft) error {
	return fmt.Errorf("черновик чата #%d на этапе %s: %w", d.ChatID, d.Stage, common.ErrInvalidStateTransition)
}

func payerActions(chatID int64) []notify.Action {
	payers := []commission.Payer{commission.PayerSeller, commission.PayerBuyer, commission.PayerSplit}
	out := make([]notify.Action, 0, len(payers))
	for _, p := range payers {
		out = append(out, notify.Action{Label: p.Label(), Data: common.CallbackData(ActionPayer, chatID, string(p))})
	}
	return out
}

func methodActions(chatID int64) []notify.Action {
	methods := []PaymentMethod{MethodUACard, MethodCryptoTON, MethodCryptoUSDT}
	out := make([]notify.Action, 0, len(methods))
	for _, m := range methods {
		out = append(out, notify.Action{Label: m.Label(), Data: common.CallbackData(ActionMethod, chatID, string(m))})
	}
	return out
}
