// Package escrow — messages.go: коды кнопок и тексты уведомлений.
package escrow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/commission"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Кнопки согласования (ID — чат).
const (
	ActionPriceAccept = "deal_price_ok"
	ActionPriceReject = "deal_price_no"
	ActionPayer       = "deal_payer"
	ActionMethod      = "deal_method"
	ActionConfirm     = "deal_confirm"
	ActionAbort       = "deal_abort"
)

// Кнопки участников (ID — сделка).
const (
	ActionDone      = "tx_done"
	ActionCancel    = "tx_cancel"
	ActionCancelYes = "tx_cancel_yes"
	ActionCancelNo  = "tx_cancel_no"
	ActionHelp      = "tx_help"
	ActionRate      = "rate"
)

// Кнопки модераторов (ID — сделка).
const (
	ActionModPayment      = "mod_payment" // arg: ok | no
	ActionModVerification = "mod_verify"  // arg: ok | no
	ActionModPayout       = "mod_payout"
	ActionModCancel       = "mod_cancel"
	ActionModExtend       = "mod_extend" // arg: часы
)

const (
	argApprove = "ok"
	argReject  = "no"
)

// DecisionFromCallback собирает решение модератора из кнопки.
// ok=false — кнопка не относится к решениям по сделкам.
func DecisionFromCallback(cb common.Callback) (moderation.Decision, bool) {
	switch cb.Action {
	case ActionModPayment:
		return moderation.Decision{Kind: moderation.DecisionPayment, Approve: cb.Arg == argApprove}, true
	case ActionModVerification:
		return moderation.Decision{Kind: moderation.DecisionVerification, Approve: cb.Arg == argApprove}, true
	case ActionModPayout:
		return moderation.Decision{Kind: moderation.DecisionPayout, Approve: true}, true
	case ActionModCancel:
		return moderation.Decision{Kind: moderation.DecisionCancel}, true
	case ActionModExtend:
		hours, err := strconv.Atoi(cb.Arg)
		if err != nil || hours <= 0 {
			hours = 24
		}
		return moderation.Decision{Kind: moderation.DecisionExtend, Extend: time.Duration(hours) * time.Hour}, true
	default:
		return moderation.Decision{}, false
	}
}

func partyActions(id int64) []notify.Action {
	return []notify.Action{
		{Label: "✅ Сделка завершена", Data: common.CallbackData(ActionDone, id)},
		{Label: "❌ Отменить сделку", Data: common.CallbackData(ActionCancel, id)},
		{Label: "🆘 Позвать модератора", Data: common.CallbackData(ActionHelp, id)},
	}
}

func rateActions(id int64) []notify.Action {
	out := make([]notify.Action, 0, 5)
	for n := 1; n <= 5; n++ {
		out = append(out, notify.Action{
			Label: strings.Repeat("⭐", n),
			Data:  common.CallbackData(ActionRate, id, strconv.Itoa(n)),
		})
	}
	return out
}

func paymentReviewActions(id int64) []notify.Action {
	return []notify.Action{
		{Label: "✅ Оплата получена", Data: common.CallbackData(ActionModPayment, id, argApprove)},
		{Label: "❌ Оплаты нет", Data: common.CallbackData(ActionModPayment, id, argReject)},
	}
}

func verificationReviewActions(id int64) []notify.Action {
	return []notify.Action{
		{Label: "✅ Продавец подтверждён", Data: common.CallbackData(ActionModVerification, id, argApprove)},
		{Label: "❌ Отклонить", Data: common.CallbackData(ActionModVerification, id, argReject)},
	}
}

func payoutReviewActions(id int64) []notify.Action {
	return []notify.Action{
		{Label: "💸 Выплата проведена", Data: common.CallbackData(ActionModPayout, id)},
	}
}

func interventionActions(id int64) []notify.Action {
	return []notify.Action{
		{Label: "❌ Отменить сделку", Data: common.CallbackData(ActionModCancel, id)},
		{Label: "⏳ Продлить на 24 ч", Data: common.CallbackData(ActionModExtend, id, "24")},
	}
}

// Summary — карточка сделки для участника.
func Summary(t *Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📄 Сделка #%d «%s»\n", t.ID, t.Title)
	fmt.Fprintf(&b, "Статус: %s\n", t.Status.Label())
	fmt.Fprintf(&b, "Сумма: %s\n", common.FormatMoney(t.Amount))
	fmt.Fprintf(&b, "Комиссия: %s (%s)\n", common.FormatMoney(t.Commission), t.CommissionPayer.Label())
	if br, err := t.Breakdown(); err == nil {
		fmt.Fprintf(&b, "Покупатель платит: %s\n", common.FormatMoney(br.BuyerOwes))
		fmt.Fprintf(&b, "Продавец получает: %s\n", common.FormatMoney(br.SellerReceives))
	}
	fmt.Fprintf(&b, "Выплата: %s %s\n", t.PaymentMethod.Label(), common.MaskDetails(t.PaymentDetails))
	switch t.Status {
	case StatusPaymentPending:
		fmt.Fprintf(&b, "Оплатить до: %s\n", common.FormatDateTime(t.PaymentDeadline))
	case StatusVerificationPending, StatusInProgress:
		fmt.Fprintf(&b, "Завершить до: %s\n", common.FormatDateTime(t.CompletionDeadline))
	case StatusCancelled:
		if t.CancelReason != "" {
			fmt.Fprintf(&b, "Причина: %s\n", CancelReasonLabel(t.CancelReason))
		}
	}
	return b.String()
}

// DraftSummary — условия сделки перед подтверждением.
func DraftSummary(d Draft, b commission.Breakdown) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📝 Условия сделки «%s»\n\n", d.Title)
	fmt.Fprintf(&sb, "Сумма: %s\n", common.FormatMoney(d.Amount))
	fmt.Fprintf(&sb, "Комиссия: %s (%s)\n", common.FormatMoney(b.Commission), d.Payer.Label())
	fmt.Fprintf(&sb, "Покупатель платит: %s\n", common.FormatMoney(b.BuyerOwes))
	fmt.Fprintf(&sb, "Продавец получает: %s\n", common.FormatMoney(b.SellerReceives))
	if d.Method != "" {
		fmt.Fprintf(&sb, "Выплата: %s %s\n", d.Method.Label(), common.MaskDetails(d.Details))
	}
	return sb.String()
}

func moderatorCard(t *Transaction) string {
	br, _ := t.Breakdown()
	return fmt.Sprintf(
		"«%s»\nПродавец: %d\nПокупатель: %d\nСумма: %s\nПокупатель платит: %s\nПродавцу к выплате: %s\nВыплата: %s %s",
		t.Title, t.SellerID, t.BuyerID,
		common.FormatMoney(t.Amount), common.FormatMoney(br.BuyerOwes), common.FormatMoney(br.SellerReceives),
		t.PaymentMethod.Label(), t.PaymentDetails,
	)
}
