// Package escrow — сделки через гаранта: согласование условий, оплата,
// проверка продавца, подтверждение завершения и выплата.
// models.go описывает сделку и её статусы.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/escrow-bot/internal/features/commission"
)

// Status — статус сделки.
type Status string

const (
	StatusPaymentPending      Status = "payment_pending"      // ждём оплату от покупателя
	StatusVerificationPending Status = "verification_pending" // ждём видео-проверку продавца
	StatusInProgress          Status = "in_progress"          // передача товара
	StatusCompleted           Status = "completed"            // обе стороны подтвердили, ждём выплату
	StatusPaidOut             Status = "paid_out"             // выплата проведена
	StatusCancelled           Status = "cancelled"
	StatusDisputed            Status = "disputed" // спор, закрывает модератор
)

// Label — подпись статуса для пользователей.
func (s Status) Label() string {
	switch s {
	case StatusPaymentPending:
		return "ожидает оплаты"
	case StatusVerificationPending:
		return "проверка продавца"
	case StatusInProgress:
		return "в процессе"
	case StatusCompleted:
		return "ожидает выплаты"
	case StatusPaidOut:
		return "завершена"
	case StatusCancelled:
		return "отменена"
	case StatusDisputed:
		return "спор"
	default:
		return string(s)
	}
}

// PaymentMethod — способ выплаты продавцу.
type PaymentMethod string

const (
	MethodUACard     PaymentMethod = "ua_card"
	MethodCryptoTON  PaymentMethod = "crypto_ton"
	MethodCryptoUSDT PaymentMethod = "crypto_usdt"
)

// Label — подпись способа выплаты.
func (m PaymentMethod) Label() string {
	switch m {
	case MethodUACard:
		return "💳 Карта UA"
	case MethodCryptoTON:
		return "💎 TON"
	case MethodCryptoUSDT:
		return "💵 USDT"
	default:
		return string(m)
	}
}

// Причины отмены. В БД хранится код, пользователю показывается CancelReasonLabel.
const (
	ReasonVerificationFailed   = "verification failed"
	ReasonPaymentNotReceived   = "payment not received"
	ReasonMutualAgreement      = "cancelled by agreement"
	ReasonCancelledByModerator = "cancelled by moderator"
)

// CancelReasonLabel переводит код причины. Произвольный текст модератора возвращается как есть.
func CancelReasonLabel(reason string) string {
	switch reason {
	case ReasonVerificationFailed:
		return "Проверка продавца не пройдена"
	case ReasonPaymentNotReceived:
		return "Оплата не поступила"
	case ReasonMutualAgreement:
		return "Отменена по согласию сторон"
	case ReasonCancelledByModerator:
		return "Отменена модератором"
	default:
		return reason
	}
}

// Transaction — сделка. Создаётся один раз на чат, никогда не удаляется.
type Transaction struct {
	ID                 int64            `db:"id"`
	ChatID             int64            `db:"chat_id"`
	ListingID          int64            `db:"listing_id"`
	Title              string           `db:"title"`
	SellerID           int64            `db:"seller_id"`
	BuyerID            int64            `db:"buyer_id"`
	Amount             decimal.Decimal  `db:"amount"`
	Commission         decimal.Decimal  `db:"commission"` // фиксируется при создании
	CommissionPayer    commission.Payer `db:"commission_payer"`
	PaymentMethod      PaymentMethod    `db:"payment_method"`
	PaymentDetails     string           `db:"payment_details"`
	Status             Status           `db:"status"`
	VerificationPhrase string           `db:"verification_phrase"`
	IsVerified         bool             `db:"is_verified"`
	CancelReason       string           `db:"cancel_reason"`
	CancelRequestedBy  int64            `db:"cancel_requested_by"` // 0 — запроса нет
	PaymentDeadline    time.Time        `db:"payment_deadline"`
	CompletionDeadline time.Time        `db:"completion_deadline"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
	CompletedAt        *time.Time       `db:"completed_at"`
	PaidOutAt          *time.Time       `db:"paid_out_at"`
	OverdueNotifiedAt  *time.Time       `db:"overdue_notified_at"`
}

// Breakdown возвращает суммы сторон по зафиксированной комиссии.
func (t *Transaction) Breakdown() (commission.Breakdown, error) {
	return commission.Split(t.Amount, t.Commission, t.CommissionPayer)
}

// IsParty проверяет, участник ли пользователь сделки.
func (t *Transaction) IsParty(userID int64) bool {
	return userID == t.SellerID || userID == t.BuyerID
}

// Counterpart возвращает вторую сторону сделки.
func (t *Transaction) Counterpart(userID int64) int64 {
	if userID == t.SellerID {
		return t.BuyerID
	}
	return t.SellerID
}

// RoleOf — «продавец» или «покупатель».
func (t *Transaction) RoleOf(userID int64) string {
	if userID == t.SellerID {
		return "продавец"
	}
	return "покупатель"
}

// Change — поля, которые меняются вместе со статусом.
type Change struct {
	VerificationPhrase string     // не пусто — записать фразу
	MarkVerified       bool       // is_verified = true
	CancelReason       string     // не пусто — записать причину
	CompletedAt        *time.Time // не nil — записать время завершения
}
