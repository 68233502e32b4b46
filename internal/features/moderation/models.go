// Package moderation — шлюз к модераторам: заявки на проверку, аудит решений, проверка прав.
// models.go описывает заявки (review_tickets) и журнал действий (admin_actions).
package moderation

import (
	"time"

	"github.com/google/uuid"
)

// Kind — тип заявки для модераторов.
type Kind string

const (
	KindPayment      Kind = "payment"      // покупатель оплатил, нужно подтвердить поступление
	KindVerification Kind = "verification" // продавец прислал кружок с фразой
	KindPayout       Kind = "payout"       // обе стороны подтвердили, нужна выплата продавцу
	KindDispute      Kind = "dispute"      // участник позвал модератора
	KindOverdue      Kind = "overdue"      // истёк дедлайн оплаты или завершения
	KindSpam         Kind = "spam"         // сработал антиспам
)

// Title возвращает заголовок заявки для сообщения в группе модераторов.
func (k Kind) Title() string {
	switch k {
	case KindPayment:
		return "💳 Проверка оплаты"
	case KindVerification:
		return "🎥 Проверка продавца"
	case KindPayout:
		return "💸 Выплата продавцу"
	case KindDispute:
		return "🆘 Спор"
	case KindOverdue:
		return "⏰ Просрочка"
	case KindSpam:
		return "🚫 Антиспам"
	default:
		return string(k)
	}
}

// TicketStatus — статус заявки.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketResolved TicketStatus = "resolved"
)

// Ticket — заявка на решение модератора.
type Ticket struct {
	ID            uuid.UUID         `db:"id"`
	Kind          Kind              `db:"kind"`
	TransactionID int64             `db:"transaction_id"` // 0 — заявка не о сделке
	UserID        int64             `db:"user_id"`        // инициатор или нарушитель
	Text          string            `db:"text"`
	Evidence      map[string]string `db:"evidence"`
	Status        TicketStatus      `db:"status"`
	ResolvedBy    int64             `db:"resolved_by"`
	CreatedAt     time.Time         `db:"created_at"`
	ResolvedAt    *time.Time        `db:"resolved_at"`
}

// Subject — о ком/чём заявка.
type Subject struct {
	TransactionID int64
	UserID        int64
	Text          string
}

// Outcome — результат решения модератора для аудита.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeInvalidState Outcome = "rejected_invalid_state"
	OutcomeForbidden    Outcome = "forbidden"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeConflict     Outcome = "conflict"
	OutcomeFailed       Outcome = "failed"
)

// AdminAction — запись журнала действий модератора. Журнал только дополняется.
type AdminAction struct {
	ID            int64     `db:"id"`
	AdminID       int64     `db:"admin_id"`
	Action        string    `db:"action"`
	TransactionID int64     `db:"transaction_id"`
	TargetUserID  int64     `db:"target_user_id"`
	Outcome       Outcome   `db:"outcome"`
	Details       string    `db:"details"`
	CreatedAt     time.Time `db:"created_at"`
}

// Decision — решение модератора по сделке.
type Decision struct {
	Kind    DecisionKind
	Approve bool
	Reason  string
	Extend  time.Duration
}

// DecisionKind — вид решения модератора.
type DecisionKind string

const (
	DecisionPayment      DecisionKind = "payment"
	DecisionVerification DecisionKind = "verification"
	DecisionPayout       DecisionKind = "payout"
	DecisionCancel       DecisionKind = "cancel"
	DecisionExtend       DecisionKind = "extend"
)
