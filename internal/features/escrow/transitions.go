package escrow

import (
	"fmt"

	"serotonyl.ru/escrow-bot/internal/common"
)

// allowed — граф переходов. Всё, чего здесь нет, запрещено.
var allowed = map[Status][]Status{
	StatusPaymentPending:      {StatusVerificationPending, StatusCancelled},
	StatusVerificationPending: {StatusInProgress, StatusCancelled},
	StatusInProgress:          {StatusCompleted, StatusCancelled, StatusDisputed},
	StatusCompleted:           {StatusPaidOut},
	StatusDisputed:            {StatusCancelled}, // только модератор, см. partyCancellable
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal — из статуса нет переходов.
func (s Status) IsTerminal() bool {
	return len(allowed[s]) == 0
}

// IsOpen — сделка ещё держит чат.
func (s Status) IsOpen() bool {
	return s != StatusPaidOut && s != StatusCancelled
}

func invalidTransition(t *Transaction, to Status) error {
	return fmt.Errorf("сделка #%d: %s → %s: %w", t.ID, t.Status, to, common.ErrInvalidStateTransition)
}
