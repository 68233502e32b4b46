// Package confirmation собирает подтверждения завершения сделки от обеих сторон.
//
// Сделка считается завершённой, когда набралось required различных подтверждений
// в пределах окна (по умолчанию 1 час с первого подтверждения).
// Ровно один вызов Confirm получает QuorumReached=true, даже при гонке.
package confirmation

import (
	"context"
	"fmt"
	"time"
)

// DefaultWindow — окно сбора подтверждений.
const DefaultWindow = time.Hour

// firedTTL — сколько помним, что кворум уже сработал.
const firedTTL = 7 * 24 * time.Hour

// Result — итог одного подтверждения.
type Result struct {
	// Confirmed — сколько различных сторон подтвердили на данный момент
	Confirmed int
	// QuorumReached — этот вызов первым набрал кворум
	QuorumReached bool
}

// Consensus — хранилище подтверждений.
type Consensus interface {
	Confirm(ctx context.Context, transactionID, partyID int64, required int) (Result, error)
	Reset(ctx context.Context, transactionID int64) error
	// Release снимает отметку о сработавшем кворуме, не трогая подтверждения.
	// Вызывается, если сделку не удалось перевести в «завершена»: следующий
	// Confirm любой из сторон снова получит QuorumReached.
	Release(ctx context.Context, transactionID int64) error
}

// Key возвращает ключ набора подтверждений сделки.
func Key(transactionID int64) string {
	return fmt.Sprintf("transaction_confirmations_%d", transactionID)
}

func firedKey(transactionID int64) string {
	return Key(transactionID) + ":fired"
}
