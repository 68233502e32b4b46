// Package reviews — оценки участников после выплаты по сделке.
// Отзыв привязан к сделке: один отзыв от каждой стороны.
package reviews

import "time"

const (
	minRating        = 1
	maxRating        = 5
	maxCommentLength = 500
	pendingTTL       = 10 * time.Minute
)

// Review — отзыв об участнике сделки.
type Review struct {
	ID            int64     `db:"id"`
	TransactionID int64     `db:"transaction_id"`
	ReviewerID    int64     `db:"reviewer_id"`
	RevieweeID    int64     `db:"reviewee_id"`
	Rating        int       `db:"rating"`
	Comment       string    `db:"comment"`
	CreatedAt     time.Time `db:"created_at"`
}

// pending — оценка выбрана кнопкой, ждём комментарий.
type pending struct {
	TransactionID int64
	Rating        int
	ExpiresAt     time.Time
}
