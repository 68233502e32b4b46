// Package chats — анонимные чаты между автором объявления и откликнувшимся.
// models.go описывает чаты, объявления и сообщения.
package chats

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status — статус чата.
type Status string

const (
	StatusWaiting     Status = "waiting"     // автор ещё не принял отклик
	StatusActive      Status = "active"      // идёт переписка
	StatusTransaction Status = "transaction" // по чату открыта сделка
	StatusCompleted   Status = "completed"   // чат закрыт
)

// ListingKind — тип объявления.
type ListingKind string

const (
	ListingSell ListingKind = "sell" // автор продаёт
	ListingBuy  ListingKind = "buy"  // автор покупает
)

// Listing — объявление. Публикует его внешняя подсистема, здесь только чтение.
type Listing struct {
	ID         int64
	AuthorID   int64
	Title      string
	Price      decimal.Decimal
	FixedPrice bool
	Kind       ListingKind
}

// Chat — чат двух участников по объявлению.
type Chat struct {
	ID           int64           `db:"id"`
	ListingID    int64           `db:"listing_id"`
	ListingTitle string          `db:"listing_title"`
	ListingPrice decimal.Decimal `db:"listing_price"`
	FixedPrice   bool            `db:"fixed_price"`
	ListingKind  ListingKind     `db:"listing_kind"`
	AuthorID     int64           `db:"author_id"` // автор объявления
	PeerID       int64           `db:"peer_id"`   // откликнувшийся
	Status       Status          `db:"status"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// MediaPhoto — тип вложения для фотографий.
const MediaPhoto = "photo"

// Message — сообщение в чате. Flagged — антиспам не дал его переслать.
// У фото Text — подпись, FileID — идентификатор файла в Telegram.
type Message struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	SenderID  int64     `db:"sender_id"`
	Text      string    `db:"text"`
	MediaType string    `db:"media_type"`
	FileID    string    `db:"file_id"`
	Flagged   bool      `db:"flagged"`
	CreatedAt time.Time `db:"created_at"`
}

// IsParticipant проверяет, участвует ли пользователь в чате.
func (c *Chat) IsParticipant(userID int64) bool {
	return userID == c.AuthorID || userID == c.PeerID
}

// Counterpart возвращает собеседника или 0, если userID не участник.
func (c *Chat) Counterpart(userID int64) int64 {
	switch userID {
	case c.AuthorID:
		return c.PeerID
	case c.PeerID:
		return c.AuthorID
	default:
		return 0
	}
}

// SellerAndBuyer определяет роли по типу объявления.
func (c *Chat) SellerAndBuyer() (sellerID, buyerID int64) {
	if c.ListingKind == ListingBuy {
		return c.PeerID, c.AuthorID
	}
	return c.AuthorID, c.PeerID
}

// Open — можно переписываться.
func (c *Chat) Open() bool {
	return c.Status == StatusActive || c.Status == StatusTransaction
}
