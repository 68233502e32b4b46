// Package users хранит участников сделок: статус доверия, предупреждения, итоги сделок.
// models.go описывает структуры данных для работы с таблицей users.
package users

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status — статус доверия пользователя.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuspicious Status = "suspicious"
	StatusBanned     Status = "banned"
)

// User — участник бота. ID совпадает с Telegram user ID.
type User struct {
	ID                int64           `db:"id"`
	Username          string          `db:"username"`   // @username (может быть пустым)
	FirstName         string          `db:"first_name"`
	LastName          string          `db:"last_name"`
	Status            Status          `db:"status"`
	WarningsCount     int             `db:"warnings_count"`
	TotalTransactions int64           `db:"total_transactions"`
	TotalAmount       decimal.Decimal `db:"total_amount"`
	AverageRating     decimal.Decimal `db:"average_rating"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// Profile — данные из Telegram, которые обновляются при каждом сообщении.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// IsBanned сообщает, заблокирован ли пользователь.
func (u *User) IsBanned() bool {
	return u.Status == StatusBanned
}

// DisplayName возвращает отображаемое имя пользователя.
// Если есть @username, возвращает его, иначе имя и фамилию.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		return "пользователь"
	}
	return name
}
