// Package admin реализует вход модераторов по паролю и их пошаговые диалоги.
// models.go описывает структуры сессий, попыток входа и состояний диалога.
package admin

import "time"

// AdminSession — активная сессия модератора.
type AdminSession struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	SessionToken    string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
	IsActive        bool      `db:"is_active"`
}

// AdminState — состояние диалога с модератором.
// Пример: модератор нажал «Отклонить» → бот ждёт текст причины.
type AdminState struct {
	State     string  // Текущее состояние
	Pending   Pending // Над какой сделкой/пользователем выполняется действие
	ExpiresAt time.Time
}

// Pending — действие, которое модератор начал и ещё не завершил вводом текста.
type Pending struct {
	Action string // код действия кнопки (mod_ver_no, mod_cancel, mod_ext ...)
	ID     int64  // ID сделки или пользователя
}

// Возможные состояния диалога
const (
	StateNone             = ""
	StateAwaitingPassword = "awaiting_password"
	StateAwaitingReason   = "awaiting_reason" // причина отказа или отмены
	StateAwaitingHours    = "awaiting_hours"  // на сколько часов продлить сделку
)

const (
	sessionTTL        = 24 * time.Hour
	stateTTL          = 5 * time.Minute
	maxFailedAttempts = 3
	attemptsWindow    = time.Hour
)
