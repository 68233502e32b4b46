// Package trustfilter проверяет переписку участников сделки
// и наказывает попытки обойти гаранта: предупреждения, затем бан.
package trustfilter

import "time"

// Verdict — что делать с сообщением.
type Verdict string

const (
	Allow    Verdict = "allow"    // переслать собеседнику
	Suppress Verdict = "suppress" // не пересылать
)

// Action — действие, записанное в журнал антиспама.
type Action string

const (
	ActionWarning Action = "warning"
	ActionBanned  Action = "banned"
)

// Message — входящее сообщение внутри чата сделки.
type Message struct {
	ChatID   int64
	SenderID int64
	Text     string
}

// AntiSpamLog — запись о сработавшем фильтре. Только добавляется, не меняется.
type AntiSpamLog struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	ChatID        int64     `db:"chat_id"`
	MessageText   string    `db:"message_text"`
	Triggers      []string  `db:"triggers"`
	Action        Action    `db:"action"`
	WarningsCount int       `db:"warnings_count"` // значение после срабатывания
	CreatedAt     time.Time `db:"created_at"`
}

// Result — итог проверки сообщения.
type Result struct {
	Verdict Verdict
	Log     *AntiSpamLog // nil, если журнал не пополнялся
}
