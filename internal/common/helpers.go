// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование сумм, работа с временем.
package common

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Location — часовой пояс, в котором бот показывает дедлайны.
// Задаётся из APP_TIMEZONE при старте.
var Location = time.FixedZone("EET", 2*60*60)

// SetLocation загружает часовой пояс по имени.
// При ошибке остаётся значение по умолчанию.
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	Location = loc
	return nil
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" (день.месяц.год часы:минуты).
// Используется для отображения дедлайнов сделок.
func FormatDateTime(t time.Time) string {
	return t.In(Location).Format("02.01.2006 15:04")
}

// FormatMoney форматирует сумму в гривнах с разделителями тысяч.
//
// Примеры:
//
//	FormatMoney(decimal.RequireFromString("1025"))    → "1 025 ₴"
//	FormatMoney(decimal.RequireFromString("12.5"))    → "12.50 ₴"
func FormatMoney(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if frac != "00" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	b.WriteString(" ₴")
	return b.String()
}

// MaskDetails скрывает середину реквизитов для логов.
// Пример: MaskDetails("4149499912345678") → "4149********5678"
func MaskDetails(details string) string {
	r := []rune(details)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-8) + string(r[len(r)-4:])
}
