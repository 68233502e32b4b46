// Package common — callback.go кодирует данные inline-кнопок.
//
// Формат: esc:<action>:<id>[:arg]. Telegram ограничивает callback_data 64 байтами.
package common

import (
	"fmt"
	"strconv"
	"strings"
)

const callbackPrefix = "esc"

// Callback — разобранные данные кнопки.
type Callback struct {
	Action string
	ID     int64
	Arg    string
}

// CallbackData собирает callback_data для кнопки.
func CallbackData(action string, id int64, arg ...string) string {
	s := fmt.Sprintf("%s:%s:%d", callbackPrefix, action, id)
	if len(arg) > 0 && arg[0] != "" {
		s += ":" + arg[0]
	}
	return s
}

// ParseCallback разбирает callback_data. Чужой формат — ошибка.
func ParseCallback(data string) (Callback, error) {
	parts := strings.SplitN(data, ":", 4)
	if len(parts) < 3 || parts[0] != callbackPrefix || parts[1] == "" {
		return Callback{}, fmt.Errorf("неизвестный формат кнопки %q", data)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("кнопка %q: bad id: %w", data, err)
	}
	cb := Callback{Action: parts[1], ID: id}
	if len(parts) == 4 {
		cb.Arg = parts[3]
	}
	return cb, nil
}
