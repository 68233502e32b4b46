// Package common — errors.go определяет ошибки,
// которые используются во всех модулях бота.
// Обработчики различают типы проблем через errors.Is/errors.As
// и отправляют пользователю понятные сообщения.
package common

import (
	"errors"
	"fmt"
)

// Базовая таксономия ошибок сделки
var (
	// ErrValidation — некорректный ввод пользователя (сумма, реквизиты, оценка)
	ErrValidation = errors.New("некорректные данные")
	// ErrInvalidStateTransition — операция недопустима в текущем статусе сделки
	ErrInvalidStateTransition = errors.New("действие недоступно в текущем статусе сделки")
	// ErrNotFound — сделка, чат или пользователь не найдены
	ErrNotFound = errors.New("не найдено")
	// ErrExternalNotify — не удалось доставить уведомление
	ErrExternalNotify = errors.New("не удалось доставить уведомление")
	// ErrConcurrencyConflict — статус сделки изменился параллельно
	ErrConcurrencyConflict = errors.New("сделка изменилась, повторите действие")
	// ErrForbidden — у пользователя нет прав на действие
	ErrForbidden = errors.New("недостаточно прав")
	// ErrAuditWrite — решение модератора не попало в admin_actions
	ErrAuditWrite = errors.New("не удалось записать действие в журнал")
)

// Ошибки участников и чатов
var (
	// ErrUserBanned — пользователь заблокирован антиспамом или модератором
	ErrUserBanned = errors.New("вы заблокированы")
	// ErrNotParty — пользователь не участник сделки или чата
	ErrNotParty = errors.New("вы не участник этой сделки")
	// ErrChatHasOpenTransaction — чат нельзя закрыть, пока идёт сделка
	ErrChatHasOpenTransaction = errors.New("нельзя закрыть чат во время активной сделки")
	// ErrNoDraft — нет активного согласования условий
	ErrNoDraft = errors.New("нет активного согласования сделки")
	// ErrAlreadyReviewed — отзыв по сделке уже оставлен
	ErrAlreadyReviewed = errors.New("вы уже оставили отзыв по этой сделке")
)

// Ошибки админки
var (
	// ErrNotAdmin — пользователь не является модератором
	ErrNotAdmin = errors.New("у вас нет прав модератора")
	// ErrWrongPassword — неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrSessionExpired — сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, авторизуйтесь заново")
)

// ValidationError несёт сообщение, которое можно показать пользователю как есть.
// errors.Is(err, ErrValidation) == true.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid создаёт ошибку валидации для поля.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UserMessage возвращает текст ошибки для ответа пользователю.
// Неизвестные ошибки не раскрываются.
func UserMessage(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "❌ " + ve.Message
	case errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUserBanned),
		errors.Is(err, ErrNotParty),
		errors.Is(err, ErrChatHasOpenTransaction),
		errors.Is(err, ErrNoDraft),
		errors.Is(err, ErrAlreadyReviewed),
		errors.Is(err, ErrNotAdmin),
		errors.Is(err, ErrWrongPassword),
		errors.Is(err, ErrTooManyAttempts),
		errors.Is(err, ErrSessionExpired):
		return "❌ " + rootMessage(err)
	default:
		return "❌ Что-то пошло не так, попробуйте позже"
	}
}

// rootMessage возвращает текст самой глубокой обёрнутой ошибки.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
