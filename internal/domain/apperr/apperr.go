// Пакет apperr — доменные ошибки сервиса со стабильными кодами.
// Код ошибки попадает в поле "code" конверта ответа,
// Status — HTTP статус, с которым ответ отдаётся клиенту.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// CodeOK — код успешного ответа.
const CodeOK = "0000"

// MessageOK — сообщение успешного ответа.
const MessageOK = "OK"

// Error — доменная ошибка.
// Две ошибки считаются одинаковыми для errors.Is, если совпадают коды.
type Error struct {
	// Code — машиночитаемый код из 4 цифр
	Code string
	// Message — описание для клиента
	Message string
	// Status — HTTP статус ответа
	Status int
	// Detail — контекст (id, имя пользователя); в ответ не попадает, только в лог
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is сравнивает ошибки по коду.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// With возвращает копию ошибки с контекстом detail.
func (e *Error) With(detail string) *Error {
	c := *e
	c.Detail = detail
	return &c
}

// Ошибки аутентификации и общие.
var (
	ErrInvalidToken = &Error{Code: "1111", Message: "Недействительный токен", Status: http.StatusUnauthorized}
	ErrPermission   = &Error{Code: "2222", Message: "Недостаточно прав", Status: http.StatusForbidden}
	ErrRequestParam = &Error{Code: "6666", Message: "Некорректные параметры запроса", Status: http.StatusBadRequest}
	ErrInternal     = &Error{Code: "9999", Message: "Внутренняя ошибка", Status: http.StatusInternalServerError}
)

// Ошибки пользователей и паролей.
var (
	ErrUsernameNotExist     = &Error{Code: "1001", Message: "Пользователь с таким именем не существует", Status: http.StatusBadRequest}
	ErrPasswordIncorrect    = &Error{Code: "1002", Message: "Неверный пароль", Status: http.StatusBadRequest}
	ErrUserNotExist         = &Error{Code: "1003", Message: "Пользователь не найден", Status: http.StatusNotFound}
	ErrUsernameRequired     = &Error{Code: "1004", Message: "Имя пользователя не может быть пустым", Status: http.StatusBadRequest}
	ErrUsernameExists       = &Error{Code: "1005", Message: "Имя пользователя уже занято", Status: http.StatusConflict}
	ErrSamePassword         = &Error{Code: "1006", Message: "Новый пароль совпадает со старым", Status: http.StatusBadRequest}
	ErrOldPasswordIncorrect = &Error{Code: "1007", Message: "Старый пароль неверен", Status: http.StatusBadRequest}
)

// Ошибки файлов.
var (
	ErrFileReadWrite = &Error{Code: "1008", Message: "Ошибка чтения/записи файла", Status: http.StatusInternalServerError}
	ErrFileCode      = &Error{Code: "1009", Message: "Неверный код файла", Status: http.StatusBadRequest}
	ErrFileNotExist  = &Error{Code: "1010", Message: "Файл не найден", Status: http.StatusNotFound}
)

// As извлекает доменную ошибку из цепочки.
// Для недоменных ошибок возвращает ErrInternal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}
