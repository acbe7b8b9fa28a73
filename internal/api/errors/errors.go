// Пакет errors — запись ответов в едином конверте zero-server.
// Формат: {"code": "0000", "message": "OK", "data": {...}}.
// Ошибки используют тот же конверт с data = null и HTTP статусом из apperr.
// Все HTTP-ответы API должны проходить через WriteOK / WriteError.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/zero-server/internal/domain/apperr"
)

// Envelope — тело любого ответа API.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// WriteOK записывает успешный ответ с данными data.
func WriteOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, Envelope{
		Code:    apperr.CodeOK,
		Message: apperr.MessageOK,
		Data:    data,
	})
}

// WriteError записывает ответ ошибки. Недоменные ошибки отдаются
// как ErrInternal без подробностей; логирование — на вызывающей стороне.
func WriteError(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	writeEnvelope(w, e.Status, Envelope{
		Code:    e.Code,
		Message: e.Message,
	})
}

// --- Конструкторы для типичных ошибок ---

// InvalidToken — 401 токен отсутствует или недействителен.
func InvalidToken(w http.ResponseWriter) {
	WriteError(w, apperr.ErrInvalidToken)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter) {
	WriteError(w, apperr.ErrPermission)
}

// RequestParam — 400 некорректные параметры запроса.
func RequestParam(w http.ResponseWriter) {
	WriteError(w, apperr.ErrRequestParam)
}

func writeEnvelope(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
