// auth.go — обработчики /api/oauth2: вход и выход.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/zero-server/internal/api/errors"
)

// loginParam — параметры входа.
type loginParam struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginData — ответ входа.
type loginData struct {
	Token string `json:"token"`
}

// Login — POST /api/oauth2/login.
// Доступ: без аутентификации.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var p loginParam
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}

	tok, err := h.auth.Login(r.Context(), p.Username, p.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, loginData{Token: tok})
}

// Logout — POST /api/oauth2/logout.
// Доступ: действующий токен (без продления сессии).
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), r.Header.Get("Authorization")); err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, struct{}{})
}
