package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/breadline/orderform/auth"
	"github.com/breadline/orderform/httpx"
)

// AuthHandler implements the shared-password gate in front of the back
// office. One password, no accounts.
type AuthHandler struct {
	PasswordHash string
}

func NewAuthHandler(passwordHash string) *AuthHandler {
	return &AuthHandler{PasswordHash: passwordHash}
}

// Login: POST /login {password}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if h.PasswordHash == "" || !auth.CheckPassword(h.PasswordHash, req.Password) {
		httpx.JSONError(w, http.StatusUnauthorized, "invalid_password", nil)
		return
	}
	auth.CreateSession(w)
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Logout: POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearSession(w)
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}
