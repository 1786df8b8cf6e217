package handler

import (
	"encoding/json"
	"net/http"

	"github.com/eudresfs/pgben-approval-engine/internal/console/service"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login выдает RS256-токен по логину и паролю согласующего
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid login payload"})
		return
	}
	defer r.Body.Close()

	token, err := h.auth.GenerateToken(r.Context(), creds.Username, creds.Password)
	if err != nil {
		// Ответ одинаков для неизвестного логина и неверного пароля:
		// перечислить учетные записи перебором не выйдет
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "credenciais invalidas"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(token)
}
