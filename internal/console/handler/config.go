package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eudresfs/pgben-approval-engine/internal/console/service"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"github.com/eudresfs/pgben-approval-engine/internal/infra/auth"

	"github.com/go-chi/chi/v5"
)

type ConfigHandler struct {
	service *service.ConfigService
}

func NewConfigHandler(s *service.ConfigService) *ConfigHandler {
	return &ConfigHandler{service: s}
}

// Get возвращает детали конфигурации действия по ID.
// GET /v1/action-configs/{id}
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to retrieve config: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		http.Error(w, "Config not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// List возвращает все живые конфигурации для админки
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.GetAll(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch configs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(configs)
}

// Create регистрирует новый тип критического действия
func (h *ConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg domain.ActionConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.ActionType == "" {
		http.Error(w, "action_type is required", http.StatusBadRequest)
		return
	}

	if err := h.service.Create(r.Context(), &cfg, auth.UserID(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cfg)
}

// Update меняет стратегию, порог или профили автоаппробации.
// Открытые заявки изменений не видят: их параметры заморожены.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg domain.ActionConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cfg.ID = id

	if err := h.service.Update(r.Context(), &cfg, auth.UserID(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete — soft-delete с защитой от открытых заявок
func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id, auth.UserID(r.Context())); err != nil {
		if errors.Is(err, domain.ErrConfigInUse) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, domain.ErrUnknownActionType) {
			http.Error(w, "Config not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRoster отдает ростер согласующих для типа действия.
// GET /v1/action-configs/{actionType}/approvers
func (h *ConfigHandler) ListRoster(w http.ResponseWriter, r *http.Request) {
	actionType := chi.URLParam(r, "actionType")

	roster, err := h.service.ListRoster(r.Context(), actionType)
	if err != nil {
		http.Error(w, "Failed to fetch roster", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(roster)
}

type RosterRequest struct {
	UserID string `json:"user_id"`
}

// AddApprover добавляет пользователя в ростер типа действия
func (h *ConfigHandler) AddApprover(w http.ResponseWriter, r *http.Request) {
	actionType := chi.URLParam(r, "actionType")

	var req RosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.AddApprover(r.Context(), actionType, req.UserID, auth.UserID(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// RemoveApprover мягко снимает пользователя с ростера
func (h *ConfigHandler) RemoveApprover(w http.ResponseWriter, r *http.Request) {
	actionType := chi.URLParam(r, "actionType")
	userID := chi.URLParam(r, "userId")

	if err := h.service.RemoveApprover(r.Context(), actionType, userID, auth.UserID(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
