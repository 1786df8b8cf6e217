package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/eudresfs/pgben-approval-engine/internal/approval"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"github.com/eudresfs/pgben-approval-engine/internal/infra/auth"

	"github.com/go-chi/chi/v5"
)

// RequestService описывает, что хендлеру нужно от ядра согласований
type RequestService interface {
	GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	FindByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error)
	ListRequests(ctx context.Context, filter approval.ListFilter) ([]*domain.ApprovalRequest, int64, error)
	ListAssignments(ctx context.Context, requestID string) ([]domain.ApproverAssignment, error)
	Decide(ctx context.Context, requestID, approverID string, approved bool, justification string, attachments []string) (*domain.ApprovalRequest, error)
	Cancel(ctx context.Context, requestID, requesterID string) (*domain.ApprovalRequest, error)
	Reprocess(ctx context.Context, requestID, actorID string) (*domain.ApprovalRequest, error)
}

type RequestHandler struct {
	service RequestService
}

func NewRequestHandler(s RequestService) *RequestHandler {
	return &RequestHandler{service: s}
}

// List — очередь заявок (Decision Queue).
// GET /v1/requests?status=PENDING&approver_id=me&limit=20&offset=0
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := approval.ListFilter{
		Status:      domain.RequestStatus(q.Get("status")),
		ActionType:  q.Get("action_type"),
		RequesterID: q.Get("requester_id"),
		ApproverID:  q.Get("approver_id"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	// approver_id=me — очередь текущего пользователя
	if filter.ApproverID == "me" {
		filter.ApproverID = auth.UserID(r.Context())
	}

	list, total, err := h.service.ListRequests(r.Context(), filter)
	if err != nil {
		http.Error(w, "Failed to fetch requests", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": list,
		"total": total,
	})
}

// Get возвращает заявку вместе с назначениями согласующих.
// GET /v1/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	assignments, err := h.service.ListAssignments(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to fetch assignments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"request":   req,
		"approvers": assignments,
	})
}

// GetByCode — выборка по человекочитаемому коду SOL-...
// GET /v1/requests/code/{code}
func (h *RequestHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	req, err := h.service.FindByCode(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

type DecideRequest struct {
	Approved      bool     `json:"approved"`
	Justification string   `json:"justification"`
	Attachments   []string `json:"attachments,omitempty"`
}

// Decide фиксирует решение согласующего.
// POST /v1/requests/{id}/decide
func (h *RequestHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	approverID := auth.UserID(r.Context())
	if approverID == "" {
		http.Error(w, "approver identity is required", http.StatusUnauthorized)
		return
	}

	updated, err := h.service.Decide(r.Context(), id, approverID, req.Approved, req.Justification, req.Attachments)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// Cancel — отзыв заявки заявителем.
// POST /v1/requests/{id}/cancel
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	requesterID := auth.UserID(r.Context())
	if requesterID == "" {
		http.Error(w, "requester identity is required", http.StatusUnauthorized)
		return
	}

	updated, err := h.service.Cancel(r.Context(), id, requesterID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// Reprocess возвращает заявку из EXECUTION_ERROR в очередь исполнения.
// POST /v1/requests/{id}/reprocess
func (h *RequestHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	actorID := auth.UserID(r.Context())
	if !auth.HasScope(r.Context(), "admin") {
		http.Error(w, "admin scope required", http.StatusForbidden)
		return
	}

	updated, err := h.service.Reprocess(r.Context(), id, actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// writeError маппит таксономию доменных ошибок в HTTP статусы
func (h *RequestHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRequestNotFound):
		status = http.StatusNotFound
	case domain.IsAuthorization(err):
		status = http.StatusForbidden
	case domain.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmptyRequester), errors.Is(err, domain.ErrUnknownActionType):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
