package unlock

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/labourconnect/backend/internal/middleware"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/respond"
)

type UnlockResponse struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ProviderID string    `json:"provider_id"`
	Fee        string    `json:"fee"`
	CreatedAt  time.Time `json:"created_at"`
}

type Handler struct {
	tr  Transactor
	log *slog.Logger
}

func NewHandler(tr Transactor, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{tr: tr, log: log}
}

// POST /api/v1/providers/{id}/unlock
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	providerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.BadRequest(w, "invalid provider id")
		return
	}
	rec, err := h.tr.Unlock(r.Context(), p.AccountID, providerID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toResponse(rec))
}

// GET /api/v1/unlocks
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	list, err := h.tr.ListByCustomer(r.Context(), p.AccountID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	resp := make([]UnlockResponse, 0, len(list))
	for _, u := range list {
		resp = append(resp, toResponse(u))
	}
	respond.JSON(w, http.StatusOK, resp)
}

func toResponse(u *models.UnlockRecord) UnlockResponse {
	return UnlockResponse{
		ID:         u.ID.String(),
		CustomerID: u.CustomerID.String(),
		ProviderID: u.ProviderID.String(),
		Fee:        money.Format(u.Fee),
		CreatedAt:  u.CreatedAt,
	}
}
