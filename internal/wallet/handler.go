package wallet

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labourconnect/backend/internal/middleware"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/respond"
	"github.com/labourconnect/backend/internal/validate"
)

type RechargeRequest struct {
	Amount string `json:"amount"`
}

type AccountResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type EntryResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balance_after"`
	Description  string    `json:"description"`
	RelatedID    *string   `json:"related_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type StatementResponse struct {
	Balance string          `json:"balance"`
	Entries []EntryResponse `json:"entries"`
}

type Handler struct {
	svc       Service
	validator *validate.Validator
	log       *slog.Logger
}

func NewHandler(svc Service, v *validate.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: v, log: log}
}

// GET /api/v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	st, err := h.svc.Statement(r.Context(), p.AccountID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, AccountToResponse(st.Account))
}

// GET /api/v1/wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	st, err := h.svc.Statement(r.Context(), p.AccountID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	resp := StatementResponse{
		Balance: money.Format(st.Account.Balance),
		Entries: make([]EntryResponse, 0, len(st.Entries)),
	}
	for _, e := range st.Entries {
		resp.Entries = append(resp.Entries, entryToResponse(e))
	}
	respond.JSON(w, http.StatusOK, resp)
}

// POST /api/v1/wallet/recharge
func (h *Handler) Recharge(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	var req RechargeRequest
	if err := h.validator.Decode(r, validate.Recharge, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	entry, err := h.svc.Recharge(r.Context(), p.AccountID, amount)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"balance": money.Format(entry.BalanceAfter),
		"entry":   entryToResponse(entry),
	})
}

func AccountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		Phone:     a.Phone,
		Name:      a.Name,
		Role:      a.Role,
		Balance:   money.Format(a.Balance),
		CreatedAt: a.CreatedAt,
	}
}

func entryToResponse(e *models.LedgerEntry) EntryResponse {
	out := EntryResponse{
		ID:           e.ID.String(),
		Kind:         e.Kind,
		Amount:       money.Format(e.Amount),
		BalanceAfter: money.Format(e.BalanceAfter),
		Description:  e.Description,
		CreatedAt:    e.CreatedAt,
	}
	if e.RelatedID != nil {
		s := e.RelatedID.String()
		out.RelatedID = &s
	}
	return out
}
