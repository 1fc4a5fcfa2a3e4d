package jobs

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/middleware"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/respond"
	"github.com/labourconnect/backend/internal/validate"
)

// Request/response structs use snake_case JSON and string amounts.

type CreateJobRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Budget      *string `json:"budget"`
	Location    string  `json:"location"`
	PinCode     string  `json:"pin_code"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type PlaceBidRequest struct {
	Amount  string `json:"amount"`
	Message string `json:"message"`
}

type JobResponse struct {
	ID                 string    `json:"id"`
	CustomerID         string    `json:"customer_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Category           string    `json:"category"`
	Budget             *string   `json:"budget,omitempty"`
	Location           string    `json:"location"`
	PinCode            string    `json:"pin_code"`
	Status             string    `json:"status"`
	AssignedProviderID *string   `json:"assigned_provider_id,omitempty"`
	AcceptedBidID      *string   `json:"accepted_bid_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type BidResponse struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	ProviderID string    `json:"provider_id"`
	Amount     string    `json:"amount"`
	Message    string    `json:"message,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProviderLookup resolves the caller's provider profile.
type ProviderLookup interface {
	GetProviderByAccount(ctx context.Context, accountID uuid.UUID) (*models.Provider, error)
}

type Handler struct {
	svc       Service
	providers ProviderLookup
	validator *validate.Validator
	log       *slog.Logger
}

func NewHandler(svc Service, providers ProviderLookup, v *validate.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, providers: providers, validator: v, log: log}
}

// POST /api/v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	var req CreateJobRequest
	if err := h.validator.Decode(r, validate.JobCreate, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	d := JobDetails{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Location:    req.Location,
		PinCode:     req.PinCode,
	}
	if req.Budget != nil {
		b, err := money.ParsePositive(*req.Budget)
		if err != nil {
			respond.Error(w, r, h.log, err)
			return
		}
		d.Budget = &b
	}
	job, err := h.svc.PostJob(r.Context(), p.AccountID, d)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, jobToResponse(job))
}

// GET /api/v1/jobs?customer_id=&status=
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var f models.JobFilter
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respond.BadRequest(w, "invalid customer_id")
			return
		}
		f.CustomerID = &id
	}
	f.Status = r.URL.Query().Get("status")
	list, err := h.svc.ListJobs(r.Context(), f)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, jobsToResponse(list))
}

// GET /api/v1/jobs/available
func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAvailable(r.Context())
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, jobsToResponse(list))
}

// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, jobToResponse(job))
}

// PATCH /api/v1/jobs/{id}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if !h.requireOwner(w, r, jobID) {
		return
	}
	var req SetStatusRequest
	if err := h.validator.Decode(r, validate.JobStatus, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	job, err := h.svc.SetJobStatus(r.Context(), jobID, req.Status)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, jobToResponse(job))
}

// POST /api/v1/jobs/{id}/bids
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	prov, ok := h.callerProvider(w, r)
	if !ok {
		return
	}
	var req PlaceBidRequest
	if err := h.validator.Decode(r, validate.BidCreate, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	bid, err := h.svc.PlaceBid(r.Context(), jobID, prov.ID, amount, req.Message)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, bidToResponse(bid))
}

// GET /api/v1/jobs/{id}/bids
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.svc.BidsForJob(r.Context(), jobID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, bidsToResponse(list))
}

// POST /api/v1/jobs/{id}/bids/{bidId}/accept
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bidID, ok := pathID(w, r, "bidId")
	if !ok {
		return
	}
	if !h.requireOwner(w, r, jobID) {
		return
	}
	job, err := h.svc.AcceptBid(r.Context(), jobID, bidID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, jobToResponse(job))
}

// GET /api/v1/bids/mine
func (h *Handler) MyBids(w http.ResponseWriter, r *http.Request) {
	prov, ok := h.callerProvider(w, r)
	if !ok {
		return
	}
	list, err := h.svc.BidsByProvider(r.Context(), prov.ID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, bidsToResponse(list))
}

// requireOwner writes 403 unless the caller posted jobID.
func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) bool {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return false
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return false
	}
	if !IsOwner(job, p.AccountID) {
		respond.Forbidden(w, "only the job owner can do this")
		return false
	}
	return true
}

func (h *Handler) callerProvider(w http.ResponseWriter, r *http.Request) (*models.Provider, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		respond.Unauthorized(w, "unauthorized")
		return nil, false
	}
	prov, err := h.providers.GetProviderByAccount(r.Context(), p.AccountID)
	if err != nil {
		respond.Forbidden(w, "caller has no provider profile")
		return nil, false
	}
	return prov, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respond.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func jobToResponse(j *models.Job) JobResponse {
	out := JobResponse{
		ID:          j.ID.String(),
		CustomerID:  j.CustomerID.String(),
		Title:       j.Title,
		Description: j.Description,
		Category:    j.Category,
		Budget:      formatOptional(j.Budget),
		Location:    j.Location,
		PinCode:     j.PinCode,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if j.AssignedProviderID != nil {
		s := j.AssignedProviderID.String()
		out.AssignedProviderID = &s
	}
	if j.AcceptedBidID != nil {
		s := j.AcceptedBidID.String()
		out.AcceptedBidID = &s
	}
	return out
}

func jobsToResponse(list []*models.Job) []JobResponse {
	resp := make([]JobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, jobToResponse(j))
	}
	return resp
}

func bidToResponse(b *models.Bid) BidResponse {
	return BidResponse{
		ID:         b.ID.String(),
		JobID:      b.JobID.String(),
		ProviderID: b.ProviderID.String(),
		Amount:     money.Format(b.Amount),
		Message:    b.Message,
		Status:     b.Status,
		CreatedAt:  b.CreatedAt,
	}
}

func bidsToResponse(list []*models.Bid) []BidResponse {
	resp := make([]BidResponse, 0, len(list))
	for _, b := range list {
		resp = append(resp, bidToResponse(b))
	}
	return resp
}

func formatOptional(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money.Format(*d)
	return &s
}
