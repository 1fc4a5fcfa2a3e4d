package providers

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
	"github.com/labourconnect/backend/internal/validate"
)

type CreateReviewRequest struct {
	Rating  int     `json:"rating"`
	Comment string  `json:"comment"`
	JobID   *string `json:"job_id"`
}

// ProfileResponse never carries the phone; see ContactResponse.
type ProfileResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Skills          []string  `json:"skills"`
	ExperienceYears int       `json:"experience_years"`
	Location        string    `json:"location"`
	PinCode         string    `json:"pin_code"`
	Rating          string    `json:"rating"`
	TotalReviews    int       `json:"total_reviews"`
	CreatedAt       time.Time `json:"created_at"`
}

type ContactResponse struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

type ReviewResponse struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	CustomerID string    `json:"customer_id"`
	JobID      *string   `json:"job_id,omitempty"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
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

// GET /api/v1/providers?skill=&pin_code=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.Search(r.Context(), models.ProviderFilter{Skill: q.Get("skill"), PinCode: q.Get("pin_code")})
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	resp := make([]ProfileResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, profileToResponse(p))
	}
	respond.JSON(w, http.StatusOK, resp)
}

// GET /api/v1/providers/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := providerID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, profileToResponse(p))
}

// GET /api/v1/providers/{id}/contact
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	caller := middleware.PrincipalFromCtx(r.Context())
	if caller == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Contact(r.Context(), caller.AccountID, id)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, ContactResponse{ProviderID: c.ProviderID.String(), Name: c.Name, Phone: c.Phone})
}

// POST /api/v1/providers/{id}/reviews
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	caller := middleware.PrincipalFromCtx(r.Context())
	if caller == nil {
		respond.Unauthorized(w, "unauthorized")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}
	var req CreateReviewRequest
	if err := h.validator.Decode(r, validate.ReviewCreate, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	in := ReviewInput{Rating: req.Rating, Comment: req.Comment}
	if req.JobID != nil {
		jobID, err := uuid.Parse(*req.JobID)
		if err != nil {
			respond.BadRequest(w, "invalid job_id")
			return
		}
		in.JobID = &jobID
	}
	rev, err := h.svc.CreateReview(r.Context(), caller.AccountID, id, in)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, reviewToResponse(rev))
}

// GET /api/v1/providers/{id}/reviews
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := providerID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListReviews(r.Context(), id)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	resp := make([]ReviewResponse, 0, len(list))
	for _, rev := range list {
		resp = append(resp, reviewToResponse(rev))
	}
	respond.JSON(w, http.StatusOK, resp)
}

func providerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.BadRequest(w, "invalid provider id")
		return uuid.Nil, false
	}
	return id, true
}

func profileToResponse(p *Profile) ProfileResponse {
	skills := p.Skills
	if skills == nil {
		skills = []string{}
	}
	return ProfileResponse{
		ID:              p.ID.String(),
		Name:            p.Name,
		Skills:          skills,
		ExperienceYears: p.ExperienceYears,
		Location:        p.Location,
		PinCode:         p.PinCode,
		Rating:          money.Format(p.Rating),
		TotalReviews:    p.TotalReviews,
		CreatedAt:       p.CreatedAt,
	}
}

func reviewToResponse(r *models.Review) ReviewResponse {
	out := ReviewResponse{
		ID:         r.ID.String(),
		ProviderID: r.ProviderID.String(),
		CustomerID: r.CustomerID.String(),
		Rating:     r.Rating,
		Comment:    r.Comment,
		CreatedAt:  r.CreatedAt,
	}
	if r.JobID != nil {
		s := r.JobID.String()
		out.JobID = &s
	}
	return out
}
