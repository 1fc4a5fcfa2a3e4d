package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labourconnect/backend/internal/auth"
	"github.com/labourconnect/backend/internal/jobs"
	"github.com/labourconnect/backend/internal/middleware"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/providers"
	"github.com/labourconnect/backend/internal/respond"
	"github.com/labourconnect/backend/internal/unlock"
	"github.com/labourconnect/backend/internal/wallet"
)

// Handlers groups the endpoint handlers mounted under /api/v1.
type Handlers struct {
	Auth      *auth.Handler
	Wallet    *wallet.Handler
	Providers *providers.Handler
	Unlock    *unlock.Handler
	Jobs      *jobs.Handler
}

// New returns the HTTP handler for the whole service. Sessions are checked
// with tokens.
func New(h Handlers, tokens middleware.TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	session := middleware.Session(tokens)
	customer := middleware.RequireRole(models.RoleCustomer)
	provider := middleware.RequireRole(models.RoleProvider)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/signup", h.Auth.Signup)
		r.Post("/auth/otp/send", h.Auth.SendOTP)
		r.Post("/auth/otp/verify", h.Auth.VerifyOTP)

		r.Get("/providers", h.Providers.Search)
		r.Get("/providers/{id}", h.Providers.Get)
		r.Get("/providers/{id}/reviews", h.Providers.ListReviews)

		r.Group(func(r chi.Router) {
			r.Use(session)

			r.Get("/me", h.Wallet.GetMe)
			r.Get("/wallet", h.Wallet.GetWallet)
			r.Post("/wallet/recharge", h.Wallet.Recharge)

			r.Get("/providers/{id}/contact", h.Providers.Contact)
			r.Get("/unlocks", h.Unlock.List)

			r.Get("/jobs", h.Jobs.ListJobs)
			r.Get("/jobs/available", h.Jobs.ListAvailable)
			r.Get("/jobs/{id}", h.Jobs.GetJob)
			r.Patch("/jobs/{id}/status", h.Jobs.SetStatus)
			r.Get("/jobs/{id}/bids", h.Jobs.ListBids)
			r.Post("/jobs/{id}/bids/{bidId}/accept", h.Jobs.AcceptBid)

			r.With(customer).Post("/providers/{id}/unlock", h.Unlock.Unlock)
			r.With(customer).Post("/providers/{id}/reviews", h.Providers.CreateReview)
			r.With(customer).Post("/jobs", h.Jobs.CreateJob)

			r.With(provider).Post("/jobs/{id}/bids", h.Jobs.PlaceBid)
			r.With(provider).Get("/bids/mine", h.Jobs.MyBids)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.NotFound(w, "route not found")
	})
	return r
}
