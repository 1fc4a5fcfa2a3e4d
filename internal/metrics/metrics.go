// Package metrics holds the Prometheus collectors for the API and the engine.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/labourconnect/backend/internal/models"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})

	WalletOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_wallet_operations_total",
		Help: "Wallet credits and debits by outcome",
	}, []string{"op", "result"})

	Unlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_unlocks_total",
		Help: "Contact unlock attempts by outcome",
	}, []string{"result"})

	OTP = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_otp_total",
		Help: "OTP issue and verify calls by outcome",
	}, []string{"op", "result"})

	BidAcceptances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_bid_acceptances_total",
		Help: "acceptBid calls by outcome",
	}, []string{"result"})

	LedgerMismatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_ledger_mismatched_accounts",
		Help: "Accounts whose cached balance differs from the sum of their entries at the last reconciliation",
	})
)

// Result turns an operation error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, models.ErrAlreadyUnlocked):
		return "already_unlocked"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrJobNotOpen):
		return "job_not_open"
	case errors.Is(err, models.ErrBidNotPending):
		return "bid_not_pending"
	case errors.Is(err, models.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, models.ErrInvalidOrExpiredCode):
		return "invalid_code"
	default:
		return "error"
	}
}
