// Package respond writes JSON bodies and maps engine error kinds to HTTP.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeRateLimit           = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeAlreadyUnlocked     = "ALREADY_UNLOCKED"
	CodeJobNotOpen          = "JOB_NOT_OPEN"
	CodeBidNotPending       = "BID_NOT_PENDING"
	CodeIllegalTransition   = "ILLEGAL_TRANSITION"
	CodeInvalidCode         = "INVALID_OR_EXPIRED_CODE"
	CodeAlreadyExists       = "ALREADY_EXISTS"
)

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func WriteError(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}

func WriteErrorWithDetails(w http.ResponseWriter, status int, message, code string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message, CodeForbidden)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func RateLimit(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, message, CodeRateLimit)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

type balanceDetails struct {
	Required  string `json:"required"`
	Available string `json:"available"`
}

// Error maps err onto a status and code. Unknown errors are logged and
// reported as 500 without their text.
func Error(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var insufficient *models.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		WriteErrorWithDetails(w, http.StatusPaymentRequired, "insufficient balance", CodeInsufficientBalance,
			balanceDetails{Required: money.Format(insufficient.Required), Available: money.Format(insufficient.Available)})
	case errors.Is(err, models.ErrInsufficientBalance):
		WriteError(w, http.StatusPaymentRequired, "insufficient balance", CodeInsufficientBalance)
	case errors.Is(err, models.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, err.Error(), CodeInvalidInput)
	case errors.Is(err, models.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not found", CodeNotFound)
	case errors.Is(err, models.ErrAlreadyUnlocked):
		WriteError(w, http.StatusConflict, "contact already unlocked", CodeAlreadyUnlocked)
	case errors.Is(err, models.ErrJobNotOpen):
		WriteError(w, http.StatusConflict, "job is not open", CodeJobNotOpen)
	case errors.Is(err, models.ErrBidNotPending):
		WriteError(w, http.StatusConflict, "bid is not pending", CodeBidNotPending)
	case errors.Is(err, models.ErrIllegalTransition):
		WriteError(w, http.StatusConflict, err.Error(), CodeIllegalTransition)
	case errors.Is(err, models.ErrAlreadyExists):
		WriteError(w, http.StatusConflict, "already exists", CodeAlreadyExists)
	case errors.Is(err, models.ErrInvalidOrExpiredCode):
		WriteError(w, http.StatusUnauthorized, "invalid or expired code", CodeInvalidCode)
	case errors.Is(err, models.ErrForbidden):
		Forbidden(w, "forbidden")
	default:
		if log == nil {
			log = slog.Default()
		}
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		InternalError(w, "internal error")
	}
}
