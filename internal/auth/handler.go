package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/ratelimit"
	"github.com/labourconnect/backend/internal/respond"
	"github.com/labourconnect/backend/internal/validate"
)

// Request/response structs use snake_case JSON.

type SignupRequestBody struct {
	Phone           string   `json:"phone"`
	Name            string   `json:"name"`
	Role            string   `json:"role"`
	Skills          []string `json:"skills"`
	ExperienceYears int      `json:"experience_years"`
	Location        string   `json:"location"`
	PinCode         string   `json:"pin_code"`
}

type SendOTPRequest struct {
	Phone string `json:"phone"`
}

type VerifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type OTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// OTP is only set outside production.
	OTP string `json:"otp,omitempty"`
}

type AccountResponse struct {
	ID      string `json:"id"`
	Phone   string `json:"phone"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Balance string `json:"balance"`
}

type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Account   AccountResponse `json:"account"`
}

type Handler struct {
	svc       Service
	validator *validate.Validator
	limiter   ratelimit.Limiter
	echoCode  bool
	log       *slog.Logger
}

// NewHandler wires the auth endpoints. echoCode puts the issued code in the
// response body and must be false in production.
func NewHandler(svc Service, v *validate.Validator, limiter ratelimit.Limiter, echoCode bool, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: v, limiter: limiter, echoCode: echoCode, log: log}
}

// POST /api/v1/auth/signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequestBody
	if err := h.validator.Decode(r, validate.Signup, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if !h.allow(w, r, "otp:send:"+req.Phone) {
		return
	}
	_, code, err := h.svc.Signup(r.Context(), SignupRequest{
		Phone:           req.Phone,
		Name:            req.Name,
		Role:            req.Role,
		Skills:          req.Skills,
		ExperienceYears: req.ExperienceYears,
		Location:        req.Location,
		PinCode:         req.PinCode,
	})
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if code == "" {
		respond.JSON(w, http.StatusCreated, OTPResponse{
			Success: true,
			Message: "Account created. Could not send a code, request one from /api/v1/auth/otp/send.",
		})
		return
	}
	respond.JSON(w, http.StatusCreated, h.otpResponse("Account created. OTP sent for verification.", code))
}

// POST /api/v1/auth/otp/send
func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := h.validator.Decode(r, validate.OTPSend, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if !h.allow(w, r, "otp:send:"+req.Phone) {
		return
	}
	code, err := h.svc.SendOTP(r.Context(), req.Phone)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, h.otpResponse("OTP sent successfully", code))
}

// POST /api/v1/auth/otp/verify
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := h.validator.Decode(r, validate.OTPVerify, &req); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if !h.allow(w, r, "otp:verify:"+req.Phone) {
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Phone, req.Code)
	if errors.Is(err, ErrSignupRequired) {
		respond.NotFound(w, "user not found, please sign up first")
		return
	}
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, LoginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		Account:   accountToResponse(sess.Account),
	})
}

// allow writes 429 with Retry-After when key is over its limit. A limiter
// error fails open.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.limiter == nil {
		return true
	}
	ok, retry, err := h.limiter.Allow(r.Context(), key)
	if err != nil {
		h.log.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
		return true
	}
	if ok {
		return true
	}
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	respond.RateLimit(w, "too many attempts, try again later")
	return false
}

func (h *Handler) otpResponse(msg, code string) OTPResponse {
	resp := OTPResponse{Success: true, Message: msg}
	if h.echoCode {
		resp.OTP = code
	}
	return resp
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:      a.ID.String(),
		Phone:   a.Phone,
		Name:    a.Name,
		Role:    a.Role,
		Balance: money.Format(a.Balance),
	}
}
