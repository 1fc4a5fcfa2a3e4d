package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrAlreadyUnlocked      = errors.New("contact already unlocked")
	ErrJobNotOpen           = errors.New("job is not open")
	ErrBidNotPending        = errors.New("bid is not pending")
	ErrIllegalTransition    = errors.New("illegal status transition")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrAlreadyExists        = errors.New("already exists")
	ErrForbidden            = errors.New("forbidden")
)

// InsufficientBalanceError carries the required and available amounts.
// errors.Is(err, ErrInsufficientBalance) holds for it.
type InsufficientBalanceError struct {
	AccountID uuid.UUID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// Invalid wraps ErrInvalidInput with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
