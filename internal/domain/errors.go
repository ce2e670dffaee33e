package domain

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTokenNotWhitelisted = errors.New("token not whitelisted")
	ErrRouterNotConfigured = errors.New("router not configured")
	ErrInvalidAmount       = errors.New("invalid loan amount")
	ErrAmountExceedsLimit  = errors.New("loan amount exceeds limit")
	ErrProfitBelowMinimum  = errors.New("min profit below configured floor")
	ErrExecutionInProgress = errors.New("execution already in progress")
	ErrLoanRequestFailed   = errors.New("loan request failed")
	ErrInvalidCaller       = errors.New("callback from unknown caller")
	ErrInvalidInitiator    = errors.New("loan initiated by unknown party")
	ErrMalformedContext    = errors.New("malformed loan context")
	ErrInsufficientProfit  = errors.New("insufficient profit")
	ErrRepaymentShortfall  = errors.New("repayment shortfall")
	ErrUnsupportedDex      = errors.New("unsupported dex router kind")

	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrNotFound              = errors.New("not found")
	ErrLockHeld              = errors.New("lock already held")
)
