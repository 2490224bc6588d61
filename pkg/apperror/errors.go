package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches two AppErrors by code so errors.Is works against the constructors below.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Verification (SIG) ----

func ErrMalformedSignature() *AppError {
	return New("SIG_001", "Malformed signature", http.StatusBadRequest)
}

// ErrMalformedAddress names the offending field when it is known.
func ErrMalformedAddress(field string) *AppError {
	if field == "" {
		return New("SIG_002", "Malformed address", http.StatusBadRequest)
	}
	return New("SIG_002", fmt.Sprintf("Malformed address in field %q", field), http.StatusBadRequest)
}

func ErrSignatureMismatch() *AppError {
	return New("SIG_003", "Signer does not match the authorizing account", http.StatusUnauthorized)
}

// ---- Replay (RPL) ----

func ErrReplay() *AppError {
	return New("RPL_001", "Nonce has already been used", http.StatusConflict)
}

// ---- Time windows (TIME) ----

func ErrExpired() *AppError {
	return New("TIME_001", "Authorization expired", http.StatusForbidden)
}

func ErrNotYetValid() *AppError {
	return New("TIME_002", "Authorization is not yet valid", http.StatusForbidden)
}

func ErrCliffNotReached() *AppError {
	return New("TIME_003", "Stream cliff has not been reached", http.StatusForbidden)
}

// ---- Balances (BAL) ----

func ErrChannelUnderfunded() *AppError {
	return New("BAL_001", "Channel balance is lower than the receipt amount", http.StatusPaymentRequired)
}

func ErrInsufficientBalance() *AppError {
	return New("BAL_002", "Insufficient channel balance", http.StatusPaymentRequired)
}

// ---- Amounts and requests (AMT, REQ) ----

func ErrInvalidAmount() *AppError {
	return New("AMT_001", "Invalid amount", http.StatusBadRequest)
}

// Validation returns a REQ_001 validation error.
func Validation(message string) *AppError {
	return New("REQ_001", message, http.StatusBadRequest)
}

func ErrPayloadTooLarge() *AppError {
	return New("REQ_002", "Request body too large", http.StatusRequestEntityTooLarge)
}

// ---- Authentication and authorization (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrUnauthorized() *AppError {
	return New("AUTH_002", "Caller is not allowed to perform this operation", http.StatusForbidden)
}

func ErrInvalidOperatorCredentials() *AppError {
	return New("AUTH_003", "Invalid operator credentials", http.StatusUnauthorized)
}

func ErrRequestTimestamp() *AppError {
	return New("AUTH_004", "Request timestamp outside the allowed window", http.StatusForbidden)
}

func ErrRequestNonceUsed() *AppError {
	return New("AUTH_005", "Request nonce has already been used", http.StatusConflict)
}

// ---- Streams (STR) ----

func ErrStreamInactive() *AppError {
	return New("STR_001", "Stream is not active", http.StatusConflict)
}

func ErrNotCancelable() *AppError {
	return New("STR_002", "Stream is not cancelable", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("NF_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an infrastructure failure (storage, cache, I/O) as SYS_001.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// IsInfrastructure reports whether err is an infrastructure failure rather than a
// rejection of the request itself. Unknown errors count as infrastructure.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	return strings.HasPrefix(appErr.Code, "SYS_")
}

// Retryable reports whether resubmitting the same request may succeed later.
// Infrastructure failures are retryable, as are balance and cliff rejections once the
// caller tops up or time passes. Replays, expiries and malformed input never are.
func Retryable(err error) bool {
	if IsInfrastructure(err) {
		return true
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case "BAL_001", "BAL_002", "TIME_002", "TIME_003", "RATE_001":
		return true
	}
	return false
}

// CodeOf returns the error code of err, or SYS_000 for errors outside the taxonomy.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "SYS_000"
}
