package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the caller-facing error shape. Message and Data are safe to
// surface; Err holds the internal cause and is only ever logged.
type AppError struct {
	StatusCode int
	Message    string
	Data       interface{}
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func NewValidationError(err error, message string, data interface{}) *AppError {
	return &AppError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Data:       data,
		Err:        err,
	}
}

func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Err:        err,
	}
}

// NewUnauthorizedError carries no detail on purpose: every authentication
// failure looks identical to the caller.
func NewUnauthorizedError(err error) *AppError {
	return &AppError{
		StatusCode: http.StatusUnauthorized,
		Message:    "Unauthorized",
		Err:        err,
	}
}

func NewAuthFailedError(remainingAttempts int) *AppError {
	return &AppError{
		StatusCode: http.StatusUnauthorized,
		Message:    "Invalid credentials",
		Data: map[string]interface{}{
			"remaining_attempts": remainingAttempts,
		},
	}
}

func NewRateLimitError(retryAfterSeconds int, resetTime *time.Time) *AppError {
	data := map[string]interface{}{
		"retry_after_seconds": retryAfterSeconds,
	}
	if resetTime != nil {
		data["reset_time"] = resetTime.Unix()
	}
	return &AppError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "Too many requests. Please try again later.",
		Data:       data,
	}
}

func NewLockoutError(lockedUntil time.Time) *AppError {
	return &AppError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "Account temporarily locked",
		Data: map[string]interface{}{
			"locked":       true,
			"locked_until": lockedUntil.Unix(),
		},
	}
}

// NewStorageError hides the backend failure behind a generic message; the
// cause stays on Err for server-side logging.
func NewStorageError(err error) *AppError {
	return &AppError{
		StatusCode: http.StatusInternalServerError,
		Message:    "Internal Server Error",
		Err:        err,
	}
}
