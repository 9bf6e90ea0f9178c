package utils

import (
	"errors"
	"fmt"

	"github.com/dl-alexandre/odsync/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthRequired = 10
	ExitAuthExpired  = 11
	// Item errors (20-29)
	ExitItemNotFound     = 20
	ExitPermissionDenied = 21
	ExitQuotaExceeded    = 22
	// Network errors (30-39)
	ExitNetworkError = 30
	ExitTimeout      = 31
	ExitRateLimited  = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPath     = 41
	// Sync errors (50-59)
	ExitConflict         = 50
	ExitIntegrity        = 51
	ExitStoreUnavailable = 52
	ExitPassInProgress   = 53
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired     = "AUTH_REQUIRED"
	ErrCodeAuthExpired      = "AUTH_EXPIRED"
	ErrCodeItemNotFound     = "ITEM_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeInvalidPath      = "INVALID_PATH"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeIntegrity        = "INTEGRITY"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodePassInProgress   = "PASS_IN_PROGRESS"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnknown          = "UNKNOWN"
)

// SyncErrorBuilder helps construct SyncError instances
type SyncErrorBuilder struct {
	err types.SyncError
}

// NewSyncError creates a new error builder
func NewSyncError(code, message string) *SyncErrorBuilder {
	return &SyncErrorBuilder{
		err: types.SyncError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *SyncErrorBuilder) WithHTTPStatus(status int) *SyncErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *SyncErrorBuilder) WithGraphReason(reason string) *SyncErrorBuilder {
	b.err.GraphReason = reason
	return b
}

func (b *SyncErrorBuilder) WithRetryable(retryable bool) *SyncErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *SyncErrorBuilder) WithContext(key string, value interface{}) *SyncErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *SyncErrorBuilder) Build() types.SyncError {
	return b.err
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeAuthRequired:     ExitAuthRequired,
		ErrCodeAuthExpired:      ExitAuthExpired,
		ErrCodeItemNotFound:     ExitItemNotFound,
		ErrCodePermissionDenied: ExitPermissionDenied,
		ErrCodeQuotaExceeded:    ExitQuotaExceeded,
		ErrCodeNetworkError:     ExitNetworkError,
		ErrCodeTimeout:          ExitTimeout,
		ErrCodeRateLimited:      ExitRateLimited,
		ErrCodeInvalidArgument:  ExitInvalidArgument,
		ErrCodeInvalidPath:      ExitInvalidPath,
		ErrCodeConflict:         ExitConflict,
		ErrCodeIntegrity:        ExitIntegrity,
		ErrCodeStoreUnavailable: ExitStoreUnavailable,
		ErrCodePassInProgress:   ExitPassInProgress,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries structured sync error info
type AppError struct {
	SyncError types.SyncError
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.SyncError.Code, e.SyncError.Message)
}

// NewAppError creates an AppError from a SyncError
func NewAppError(syncErr types.SyncError) *AppError {
	return &AppError{SyncError: syncErr}
}

// ErrorCode extracts the stable error code from err, or ErrCodeUnknown.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.SyncError.Code
	}
	return ErrCodeUnknown
}

// IsRetryable reports whether err carries a retryable sync error.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.SyncError.Retryable
	}
	return false
}
