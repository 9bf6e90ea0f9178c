package errors

import (
	stderrors "errors"

	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/dl-alexandre/odsync/internal/types"
	"github.com/dl-alexandre/odsync/internal/utils"
)

// ClassifyGraphError converts a raw Graph transport error into the engine's
// error taxonomy: Transient (retryable), Unauthorized, NotFound, or Fatal.
func ClassifyGraphError(err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	var apiErr *types.GraphAPIError
	if !stderrors.As(err, &apiErr) {
		logger.Error("Non-API error",
			logging.F("error", err.Error()),
			logging.F("traceId", reqCtx.TraceID),
		)
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeNetworkError, err.Error()).
			WithRetryable(true).
			WithContext("traceId", reqCtx.TraceID).
			Build())
	}

	var code string
	var retryable bool

	switch apiErr.StatusCode {
	case 400:
		code = utils.ErrCodeInvalidArgument
	case 401:
		code = utils.ErrCodeAuthExpired
	case 403:
		code = utils.ErrCodePermissionDenied
		switch apiErr.Reason {
		case "activityLimitReached":
			code = utils.ErrCodeRateLimited
			retryable = true
		case "quotaLimitReached", "insufficientStorage":
			code = utils.ErrCodeQuotaExceeded
		}
	case 404:
		code = utils.ErrCodeItemNotFound
	case 409:
		code = utils.ErrCodeConflict
	case 412:
		// eTag precondition failed: the remote item changed underneath us
		code = utils.ErrCodeConflict
	case 423:
		code = utils.ErrCodePermissionDenied
	case 429:
		code = utils.ErrCodeRateLimited
		retryable = true
	case 500, 502, 503, 504:
		code = utils.ErrCodeNetworkError
		retryable = true
	case 507:
		code = utils.ErrCodeQuotaExceeded
	default:
		code = utils.ErrCodeUnknown
		retryable = apiErr.StatusCode >= 500
	}

	logger.Error("Graph error classified",
		logging.F("httpStatus", apiErr.StatusCode),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("message", apiErr.Message),
		logging.F("traceId", reqCtx.TraceID),
	)

	builder := utils.NewSyncError(code, apiErr.Message).
		WithHTTPStatus(apiErr.StatusCode).
		WithGraphReason(apiErr.Reason).
		WithRetryable(retryable).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType))

	switch code {
	case utils.ErrCodeAuthExpired:
		builder.WithContext("suggestedAction", "run 'odsync auth reset' and re-authenticate")
	case utils.ErrCodeQuotaExceeded:
		builder.WithContext("suggestedAction", "free up space in OneDrive or upgrade storage")
	case utils.ErrCodeRateLimited:
		builder.WithContext("suggestedAction", "rate limit exceeded, retrying with backoff")
	}

	return utils.NewAppError(builder.Build())
}

// IsNotFound reports whether err classifies as a vanished remote item.
func IsNotFound(err error) bool {
	return utils.ErrorCode(err) == utils.ErrCodeItemNotFound
}

// IsUnauthorized reports whether err requires re-authentication.
func IsUnauthorized(err error) bool {
	code := utils.ErrorCode(err)
	return code == utils.ErrCodeAuthExpired || code == utils.ErrCodeAuthRequired
}
