package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/dl-alexandre/odsync/internal/errors"
	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/dl-alexandre/odsync/internal/types"
	"github.com/dl-alexandre/odsync/internal/utils"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Graph API endpoint
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client wraps the Graph API with retry logic and error classification
type Client struct {
	httpClient *http.Client
	tokens     oauth2.TokenSource
	baseURL    string
	maxRetries int
	retryDelay time.Duration
	logger     logging.Logger
}

// NewClient creates a new Graph API client. timeoutSec bounds each HTTP
// request including its body; 0 disables the deadline. A timed-out
// transfer surfaces as a retryable failure and resumes from its offset.
func NewClient(tokens oauth2.TokenSource, maxRetries int, retryDelayMs int, timeoutSec int, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		tokens:     tokens,
		baseURL:    DefaultBaseURL,
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelayMs) * time.Millisecond,
		logger:     logger,
	}
}

// SetBaseURL overrides the API endpoint (tests)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimSuffix(url, "/")
}

// SetHTTPClient overrides the transport (tests)
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(profile, mappingID string, requestType types.RequestType) *types.RequestContext {
	return &types.RequestContext{
		Profile:     profile,
		MappingID:   mappingID,
		RequestType: requestType,
		TraceID:     uuid.New().String(),
	}
}

// ExecuteWithRetry executes an API call with retry logic
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := client.logger.WithTraceID(reqCtx.TraceID)
	logger.Debug("API operation starting",
		logging.F("requestType", reqCtx.RequestType),
		logging.F("mapping", reqCtx.MappingID),
	)

	start := time.Now()

	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying API operation",
				logging.F("attempt", attempt),
				logging.F("maxRetries", client.maxRetries),
			)
		}

		result, lastErr = fn()
		if lastErr == nil {
			duration := time.Since(start)
			logger.Debug("API operation completed",
				logging.F("duration_ms", duration.Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		if !isRetryable(lastErr) {
			logger.Error("API operation failed (non-retryable)",
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt+1),
			)
			return result, errors.ClassifyGraphError(lastErr, reqCtx, client.logger)
		}

		if attempt < client.maxRetries {
			delay := calculateBackoff(client.retryDelay, attempt, lastErr)
			logger.Warn("API operation failed (retryable)",
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	logger.Error("API operation failed after max retries",
		logging.F("attempts", client.maxRetries+1),
		logging.F("error", lastErr.Error()),
	)

	return result, errors.ClassifyGraphError(lastErr, reqCtx, client.logger)
}

// isRetryable checks if an error is retryable
func isRetryable(err error) bool {
	var apiErr *types.GraphAPIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// Raw transport failures (connection reset, DNS) are retryable
	return true
}

// calculateBackoff calculates the retry delay with exponential backoff
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	// Honor Retry-After when the server sent one
	var apiErr *types.GraphAPIError
	if stderrors.As(err, &apiErr) && apiErr.RetryAfter != "" {
		if seconds, parseErr := strconv.Atoi(apiErr.RetryAfter); parseErr == nil {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Duration(utils.MaxRetryDelayMs)*time.Millisecond {
				return time.Duration(utils.MaxRetryDelayMs) * time.Millisecond
			}
			return delay
		}
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))

	if delay > time.Duration(utils.MaxRetryDelayMs)*time.Millisecond {
		delay = time.Duration(utils.MaxRetryDelayMs) * time.Millisecond
	}

	// Jitter of up to ±25%
	jitterRange := delay / 4
	if jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay = delay + jitter
	}

	if delay < 0 {
		delay = baseDelay
	}

	return delay
}

// newRequest builds an authenticated request. Absolute URLs (nextLinks,
// upload sessions) are used verbatim; other paths are joined to the base URL.
func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + url
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, utils.NewAppError(utils.NewSyncError(utils.ErrCodeAuthRequired, err.Error()).Build())
		}
		token.SetAuthHeader(req)
	}
	return req, nil
}

// doJSON executes a request and decodes the JSON response into out. Non-2xx
// responses are returned as *types.GraphAPIError.
func (c *Client) doJSON(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiErrorFromResponse(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiErrorFromResponse converts an error response body into GraphAPIError
func apiErrorFromResponse(resp *http.Response) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &payload); err != nil {
		payload.Error.Message = strings.TrimSpace(string(data))
	}
	if payload.Error.Message == "" {
		payload.Error.Message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}
	return &types.GraphAPIError{
		StatusCode: resp.StatusCode,
		Reason:     payload.Error.Code,
		Message:    payload.Error.Message,
		RetryAfter: resp.Header.Get("Retry-After"),
	}
}
