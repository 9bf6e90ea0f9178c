package types

import "fmt"

// SyncError is the structured error carried across the engine. Code is one of
// the stable error codes in internal/utils; Retryable marks transient
// failures that the next pass may clear.
type SyncError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	HTTPStatus  int                    `json:"httpStatus,omitempty"`
	GraphReason string                 `json:"graphReason,omitempty"`
	Retryable   bool                   `json:"retryable"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// GraphAPIError is the raw error shape returned by the Graph transport before
// classification.
type GraphAPIError struct {
	StatusCode int
	Reason     string
	Message    string
	RetryAfter string
}

func (e *GraphAPIError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
}
