package apiclient

import (
	"fmt"
)

// APIError is a business error from the server envelope.
type APIError struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.Code == "NOT_FOUND"
}

// IsRateLimited returns true if the request was rate limited.
func (e *APIError) IsRateLimited() bool {
	return e.Code == "RATE_LIMITED"
}

// IsMaintenance returns true if the server is in a maintenance window.
func (e *APIError) IsMaintenance() bool {
	return e.Code == "DB_MAINTENANCE"
}
