package models

// Result is the response body of one timed invocation
type Result struct {
	// Elapsed is the wait for the gate plus the work, in seconds
	Elapsed float64 `json:"elapsed"`
}

// ErrorResponse is returned when an invocation fails
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Health describes the service and the current gate state
type Health struct {
	Status  string `json:"status"`
	Held    bool   `json:"held"`
	Waiting int64  `json:"waiting"`
	Uptime  string `json:"uptime"`
}
