package http

import "github.com/fyrsmithlabs/skillctx/internal/assembler"

// AugmentRequest is the request body for POST /api/v1/augment.
type AugmentRequest = assembler.Request

// AugmentResponse is the response body for POST /api/v1/augment.
type AugmentResponse = assembler.Result

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Health  string `json:"status"`
	Version string `json:"version,omitempty"`
	assembler.Status
}

// SessionResponse is the response body for DELETE /api/v1/sessions/:id.
type SessionResponse struct {
	SessionID           string `json:"session_id"`
	CacheEntriesRemoved int    `json:"cache_entries_removed"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
