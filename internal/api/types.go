package api

import (
	pkgsync "github.com/stacklok/bimsync/internal/sync"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string `json:"status" example:"ready"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionsResponse lists sync sessions
type SessionsResponse struct {
	Sessions []pkgsync.SessionSnapshot `json:"sessions"`
	Count    int                       `json:"count"`
}
