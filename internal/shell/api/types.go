package api

import (
	"time"

	"github.com/artpar/maiden/internal/core/domain"
)

// EnvironmentResponse describes one configured environment.
type EnvironmentResponse struct {
	Name             string     `json:"name"`
	Domain           string     `json:"domain"`
	Path             string     `json:"path"`
	InstalledVersion string     `json:"installed_version,omitempty"`
	InstalledAt      *time.Time `json:"installed_at,omitempty"`
}

// ListEnvironmentsResponse is the response for listing environments.
type ListEnvironmentsResponse struct {
	Environments []EnvironmentResponse `json:"environments"`
}

// ListReleasesResponse is the response for listing release records.
type ListReleasesResponse struct {
	Releases []domain.ReleaseRecord `json:"releases"`
	Total    int                    `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
