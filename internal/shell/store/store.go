package store

import (
	"context"

	"github.com/artpar/maiden/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the release history.
type Store interface {
	// Release record operations
	CreateRelease(ctx context.Context, record *domain.ReleaseRecord) error
	GetRelease(ctx context.Context, id string) (*domain.ReleaseRecord, error)
	UpdateRelease(ctx context.Context, record *domain.ReleaseRecord) error
	ListReleases(ctx context.Context, opts ListOptions) ([]domain.ReleaseRecord, error)

	// LatestSuccessful returns the newest succeeded record of op for an
	// environment, or ErrNotFound.
	LatestSuccessful(ctx context.Context, op domain.Operation, environment string) (*domain.ReleaseRecord, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit       int
	Offset      int
	Environment string           // Empty means all environments
	Operation   domain.Operation // Empty means all operations
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
