// Package resource stores declarative resources and their event
// histories, and drives the reconciliation claim loop.
package resource

import (
	"context"
	"time"

	"github.com/deliveryctl/core/internal/domain"
)

// Repository stores resources, appends their event history, and exposes
// the claim-for-check protocol used by reconciliation workers.
type Repository interface {
	// Store upserts by Id. On first insert allocates a fresh Uid;
	// subsequent updates preserve it. Also ensures a last-checked row
	// exists, initialized to epoch+1s so the resource is immediately due.
	Store(ctx context.Context, r domain.Resource) (domain.Resource, error)

	// Get returns the resource or NoSuchResourceID.
	Get(ctx context.Context, id string) (domain.Resource, error)

	GetResourcesByApplication(ctx context.Context, app string) ([]domain.Resource, error)
	GetResourceIDsByApplication(ctx context.Context, app string) ([]string, error)
	HasManagedResources(ctx context.Context, app string) (bool, error)

	// GetSummaryByApplication returns a per-resource projection.
	GetSummaryByApplication(ctx context.Context, app string) ([]domain.ResourceSummary, error)

	// Delete removes the resource, its events, and its last-check row;
	// fails NoSuchResourceID if absent.
	Delete(ctx context.Context, id string) error

	// DeleteByApplication deletes every resource owned by app with its
	// dependents, returning the count removed.
	DeleteByApplication(ctx context.Context, app string) (int, error)

	// AllResources streams lightweight headers to visit, finite and
	// single-pass.
	AllResources(ctx context.Context, visit func(domain.ResourceHeader) error) error

	// EventHistory returns the last limit events newest-first. Fails
	// NoSuchResourceID if the resource has no events. limit must be
	// positive, else InvalidArgument.
	EventHistory(ctx context.Context, resourceID string, limit int) ([]domain.ResourceEvent, error)

	// AppendHistory appends ev. If ev.SuppressRepeats and the most recent
	// event for the resource has the same Kind, the append is dropped
	// silently.
	AppendHistory(ctx context.Context, ev domain.ResourceEvent) error

	// ItemsDueForCheck claims up to limit resource uids whose
	// last-checked timestamp is at least minSinceLast old, ordered oldest
	// first (ties by uid ascending), advancing their timestamp to now.
	ItemsDueForCheck(ctx context.Context, minSinceLast time.Duration, limit int) ([]string, error)
}
