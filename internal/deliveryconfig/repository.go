// Package deliveryconfig stores the binding of artifacts to environments,
// per-environment constraint state, and the environment/resource
// membership a delivery config owns.
package deliveryconfig

import (
	"context"
	"time"

	"github.com/deliveryctl/core/internal/domain"
)

// Repository stores delivery configs, resolves reverse resource lookups,
// tracks constraint state, and implements the periodically-checked
// contract for configs.
type Repository interface {
	// Store upserts config by name. Artifacts/environments present before
	// the call but absent after are detached — not cascaded into
	// promotion history.
	Store(ctx context.Context, config domain.DeliveryConfig) error

	// Get returns the named config, or NoSuchDeliveryConfigName.
	Get(ctx context.Context, name string) (domain.DeliveryConfig, error)

	// EnvironmentFor and DeliveryConfigFor are reverse lookups from a
	// resource id; ok is false if the resource is unmanaged.
	EnvironmentFor(ctx context.Context, resourceID string) (envName string, ok bool, err error)
	DeliveryConfigFor(ctx context.Context, resourceID string) (configName string, ok bool, err error)

	// GetByApplication returns every config owned by app.
	GetByApplication(ctx context.Context, app string) ([]domain.DeliveryConfig, error)

	// DeleteByApplication removes app's configs (not their resources),
	// returning the count removed.
	DeleteByApplication(ctx context.Context, app string) (int, error)

	// StoreConstraintState upserts the latest state for
	// (config, env, version, type).
	StoreConstraintState(ctx context.Context, state domain.ConstraintState) error

	// GetConstraintState is a point lookup; ok is false if absent.
	GetConstraintState(ctx context.Context, key domain.ConstraintStateKey) (state domain.ConstraintState, ok bool, err error)

	// ConstraintStateForApplication returns, for each (env, type) pair
	// across the application's configs, the single most recent state.
	ConstraintStateForApplication(ctx context.Context, app string) ([]domain.ConstraintState, error)

	// ConstraintStateForEnvironment returns the most recent limit states
	// across all types in (configName, envName), newest first.
	ConstraintStateForEnvironment(ctx context.Context, configName, envName string, limit int) ([]domain.ConstraintState, error)

	// ItemsDueForCheck claims up to limit config names whose last-check
	// timestamp is at least minSinceLast old, advancing it to now.
	ItemsDueForCheck(ctx context.Context, minSinceLast time.Duration, limit int) ([]string, error)
}
