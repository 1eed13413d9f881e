// Package registry implements the artifact registry and per-environment
// promotion state machine: registering artifacts, ingesting versions, and
// tracking approval/deploying/current/previous transitions.
package registry

import (
	"context"

	"github.com/deliveryctl/core/internal/domain"
)

// ArtifactRepository registers artifacts, stores versions, records
// environment promotions, and answers lifecycle roll-up queries.
type ArtifactRepository interface {
	// Register stores a new artifact, returning true if it was newly
	// registered and false if an identical definition already existed
	// (idempotent).
	Register(ctx context.Context, a domain.Artifact) (bool, error)

	IsRegistered(ctx context.Context, key domain.ArtifactKey) (bool, error)

	// Store records a version with its status, returning true if newly
	// stored. Status is immutable: storing the same (artifact, version)
	// with a different status fails InvalidArgument.
	Store(ctx context.Context, key domain.ArtifactKey, version string, status domain.ArtifactStatus) (bool, error)

	// Versions returns the artifact's known versions matching
	// statusFilter (nil/empty means the artifact's own filter), sorted
	// newest-first under the artifact's comparator.
	Versions(ctx context.Context, key domain.ArtifactKey, statusFilter []domain.ArtifactStatus) ([]string, error)

	// GetAll returns every registered artifact, optionally restricted to
	// one type.
	GetAll(ctx context.Context, typeFilter *domain.ArtifactType) ([]domain.Artifact, error)

	// ApproveVersionFor records approval, returning true if this is a new
	// approval. Approval is monotonic.
	ApproveVersionFor(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (bool, error)

	IsApprovedFor(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (bool, error)

	// MarkAsDeployingTo is a no-op unless version was previously approved
	// in envName.
	MarkAsDeployingTo(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) error

	// MarkAsSuccessfullyDeployedTo sets current := version; the prior
	// current, if any, joins previous.
	MarkAsSuccessfullyDeployedTo(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) error

	WasSuccessfullyDeployedTo(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (bool, error)

	// LatestVersionApprovedIn returns the highest-ranked approved version
	// matching statusFilter, or ok=false if none.
	LatestVersionApprovedIn(ctx context.Context, configName string, key domain.ArtifactKey, envName string, statusFilter []domain.ArtifactStatus) (version string, ok bool, err error)

	// VersionsByEnvironment returns the pending/current/deploying/previous
	// roll-up for every (environment, artifact) pair bound in configName.
	VersionsByEnvironment(ctx context.Context, configName string) ([]domain.EnvironmentArtifactSummary, error)
}
