package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deliveryctl/core/internal/clock"
	"github.com/deliveryctl/core/internal/domain"
	"github.com/deliveryctl/core/internal/domainerr"
)

// setupTestDB creates a PostgreSQL container and returns a connection pool
// with the registry-relevant tables pre-created, mirroring the shape of
// migrations/00001_init_schema.sql.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("deliverycore_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	const schema = `
	CREATE TABLE artifact (
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		status_filter JSONB NOT NULL DEFAULT '[]',
		strategy_kind TEXT NOT NULL,
		strategy_custom_regex TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (name, type)
	);
	CREATE TABLE artifact_version (
		artifact_name TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		version TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (artifact_name, artifact_type, version)
	);
	CREATE TABLE environment_artifact (
		config_name TEXT NOT NULL,
		env_name TEXT NOT NULL,
		artifact_name TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		PRIMARY KEY (config_name, env_name, artifact_name, artifact_type)
	);
	CREATE TABLE environment_artifact_version_promotion (
		config_name TEXT NOT NULL,
		artifact_name TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		env_name TEXT NOT NULL,
		version TEXT NOT NULL,
		approved_at TIMESTAMPTZ NOT NULL,
		deploying_at TIMESTAMPTZ,
		deployed_successfully_at TIMESTAMPTZ,
		PRIMARY KEY (config_name, artifact_name, artifact_type, env_name, version)
	);
	`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err, "failed to create schema")

	return pool
}

func newTestRepo(t *testing.T) *PostgresArtifactRepository {
	pool := setupTestDB(t)
	t.Cleanup(pool.Close)
	return NewPostgresArtifactRepository(pool, clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
}

// newTestRepoWithClock is used by tests that need to advance the clock
// between operations to produce distinct approved_at/deployed_at
// timestamps for ordering assertions.
func newTestRepoWithClock(t *testing.T) (*PostgresArtifactRepository, *clock.Mutable) {
	pool := setupTestDB(t)
	t.Cleanup(pool.Close)
	mutable := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewPostgresArtifactRepository(pool, mutable, nil), mutable
}

func debianArtifact(name string) domain.Artifact {
	return domain.Artifact{
		Name:     name,
		Type:     domain.ArtifactTypeDebian,
		Strategy: domain.VersioningStrategy{Kind: domain.VersioningStrategyDebian},
	}
}

func TestRegister_IdempotentOnIdenticalDefinition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := debianArtifact("keeldemo")

	first, err := repo.Register(ctx, a)
	require.NoError(t, err)
	require.True(t, first)

	second, err := repo.Register(ctx, a)
	require.NoError(t, err)
	require.False(t, second)

	registered, err := repo.IsRegistered(ctx, a.Key())
	require.NoError(t, err)
	require.True(t, registered)
}

func TestStore_StatusIsImmutable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := debianArtifact("keeldemo")
	_, err := repo.Register(ctx, a)
	require.NoError(t, err)

	stored, err := repo.Store(ctx, a.Key(), "0.0.1-h1.abc", domain.StatusSnapshot)
	require.NoError(t, err)
	require.True(t, stored)

	again, err := repo.Store(ctx, a.Key(), "0.0.1-h1.abc", domain.StatusSnapshot)
	require.NoError(t, err)
	require.False(t, again)

	_, err = repo.Store(ctx, a.Key(), "0.0.1-h1.abc", domain.StatusRelease)
	require.Error(t, err)
	require.True(t, domainerr.Is(err, domainerr.KindInvalidArgument))
}

func TestStore_UnregisteredArtifactFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Store(ctx, domain.ArtifactKey{Name: "nope", Type: domain.ArtifactTypeDebian}, "1.0", domain.StatusRelease)
	require.Error(t, err)
	require.True(t, domainerr.Is(err, domainerr.KindNoSuchArtifact))
}

func TestVersions_SortedNewestFirstUnderDpkgOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := debianArtifact("keeldemo")
	_, err := repo.Register(ctx, a)
	require.NoError(t, err)

	for _, v := range []string{
		"keeldemo-0.0.1~dev.8-h8.41595c4",
		"keeldemo-0.0.1~dev.10-h10.9c5ca09",
		"keeldemo-0.0.1~dev.9-h9.3f8991a",
	} {
		_, storeErr := repo.Store(ctx, a.Key(), v, domain.StatusSnapshot)
		require.NoError(t, storeErr)
	}

	versions, err := repo.Versions(ctx, a.Key(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{
		"keeldemo-0.0.1~dev.10-h10.9c5ca09",
		"keeldemo-0.0.1~dev.9-h9.3f8991a",
		"keeldemo-0.0.1~dev.8-h8.41595c4",
	}, versions)
}

func TestVersions_FiltersByStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := debianArtifact("keeldemo")
	_, err := repo.Register(ctx, a)
	require.NoError(t, err)

	_, err = repo.Store(ctx, a.Key(), "keeldemo-1.0.0-h1.a", domain.StatusRelease)
	require.NoError(t, err)
	_, err = repo.Store(ctx, a.Key(), "keeldemo-1.1.0-h2.b", domain.StatusSnapshot)
	require.NoError(t, err)

	releases, err := repo.Versions(ctx, a.Key(), []domain.ArtifactStatus{domain.StatusRelease})
	require.NoError(t, err)
	require.Equal(t, []string{"keeldemo-1.0.0-h1.a"}, releases)
}

func TestGetAll_FiltersByType(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	debian := debianArtifact("keeldemo")
	docker := domain.Artifact{
		Name:     "keeldemo-image",
		Type:     domain.ArtifactTypeDocker,
		Strategy: domain.VersioningStrategy{Kind: domain.VersioningStrategyDockerIncreasingTag},
	}
	_, err := repo.Register(ctx, debian)
	require.NoError(t, err)
	_, err = repo.Register(ctx, docker)
	require.NoError(t, err)

	debianType := domain.ArtifactTypeDebian
	got, err := repo.GetAll(ctx, &debianType)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "keeldemo", got[0].Name)

	all, err := repo.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestApproveAndDeployLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := debianArtifact("keeldemo")
	_, err := repo.Register(ctx, a)
	require.NoError(t, err)
	_, err = repo.Store(ctx, a.Key(), "keeldemo-1.0.0-h1.a", domain.StatusRelease)
	require.NoError(t, err)

	const configName, envName = "keeldemo-config", "production"

	approved, err := repo.ApproveVersionFor(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName)
	require.NoError(t, err)
	require.True(t, approved)

	again, err := repo.ApproveVersionFor(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName)
	require.NoError(t, err)
	require.False(t, again)

	isApproved, err := repo.IsApprovedFor(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName)
	require.NoError(t, err)
	require.True(t, isApproved)

	require.NoError(t, repo.MarkAsDeployingTo(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName))

	deployed, err := repo.WasSuccessfullyDeployedTo(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName)
	require.NoError(t, err)
	require.False(t, deployed)

	require.NoError(t, repo.MarkAsSuccessfullyDeployedTo(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName))

	deployed, err = repo.WasSuccessfullyDeployedTo(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName)
	require.NoError(t, err)
	require.True(t, deployed)
}

func TestVersionsByEnvironment_BucketsPendingCurrentDeployingPrevious(t *testing.T) {
	repo, mutableClock := newTestRepoWithClock(t)
	ctx := context.Background()
	a := debianArtifact("keeldemo")
	_, err := repo.Register(ctx, a)
	require.NoError(t, err)

	const configName, envName = "keeldemo-config", "production"

	versions := []string{
		"keeldemo-1.0.0-h1.a",
		"keeldemo-1.1.0-h2.b",
		"keeldemo-1.2.0-h3.c",
		"keeldemo-1.3.0-h4.d",
	}
	for _, v := range versions {
		_, storeErr := repo.Store(ctx, a.Key(), v, domain.StatusRelease)
		require.NoError(t, storeErr)
	}

	_, err = repo.pool.Exec(ctx, `
		INSERT INTO environment_artifact (config_name, env_name, artifact_name, artifact_type)
		VALUES ($1, $2, $3, $4)`,
		configName, envName, a.Name, string(a.Type))
	require.NoError(t, err)

	for _, v := range versions {
		_, approveErr := repo.ApproveVersionFor(ctx, configName, a.Key(), v, envName)
		require.NoError(t, approveErr)
	}

	require.NoError(t, repo.MarkAsDeployingTo(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName))
	require.NoError(t, repo.MarkAsSuccessfullyDeployedTo(ctx, configName, a.Key(), "keeldemo-1.0.0-h1.a", envName))

	mutableClock.Advance(time.Minute)

	require.NoError(t, repo.MarkAsDeployingTo(ctx, configName, a.Key(), "keeldemo-1.1.0-h2.b", envName))
	require.NoError(t, repo.MarkAsSuccessfullyDeployedTo(ctx, configName, a.Key(), "keeldemo-1.1.0-h2.b", envName))

	mutableClock.Advance(time.Minute)

	require.NoError(t, repo.MarkAsDeployingTo(ctx, configName, a.Key(), "keeldemo-1.2.0-h3.c", envName))

	summaries, err := repo.VersionsByEnvironment(ctx, configName)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	require.NotNil(t, s.Current)
	require.Equal(t, "keeldemo-1.1.0-h2.b", *s.Current)
	require.Equal(t, []string{"keeldemo-1.0.0-h1.a"}, s.Previous)
	require.NotNil(t, s.Deploying)
	require.Equal(t, "keeldemo-1.2.0-h3.c", *s.Deploying)
	require.Equal(t, []string{"keeldemo-1.3.0-h4.d"}, s.Pending)
}

// TestVersionsByEnvironment_PendingIncludesNeverApprovedVersions covers the
// keeldemo §8 scenarios where some (or all) stored versions were never
// approved in the environment at all, so they carry no row in
// environment_artifact_version_promotion whatsoever. pending must still
// surface them — it is derived from the artifact's full version list, not
// from the promotion table.
func TestVersionsByEnvironment_PendingIncludesNeverApprovedVersions(t *testing.T) {
	repo, _ := newTestRepoWithClock(t)
	ctx := context.Background()
	a := debianArtifact("keeldemo")
	_, err := repo.Register(ctx, a)
	require.NoError(t, err)

	const configName, envName = "keeldemo-config", "production"

	versions := []string{
		"keeldemo-0.0.1~dev.8-h8.a",
		"keeldemo-0.0.1~dev.9-h9.b",
		"keeldemo-0.0.1~dev.10-h10.c",
	}
	for _, v := range versions {
		_, storeErr := repo.Store(ctx, a.Key(), v, domain.StatusRelease)
		require.NoError(t, storeErr)
	}

	_, err = repo.pool.Exec(ctx, `
		INSERT INTO environment_artifact (config_name, env_name, artifact_name, artifact_type)
		VALUES ($1, $2, $3, $4)`,
		configName, envName, a.Name, string(a.Type))
	require.NoError(t, err)

	// No promotion done at all: every version is pending.
	summaries, err := repo.VersionsByEnvironment(ctx, configName)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	s := summaries[0]
	require.Nil(t, s.Current)
	require.Nil(t, s.Deploying)
	require.Empty(t, s.Previous)
	require.Equal(t, []string{
		"keeldemo-0.0.1~dev.10-h10.c",
		"keeldemo-0.0.1~dev.9-h9.b",
		"keeldemo-0.0.1~dev.8-h8.a",
	}, s.Pending)

	// Approve and deploy only dev.8; dev.9 and dev.10 remain pending
	// alongside it even though they were never approved.
	approved, err := repo.ApproveVersionFor(ctx, configName, a.Key(), "keeldemo-0.0.1~dev.8-h8.a", envName)
	require.NoError(t, err)
	require.True(t, approved)
	require.NoError(t, repo.MarkAsDeployingTo(ctx, configName, a.Key(), "keeldemo-0.0.1~dev.8-h8.a", envName))

	summaries, err = repo.VersionsByEnvironment(ctx, configName)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	s = summaries[0]
	require.NotNil(t, s.Deploying)
	require.Equal(t, "keeldemo-0.0.1~dev.8-h8.a", *s.Deploying)
	require.Equal(t, []string{
		"keeldemo-0.0.1~dev.10-h10.c",
		"keeldemo-0.0.1~dev.9-h9.b",
	}, s.Pending)
}
