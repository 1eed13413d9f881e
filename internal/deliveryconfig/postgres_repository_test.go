package deliveryconfig

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

	const schemaSQL = `
	CREATE TABLE delivery_config (
		name TEXT PRIMARY KEY,
		application TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE environment (
		config_name TEXT NOT NULL REFERENCES delivery_config (name) ON DELETE CASCADE,
		name TEXT NOT NULL,
		constraints JSONB NOT NULL DEFAULT '[]',
		resource_ids JSONB NOT NULL DEFAULT '[]',
		PRIMARY KEY (config_name, name)
	);
	CREATE TABLE environment_artifact (
		config_name TEXT NOT NULL,
		env_name TEXT NOT NULL,
		artifact_name TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		PRIMARY KEY (config_name, env_name, artifact_name, artifact_type)
	);
	CREATE TABLE constraint_state (
		config_name TEXT NOT NULL,
		env_name TEXT NOT NULL,
		version TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		judged_by TEXT,
		judged_at TIMESTAMPTZ,
		comment TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (config_name, env_name, version, type)
	);
	CREATE TABLE delivery_config_last_checked (
		config_name TEXT PRIMARY KEY REFERENCES delivery_config (name) ON DELETE CASCADE,
		last_checked_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err = pool.Exec(ctx, schemaSQL)
	require.NoError(t, err, "failed to create schema")

	return pool
}

func newTestRepo(t *testing.T) *PostgresRepository {
	pool := setupTestDB(t)
	t.Cleanup(pool.Close)
	return NewPostgresRepository(pool, clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
}

func sampleConfig() domain.DeliveryConfig {
	return domain.DeliveryConfig{
		Name:        "keeldemo-config",
		Application: "keeldemo",
		Artifacts:   []domain.ArtifactKey{{Name: "keeldemo", Type: domain.ArtifactTypeDebian}},
		Environments: []domain.Environment{
			{Name: "staging", Constraints: []string{"manual-judgement"}, ResourceIDs: []string{"ec2-cluster:staging"}},
			{Name: "production", Constraints: []string{"manual-judgement"}, ResourceIDs: []string{"ec2-cluster:production"}},
		},
	}
}

func TestStoreAndGet_RoundTrips(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, sampleConfig()))

	got, err := repo.Get(ctx, "keeldemo-config")
	require.NoError(t, err)
	require.Equal(t, "keeldemo", got.Application)
	require.Len(t, got.Environments, 2)
	require.Len(t, got.Artifacts, 1)
}

func TestGet_UnknownNameFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "nope")
	require.Error(t, err)
	require.True(t, domainerr.Is(err, domainerr.KindNoSuchDeliveryConfigName))
}

func TestStore_DetachesRemovedEnvironments(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Store(ctx, sampleConfig()))

	trimmed := sampleConfig()
	trimmed.Environments = trimmed.Environments[:1]
	require.NoError(t, repo.Store(ctx, trimmed))

	got, err := repo.Get(ctx, "keeldemo-config")
	require.NoError(t, err)
	require.Len(t, got.Environments, 1)
	require.Equal(t, "staging", got.Environments[0].Name)
}

func TestEnvironmentFor_ResolvesOwningEnvironment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Store(ctx, sampleConfig()))

	envName, ok, err := repo.EnvironmentFor(ctx, "ec2-cluster:production")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "production", envName)

	configName, ok, err := repo.DeliveryConfigFor(ctx, "ec2-cluster:production")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "keeldemo-config", configName)

	_, ok, err = repo.EnvironmentFor(ctx, "unmanaged")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteByApplication_PreservesResources(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Store(ctx, sampleConfig()))

	count, err := repo.DeleteByApplication(ctx, "keeldemo")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = repo.Get(ctx, "keeldemo-config")
	require.True(t, domainerr.Is(err, domainerr.KindNoSuchDeliveryConfigName))
}

func TestConstraintState_StoreGetAndRollUps(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Store(ctx, sampleConfig()))

	state := domain.ConstraintState{
		ConfigName: "keeldemo-config", EnvName: "production",
		Version: "keeldemo-1.0.0-h1.a", Type: "manual-judgement", Status: "approved",
	}
	require.NoError(t, repo.StoreConstraintState(ctx, state))

	got, ok, err := repo.GetConstraintState(ctx, state.Key())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "approved", got.Status)

	appStates, err := repo.ConstraintStateForApplication(ctx, "keeldemo")
	require.NoError(t, err)
	require.Len(t, appStates, 1)

	envStates, err := repo.ConstraintStateForEnvironment(ctx, "keeldemo-config", "production", 10)
	require.NoError(t, err)
	require.Len(t, envStates, 1)

	_, err = repo.ConstraintStateForEnvironment(ctx, "keeldemo-config", "production", 0)
	require.True(t, domainerr.Is(err, domainerr.KindInvalidArgument))
}

func TestItemsDueForCheck_ClaimsConfigOnceWithinStalenessWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Store(ctx, sampleConfig()))

	claimed, err := repo.ItemsDueForCheck(ctx, time.Second, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"keeldemo-config"}, claimed)

	claimed, err = repo.ItemsDueForCheck(ctx, time.Second, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}
