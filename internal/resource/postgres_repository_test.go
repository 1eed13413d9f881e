package resource

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"k8s.io/apimachinery/pkg/runtime/schema"

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
	CREATE TABLE resource (
		uid TEXT PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		api_version TEXT NOT NULL,
		kind TEXT NOT NULL,
		application TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		spec JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE resource_event (
		id BIGSERIAL PRIMARY KEY,
		resource_uid TEXT NOT NULL REFERENCES resource (uid) ON DELETE CASCADE,
		timestamp TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'
	);
	CREATE TABLE resource_last_checked (
		resource_uid TEXT PRIMARY KEY REFERENCES resource (uid) ON DELETE CASCADE,
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

func testResource(id string) domain.Resource {
	return domain.Resource{
		Id:          id,
		GVK:         schema.GroupVersionKind{Group: "ec2", Version: "v1", Kind: "cluster"},
		Application: "keeldemo",
		Metadata:    map[string]any{"status": "healthy"},
		Spec:        map[string]any{"minSize": float64(1)},
	}
}

func TestStore_AllocatesUIDOnceAndPreservesOnUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stored, err := repo.Store(ctx, testResource("ec2-cluster:prod"))
	require.NoError(t, err)
	require.NotEmpty(t, stored.Uid)

	updated := stored
	updated.Metadata = map[string]any{"status": "degraded"}
	again, err := repo.Store(ctx, updated)
	require.NoError(t, err)
	require.Equal(t, stored.Uid, again.Uid)

	got, err := repo.Get(ctx, "ec2-cluster:prod")
	require.NoError(t, err)
	require.Equal(t, "degraded", got.Metadata["status"])
}

func TestGet_UnknownIDFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "nope")
	require.Error(t, err)
	require.True(t, domainerr.Is(err, domainerr.KindNoSuchResourceID))
}

func TestDelete_RemovesResourceAndDependents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stored, err := repo.Store(ctx, testResource("ec2-cluster:prod"))
	require.NoError(t, err)

	require.NoError(t, repo.AppendHistory(ctx, domain.ResourceEvent{
		ResourceUid: stored.Uid,
		Timestamp:   time.Now(),
		Kind:        "created",
		Payload:     map[string]any{},
	}))

	require.NoError(t, repo.Delete(ctx, "ec2-cluster:prod"))

	_, err = repo.Get(ctx, "ec2-cluster:prod")
	require.True(t, domainerr.Is(err, domainerr.KindNoSuchResourceID))

	_, err = repo.EventHistory(ctx, "ec2-cluster:prod", 10)
	require.True(t, domainerr.Is(err, domainerr.KindNoSuchResourceID))
}

func TestDelete_UnknownIDFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.Delete(ctx, "nope")
	require.True(t, domainerr.Is(err, domainerr.KindNoSuchResourceID))
}

func TestEventHistory_RejectsNonPositiveLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Store(ctx, testResource("ec2-cluster:prod"))
	require.NoError(t, err)

	_, err = repo.EventHistory(ctx, "ec2-cluster:prod", 0)
	require.True(t, domainerr.Is(err, domainerr.KindInvalidArgument))
}

func TestAppendHistory_SuppressesRepeatedKind(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	stored, err := repo.Store(ctx, testResource("ec2-cluster:prod"))
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AppendHistory(ctx, domain.ResourceEvent{
		ResourceUid: stored.Uid, Timestamp: base, Kind: "checked", SuppressRepeats: true,
	}))
	require.NoError(t, repo.AppendHistory(ctx, domain.ResourceEvent{
		ResourceUid: stored.Uid, Timestamp: base.Add(time.Minute), Kind: "checked", SuppressRepeats: true,
	}))
	require.NoError(t, repo.AppendHistory(ctx, domain.ResourceEvent{
		ResourceUid: stored.Uid, Timestamp: base.Add(2 * time.Minute), Kind: "diff-detected", SuppressRepeats: true,
	}))

	events, err := repo.EventHistory(ctx, "ec2-cluster:prod", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.ResourceEventKind("diff-detected"), events[0].Kind)
	require.Equal(t, domain.ResourceEventKind("checked"), events[1].Kind)
}

func TestItemsDueForCheck_ClaimsOldestFirstAndAdvancesTimestamp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.Store(ctx, testResource("a"))
	require.NoError(t, err)
	b, err := repo.Store(ctx, testResource("b"))
	require.NoError(t, err)

	claimed, err := repo.ItemsDueForCheck(ctx, time.Second, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, a.Uid, claimed[0])

	claimed, err = repo.ItemsDueForCheck(ctx, time.Second, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, b.Uid, claimed[0])

	claimed, err = repo.ItemsDueForCheck(ctx, time.Second, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestAllResources_StreamsEveryHeader(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Store(ctx, testResource("a"))
	require.NoError(t, err)
	_, err = repo.Store(ctx, testResource("b"))
	require.NoError(t, err)

	var ids []string
	err = repo.AllResources(ctx, func(h domain.ResourceHeader) error {
		ids = append(ids, h.Id)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}
