package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deliveryctl/core/internal/clock"
	"github.com/deliveryctl/core/internal/domain"
	"github.com/deliveryctl/core/internal/domainerr"
	"github.com/deliveryctl/core/internal/validate"
	"github.com/deliveryctl/core/internal/versioncompare"
)

// PostgresArtifactRepository implements ArtifactRepository over Postgres.
type PostgresArtifactRepository struct {
	pool    *pgxpool.Pool
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
}

// NewPostgresArtifactRepository constructs a repository backed by pool. c
// and logger default to clock.System{} and slog.Default() when nil.
func NewPostgresArtifactRepository(pool *pgxpool.Pool, c clock.Clock, logger *slog.Logger) *PostgresArtifactRepository {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresArtifactRepository{pool: pool, clock: c, logger: logger, metrics: NewMetrics()}
}

func (r *PostgresArtifactRepository) observe(operation string, start time.Time, err *error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if *err != nil {
		status = "error"
		r.metrics.QueryErrors.WithLabelValues(operation, errorClass(*err)).Inc()
	}
	r.metrics.QueryDuration.WithLabelValues(operation, status).Observe(duration)
}

func errorClass(err error) string {
	var de *domainerr.Error
	if errors.As(err, &de) {
		return de.Kind.String()
	}
	return "unknown"
}

// Register implements ArtifactRepository.
func (r *PostgresArtifactRepository) Register(ctx context.Context, a domain.Artifact) (newlyRegistered bool, err error) {
	start := time.Now()
	defer r.observe("register", start, &err)

	if err := validate.Struct(a); err != nil {
		return false, err
	}

	statusFilter, marshalErr := json.Marshal(a.StatusFilter)
	if marshalErr != nil {
		return false, domainerr.Wrap(domainerr.KindInvalidArgument, marshalErr, "marshaling status filter")
	}

	const query = `
		INSERT INTO artifact (name, type, status_filter, strategy_kind, strategy_custom_regex)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, type) DO NOTHING`

	tag, execErr := r.pool.Exec(ctx, query, a.Name, string(a.Type), statusFilter, string(a.Strategy.Kind), a.Strategy.CustomRegex)
	if execErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, execErr, "registering artifact %s/%s", a.Type, a.Name)
	}

	if tag.RowsAffected() > 0 {
		r.logger.Info("artifact registered", "name", a.Name, "type", a.Type)
		return true, nil
	}

	existing, getErr := r.getArtifact(ctx, a.Key())
	if getErr != nil {
		return false, getErr
	}
	if !existing.Equal(a) {
		r.logger.Warn("register called with a definition differing from the stored artifact", "name", a.Name, "type", a.Type)
	}
	return false, nil
}

// IsRegistered implements ArtifactRepository.
func (r *PostgresArtifactRepository) IsRegistered(ctx context.Context, key domain.ArtifactKey) (registered bool, err error) {
	start := time.Now()
	defer r.observe("is_registered", start, &err)

	const query = `SELECT 1 FROM artifact WHERE name = $1 AND type = $2`
	var one int
	scanErr := r.pool.QueryRow(ctx, query, key.Name, string(key.Type)).Scan(&one)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "checking registration of %s/%s", key.Type, key.Name)
	}
	return true, nil
}

// getArtifact loads an artifact's full definition, including its
// versioning strategy, returning NoSuchArtifact if it isn't registered.
func (r *PostgresArtifactRepository) getArtifact(ctx context.Context, key domain.ArtifactKey) (domain.Artifact, error) {
	const query = `
		SELECT status_filter, strategy_kind, strategy_custom_regex
		FROM artifact WHERE name = $1 AND type = $2`

	var statusFilterJSON []byte
	var strategyKind, customRegex string
	err := r.pool.QueryRow(ctx, query, key.Name, string(key.Type)).Scan(&statusFilterJSON, &strategyKind, &customRegex)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Artifact{}, domainerr.New(domainerr.KindNoSuchArtifact, "artifact %s/%s is not registered", key.Type, key.Name)
	}
	if err != nil {
		return domain.Artifact{}, domainerr.Wrap(domainerr.KindTransientStore, err, "loading artifact %s/%s", key.Type, key.Name)
	}

	var statusFilter []domain.ArtifactStatus
	if unmarshalErr := json.Unmarshal(statusFilterJSON, &statusFilter); unmarshalErr != nil {
		return domain.Artifact{}, domainerr.Wrap(domainerr.KindTransientStore, unmarshalErr, "decoding status filter for %s/%s", key.Type, key.Name)
	}

	return domain.Artifact{
		Name: key.Name,
		Type: key.Type,
		Strategy: domain.VersioningStrategy{
			Kind:        domain.VersioningStrategyKind(strategyKind),
			CustomRegex: customRegex,
		},
		StatusFilter: statusFilter,
	}, nil
}

// comparatorFor loads an artifact and builds its version comparator.
func (r *PostgresArtifactRepository) comparatorFor(ctx context.Context, key domain.ArtifactKey) (domain.Artifact, versioncompare.Comparator, error) {
	a, err := r.getArtifact(ctx, key)
	if err != nil {
		return domain.Artifact{}, nil, err
	}
	cmp, err := versioncompare.ForArtifact(a, r.logger)
	if err != nil {
		return domain.Artifact{}, nil, err
	}
	return a, cmp, nil
}

// Store implements ArtifactRepository.
func (r *PostgresArtifactRepository) Store(ctx context.Context, key domain.ArtifactKey, version string, status domain.ArtifactStatus) (newlyStored bool, err error) {
	start := time.Now()
	defer r.observe("store_version", start, &err)

	if _, getErr := r.getArtifact(ctx, key); getErr != nil {
		return false, getErr
	}

	const insertQuery = `
		INSERT INTO artifact_version (artifact_name, artifact_type, version, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (artifact_name, artifact_type, version) DO NOTHING`

	tag, execErr := r.pool.Exec(ctx, insertQuery, key.Name, string(key.Type), version, string(status))
	if execErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, execErr, "storing version %s for %s/%s", version, key.Type, key.Name)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	const selectQuery = `SELECT status FROM artifact_version WHERE artifact_name = $1 AND artifact_type = $2 AND version = $3`
	var existingStatus string
	if scanErr := r.pool.QueryRow(ctx, selectQuery, key.Name, string(key.Type), version).Scan(&existingStatus); scanErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "re-reading status for %s/%s@%s", key.Type, key.Name, version)
	}
	if existingStatus != string(status) {
		return false, domainerr.New(domainerr.KindInvalidArgument,
			"version %s of %s/%s is already stored with status %s; status is immutable", version, key.Type, key.Name, existingStatus)
	}
	return false, nil
}

// Versions implements ArtifactRepository.
func (r *PostgresArtifactRepository) Versions(ctx context.Context, key domain.ArtifactKey, statusFilter []domain.ArtifactStatus) (versions []string, err error) {
	start := time.Now()
	defer func() {
		r.observe("versions", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("versions").Observe(float64(len(versions)))
		}
	}()

	a, cmp, cmpErr := r.comparatorFor(ctx, key)
	if cmpErr != nil {
		return nil, cmpErr
	}

	effectiveFilter := statusFilter
	if len(effectiveFilter) == 0 {
		effectiveFilter = a.StatusFilter
	}

	rows, err := r.queryVersions(ctx, key, effectiveFilter)
	if err != nil {
		return nil, err
	}

	versioncompare.SortDescending(rows, cmp)
	return rows, nil
}

func (r *PostgresArtifactRepository) queryVersions(ctx context.Context, key domain.ArtifactKey, statusFilter []domain.ArtifactStatus) ([]string, error) {
	var query string
	var args []any
	if len(statusFilter) == 0 {
		query = `SELECT version FROM artifact_version WHERE artifact_name = $1 AND artifact_type = $2`
		args = []any{key.Name, string(key.Type)}
	} else {
		statuses := make([]string, len(statusFilter))
		for i, s := range statusFilter {
			statuses[i] = string(s)
		}
		query = `SELECT version FROM artifact_version WHERE artifact_name = $1 AND artifact_type = $2 AND status = ANY($3)`
		args = []any{key.Name, string(key.Type), statuses}
	}

	pgRows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "querying versions for %s/%s", key.Type, key.Name)
	}
	defer pgRows.Close()

	var versions []string
	for pgRows.Next() {
		var v string
		if scanErr := pgRows.Scan(&v); scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning version row for %s/%s", key.Type, key.Name)
		}
		versions = append(versions, v)
	}
	if err := pgRows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating version rows for %s/%s", key.Type, key.Name)
	}
	return versions, nil
}

// GetAll implements ArtifactRepository.
func (r *PostgresArtifactRepository) GetAll(ctx context.Context, typeFilter *domain.ArtifactType) (artifacts []domain.Artifact, err error) {
	start := time.Now()
	defer func() {
		r.observe("get_all", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("get_all").Observe(float64(len(artifacts)))
		}
	}()

	var query string
	var args []any
	if typeFilter != nil {
		query = `SELECT name, type, status_filter, strategy_kind, strategy_custom_regex FROM artifact WHERE type = $1`
		args = []any{string(*typeFilter)}
	} else {
		query = `SELECT name, type, status_filter, strategy_kind, strategy_custom_regex FROM artifact`
	}

	rows, queryErr := r.pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying registered artifacts")
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.Artifact
		var artifactType, strategyKind string
		var statusFilterJSON []byte
		if scanErr := rows.Scan(&a.Name, &artifactType, &statusFilterJSON, &strategyKind, &a.Strategy.CustomRegex); scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning artifact row")
		}
		a.Type = domain.ArtifactType(artifactType)
		a.Strategy.Kind = domain.VersioningStrategyKind(strategyKind)
		if unmarshalErr := json.Unmarshal(statusFilterJSON, &a.StatusFilter); unmarshalErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, unmarshalErr, "decoding status filter for %s/%s", a.Type, a.Name)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating artifact rows")
	}
	return artifacts, nil
}
