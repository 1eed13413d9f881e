package deliveryconfig

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deliveryctl/core/internal/claimqueue"
	"github.com/deliveryctl/core/internal/clock"
	"github.com/deliveryctl/core/internal/domain"
	"github.com/deliveryctl/core/internal/domainerr"
	"github.com/deliveryctl/core/internal/validate"
)

var lastCheckedTable = claimqueue.Table{
	Name:            "delivery_config_last_checked",
	KeyColumn:       "config_name",
	TimestampColumn: "last_checked_at",
}

// PostgresRepository implements Repository over Postgres.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
}

// NewPostgresRepository constructs a repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool, c clock.Clock, logger *slog.Logger) *PostgresRepository {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{pool: pool, clock: c, logger: logger, metrics: NewMetrics()}
}

func (r *PostgresRepository) observe(operation string, start time.Time, err *error) {
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

// Store implements Repository.
func (r *PostgresRepository) Store(ctx context.Context, config domain.DeliveryConfig) (err error) {
	start := time.Now()
	defer r.observe("store", start, &err)

	if err := validate.Struct(config); err != nil {
		return err
	}

	tx, txErr := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if txErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, txErr, "beginning store transaction for %s", config.Name)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.clock.Now()
	const upsertConfig = `
		INSERT INTO delivery_config (name, application, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO UPDATE SET application = EXCLUDED.application, updated_at = $3`
	if _, execErr := tx.Exec(ctx, upsertConfig, config.Name, config.Application, now); execErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, execErr, "upserting delivery config %s", config.Name)
	}

	const ensureLastChecked = `
		INSERT INTO delivery_config_last_checked (config_name, last_checked_at)
		VALUES ($1, $2)
		ON CONFLICT (config_name) DO NOTHING`
	if _, execErr := tx.Exec(ctx, ensureLastChecked, config.Name, time.Unix(1, 0).UTC()); execErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, execErr, "initializing last-checked row for %s", config.Name)
	}

	seenEnvs := make(map[string]bool, len(config.Environments))
	for _, env := range config.Environments {
		seenEnvs[env.Name] = true

		constraintsJSON, marshalErr := json.Marshal(env.Constraints)
		if marshalErr != nil {
			return domainerr.Wrap(domainerr.KindInvalidArgument, marshalErr, "marshaling constraints for %s/%s", config.Name, env.Name)
		}
		resourceIDsJSON, marshalErr := json.Marshal(env.ResourceIDs)
		if marshalErr != nil {
			return domainerr.Wrap(domainerr.KindInvalidArgument, marshalErr, "marshaling resource ids for %s/%s", config.Name, env.Name)
		}

		const upsertEnv = `
			INSERT INTO environment (config_name, name, constraints, resource_ids)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (config_name, name) DO UPDATE SET constraints = EXCLUDED.constraints, resource_ids = EXCLUDED.resource_ids`
		if _, execErr := tx.Exec(ctx, upsertEnv, config.Name, env.Name, constraintsJSON, resourceIDsJSON); execErr != nil {
			return domainerr.Wrap(domainerr.KindTransientStore, execErr, "upserting environment %s/%s", config.Name, env.Name)
		}

		const clearArtifacts = `DELETE FROM environment_artifact WHERE config_name = $1 AND env_name = $2`
		if _, execErr := tx.Exec(ctx, clearArtifacts, config.Name, env.Name); execErr != nil {
			return domainerr.Wrap(domainerr.KindTransientStore, execErr, "clearing artifact bindings for %s/%s", config.Name, env.Name)
		}

		for _, key := range config.Artifacts {
			const bindArtifact = `
				INSERT INTO environment_artifact (config_name, env_name, artifact_name, artifact_type)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING`
			if _, execErr := tx.Exec(ctx, bindArtifact, config.Name, env.Name, key.Name, string(key.Type)); execErr != nil {
				return domainerr.Wrap(domainerr.KindTransientStore, execErr, "binding artifact %s/%s to %s/%s", key.Type, key.Name, config.Name, env.Name)
			}
		}
	}

	const deleteStaleEnvs = `
		SELECT name FROM environment WHERE config_name = $1`
	rows, queryErr := tx.Query(ctx, deleteStaleEnvs, config.Name)
	if queryErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, queryErr, "reading existing environments for %s", config.Name)
	}
	var staleEnvs []string
	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			rows.Close()
			return domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning environment name for %s", config.Name)
		}
		if !seenEnvs[name] {
			staleEnvs = append(staleEnvs, name)
		}
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, rowsErr, "iterating environments for %s", config.Name)
	}

	for _, name := range staleEnvs {
		const deleteEnv = `DELETE FROM environment WHERE config_name = $1 AND name = $2`
		if _, execErr := tx.Exec(ctx, deleteEnv, config.Name, name); execErr != nil {
			return domainerr.Wrap(domainerr.KindTransientStore, execErr, "detaching stale environment %s/%s", config.Name, name)
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, commitErr, "committing store of %s", config.Name)
	}

	r.logger.Info("delivery config stored", "name", config.Name, "application", config.Application)
	return nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, name string) (config domain.DeliveryConfig, err error) {
	start := time.Now()
	defer r.observe("get", start, &err)

	const configQuery = `SELECT application FROM delivery_config WHERE name = $1`
	var application string
	scanErr := r.pool.QueryRow(ctx, configQuery, name).Scan(&application)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.DeliveryConfig{}, domainerr.New(domainerr.KindNoSuchDeliveryConfigName, "no delivery config named %s", name)
	}
	if scanErr != nil {
		return domain.DeliveryConfig{}, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "loading delivery config %s", name)
	}

	config.Name = name
	config.Application = application

	envs, artifactKeys, envErr := r.loadEnvironmentsAndArtifacts(ctx, name)
	if envErr != nil {
		return domain.DeliveryConfig{}, envErr
	}
	config.Environments = envs
	config.Artifacts = artifactKeys
	return config, nil
}

func (r *PostgresRepository) loadEnvironmentsAndArtifacts(ctx context.Context, configName string) ([]domain.Environment, []domain.ArtifactKey, error) {
	const envQuery = `SELECT name, constraints, resource_ids FROM environment WHERE config_name = $1 ORDER BY name`
	rows, queryErr := r.pool.Query(ctx, envQuery, configName)
	if queryErr != nil {
		return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying environments for %s", configName)
	}
	defer rows.Close()

	var envs []domain.Environment
	for rows.Next() {
		var env domain.Environment
		var constraintsJSON, resourceIDsJSON []byte
		if scanErr := rows.Scan(&env.Name, &constraintsJSON, &resourceIDsJSON); scanErr != nil {
			return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning environment row for %s", configName)
		}
		if unmarshalErr := json.Unmarshal(constraintsJSON, &env.Constraints); unmarshalErr != nil {
			return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, unmarshalErr, "decoding constraints for %s/%s", configName, env.Name)
		}
		if unmarshalErr := json.Unmarshal(resourceIDsJSON, &env.ResourceIDs); unmarshalErr != nil {
			return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, unmarshalErr, "decoding resource ids for %s/%s", configName, env.Name)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating environments for %s", configName)
	}

	const artifactsQuery = `SELECT DISTINCT artifact_name, artifact_type FROM environment_artifact WHERE config_name = $1`
	artifactRows, queryErr := r.pool.Query(ctx, artifactsQuery, configName)
	if queryErr != nil {
		return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying artifact bindings for %s", configName)
	}
	defer artifactRows.Close()

	var keys []domain.ArtifactKey
	for artifactRows.Next() {
		var key domain.ArtifactKey
		var artifactType string
		if scanErr := artifactRows.Scan(&key.Name, &artifactType); scanErr != nil {
			return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning artifact binding for %s", configName)
		}
		key.Type = domain.ArtifactType(artifactType)
		keys = append(keys, key)
	}
	if err := artifactRows.Err(); err != nil {
		return nil, nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating artifact bindings for %s", configName)
	}

	return envs, keys, nil
}

// EnvironmentFor implements Repository.
func (r *PostgresRepository) EnvironmentFor(ctx context.Context, resourceID string) (envName string, ok bool, err error) {
	start := time.Now()
	defer r.observe("environment_for", start, &err)

	const query = `
		SELECT name FROM environment
		WHERE resource_ids @> to_jsonb($1::text)
		LIMIT 1`
	scanErr := r.pool.QueryRow(ctx, query, resourceID).Scan(&envName)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "resolving environment for resource %s", resourceID)
	}
	return envName, true, nil
}

// DeliveryConfigFor implements Repository.
func (r *PostgresRepository) DeliveryConfigFor(ctx context.Context, resourceID string) (configName string, ok bool, err error) {
	start := time.Now()
	defer r.observe("delivery_config_for", start, &err)

	const query = `
		SELECT config_name FROM environment
		WHERE resource_ids @> to_jsonb($1::text)
		LIMIT 1`
	scanErr := r.pool.QueryRow(ctx, query, resourceID).Scan(&configName)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "resolving delivery config for resource %s", resourceID)
	}
	return configName, true, nil
}

// GetByApplication implements Repository.
func (r *PostgresRepository) GetByApplication(ctx context.Context, app string) (configs []domain.DeliveryConfig, err error) {
	start := time.Now()
	defer func() {
		r.observe("get_by_application", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("get_by_application").Observe(float64(len(configs)))
		}
	}()

	const query = `SELECT name FROM delivery_config WHERE application = $1 ORDER BY name`
	rows, queryErr := r.pool.Query(ctx, query, app)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying configs for application %s", app)
	}
	var names []string
	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			rows.Close()
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning config name for application %s", app)
		}
		names = append(names, name)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, rowsErr, "iterating configs for application %s", app)
	}

	for _, name := range names {
		config, getErr := r.Get(ctx, name)
		if getErr != nil {
			return nil, getErr
		}
		configs = append(configs, config)
	}
	return configs, nil
}

// DeleteByApplication implements Repository.
func (r *PostgresRepository) DeleteByApplication(ctx context.Context, app string) (count int, err error) {
	start := time.Now()
	defer r.observe("delete_by_application", start, &err)

	const query = `DELETE FROM delivery_config WHERE application = $1`
	tag, execErr := r.pool.Exec(ctx, query, app)
	if execErr != nil {
		return 0, domainerr.Wrap(domainerr.KindTransientStore, execErr, "deleting configs for application %s", app)
	}
	return int(tag.RowsAffected()), nil
}

// StoreConstraintState implements Repository.
func (r *PostgresRepository) StoreConstraintState(ctx context.Context, state domain.ConstraintState) (err error) {
	start := time.Now()
	defer r.observe("store_constraint_state", start, &err)

	if err := validate.Struct(state); err != nil {
		return err
	}

	const query = `
		INSERT INTO constraint_state (config_name, env_name, version, type, status, judged_by, judged_at, comment, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (config_name, env_name, version, type) DO UPDATE SET
			status = EXCLUDED.status,
			judged_by = EXCLUDED.judged_by,
			judged_at = EXCLUDED.judged_at,
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at`

	_, execErr := r.pool.Exec(ctx, query,
		state.ConfigName, state.EnvName, state.Version, state.Type, state.Status,
		state.JudgedBy, state.JudgedAt, state.Comment, r.clock.Now())
	if execErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, execErr, "storing constraint state for %s/%s@%s/%s", state.ConfigName, state.EnvName, state.Version, state.Type)
	}
	return nil
}

// GetConstraintState implements Repository.
func (r *PostgresRepository) GetConstraintState(ctx context.Context, key domain.ConstraintStateKey) (state domain.ConstraintState, ok bool, err error) {
	start := time.Now()
	defer r.observe("get_constraint_state", start, &err)

	const query = `
		SELECT status, judged_by, judged_at, comment FROM constraint_state
		WHERE config_name = $1 AND env_name = $2 AND version = $3 AND type = $4`

	scanErr := r.pool.QueryRow(ctx, query, key.ConfigName, key.EnvName, key.Version, key.Type).
		Scan(&state.Status, &state.JudgedBy, &state.JudgedAt, &state.Comment)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.ConstraintState{}, false, nil
	}
	if scanErr != nil {
		return domain.ConstraintState{}, false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "loading constraint state for %s/%s@%s/%s", key.ConfigName, key.EnvName, key.Version, key.Type)
	}
	state.ConfigName, state.EnvName, state.Version, state.Type = key.ConfigName, key.EnvName, key.Version, key.Type
	return state, true, nil
}

// ConstraintStateForApplication implements Repository: for each (env,
// type) pair across the application's configs, the single most recent
// state (ranked by updated_at) across all versions.
func (r *PostgresRepository) ConstraintStateForApplication(ctx context.Context, app string) (states []domain.ConstraintState, err error) {
	start := time.Now()
	defer func() {
		r.observe("constraint_state_for_application", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("constraint_state_for_application").Observe(float64(len(states)))
		}
	}()

	const query = `
		SELECT DISTINCT ON (cs.env_name, cs.type)
			cs.config_name, cs.env_name, cs.version, cs.type, cs.status, cs.judged_by, cs.judged_at, cs.comment
		FROM constraint_state cs
		JOIN delivery_config dc ON dc.name = cs.config_name
		WHERE dc.application = $1
		ORDER BY cs.env_name, cs.type, cs.updated_at DESC`

	rows, queryErr := r.pool.Query(ctx, query, app)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying constraint state for application %s", app)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.ConstraintState
		if scanErr := rows.Scan(&s.ConfigName, &s.EnvName, &s.Version, &s.Type, &s.Status, &s.JudgedBy, &s.JudgedAt, &s.Comment); scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning constraint state row for application %s", app)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating constraint state rows for application %s", app)
	}
	return states, nil
}

// ConstraintStateForEnvironment implements Repository.
func (r *PostgresRepository) ConstraintStateForEnvironment(ctx context.Context, configName, envName string, limit int) (states []domain.ConstraintState, err error) {
	start := time.Now()
	defer func() {
		r.observe("constraint_state_for_environment", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("constraint_state_for_environment").Observe(float64(len(states)))
		}
	}()

	if limit <= 0 {
		err = domainerr.New(domainerr.KindInvalidArgument, "limit must be positive, got %d", limit)
		return nil, err
	}

	const query = `
		SELECT config_name, env_name, version, type, status, judged_by, judged_at, comment
		FROM constraint_state
		WHERE config_name = $1 AND env_name = $2
		ORDER BY updated_at DESC
		LIMIT $3`

	rows, queryErr := r.pool.Query(ctx, query, configName, envName, limit)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying constraint state for %s/%s", configName, envName)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.ConstraintState
		if scanErr := rows.Scan(&s.ConfigName, &s.EnvName, &s.Version, &s.Type, &s.Status, &s.JudgedBy, &s.JudgedAt, &s.Comment); scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning constraint state row for %s/%s", configName, envName)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating constraint state rows for %s/%s", configName, envName)
	}
	return states, nil
}

// ItemsDueForCheck implements Repository via the shared claimqueue
// primitive.
func (r *PostgresRepository) ItemsDueForCheck(ctx context.Context, minSinceLast time.Duration, limit int) (names []string, err error) {
	start := time.Now()
	defer r.observe("items_due_for_check", start, &err)

	now := r.clock.Now()
	cutoff := now.Add(-minSinceLast)
	return claimqueue.Claim(ctx, r.pool, lastCheckedTable, cutoff, now, limit)
}
