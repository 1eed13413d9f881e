package registry

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deliveryctl/core/internal/domain"
	"github.com/deliveryctl/core/internal/domainerr"
	"github.com/deliveryctl/core/internal/versioncompare"
)

// ApproveVersionFor implements ArtifactRepository. Approval is monotonic:
// once a (config, artifact, env, version) tuple is approved it stays
// approved, so a repeat call is a no-op reporting false.
func (r *PostgresArtifactRepository) ApproveVersionFor(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (newlyApproved bool, err error) {
	start := time.Now()
	defer r.observe("approve_version", start, &err)

	if _, getErr := r.getArtifact(ctx, key); getErr != nil {
		return false, getErr
	}

	const query = `
		INSERT INTO environment_artifact_version_promotion
			(config_name, artifact_name, artifact_type, env_name, version, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (config_name, artifact_name, artifact_type, env_name, version) DO NOTHING`

	tag, execErr := r.pool.Exec(ctx, query, configName, key.Name, string(key.Type), envName, version, r.clock.Now())
	if execErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, execErr, "approving %s/%s@%s for %s/%s", key.Type, key.Name, version, configName, envName)
	}

	return tag.RowsAffected() > 0, nil
}

// IsApprovedFor implements ArtifactRepository.
func (r *PostgresArtifactRepository) IsApprovedFor(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (approved bool, err error) {
	start := time.Now()
	defer r.observe("is_approved_for", start, &err)

	const query = `
		SELECT 1 FROM environment_artifact_version_promotion
		WHERE config_name = $1 AND artifact_name = $2 AND artifact_type = $3 AND env_name = $4 AND version = $5`

	var one int
	scanErr := r.pool.QueryRow(ctx, query, configName, key.Name, string(key.Type), envName, version).Scan(&one)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "checking approval of %s/%s@%s for %s/%s", key.Type, key.Name, version, configName, envName)
	}
	return true, nil
}

// MarkAsDeployingTo implements ArtifactRepository: a no-op unless version
// was previously approved in envName.
func (r *PostgresArtifactRepository) MarkAsDeployingTo(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (err error) {
	start := time.Now()
	defer r.observe("mark_as_deploying", start, &err)

	const query = `
		UPDATE environment_artifact_version_promotion
		SET deploying_at = $6
		WHERE config_name = $1 AND artifact_name = $2 AND artifact_type = $3 AND env_name = $4 AND version = $5`

	_, execErr := r.pool.Exec(ctx, query, configName, key.Name, string(key.Type), envName, version, r.clock.Now())
	if execErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, execErr, "marking %s/%s@%s deploying to %s/%s", key.Type, key.Name, version, configName, envName)
	}
	return nil
}

// MarkAsSuccessfullyDeployedTo implements ArtifactRepository: sets
// deployed_successfully_at for version. The prior current (the row with
// the latest deployed_successfully_at) is left untouched — it simply
// falls out of the "current" bucket because it's no longer the maximum,
// becoming "previous" by derivation rather than by an explicit write.
func (r *PostgresArtifactRepository) MarkAsSuccessfullyDeployedTo(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (err error) {
	start := time.Now()
	defer r.observe("mark_as_deployed", start, &err)

	const query = `
		UPDATE environment_artifact_version_promotion
		SET deployed_successfully_at = $6
		WHERE config_name = $1 AND artifact_name = $2 AND artifact_type = $3 AND env_name = $4 AND version = $5`

	_, execErr := r.pool.Exec(ctx, query, configName, key.Name, string(key.Type), envName, version, r.clock.Now())
	if execErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, execErr, "marking %s/%s@%s deployed to %s/%s", key.Type, key.Name, version, configName, envName)
	}
	return nil
}

// WasSuccessfullyDeployedTo implements ArtifactRepository.
func (r *PostgresArtifactRepository) WasSuccessfullyDeployedTo(ctx context.Context, configName string, key domain.ArtifactKey, version, envName string) (deployed bool, err error) {
	start := time.Now()
	defer r.observe("was_successfully_deployed_to", start, &err)

	const query = `
		SELECT deployed_successfully_at IS NOT NULL FROM environment_artifact_version_promotion
		WHERE config_name = $1 AND artifact_name = $2 AND artifact_type = $3 AND env_name = $4 AND version = $5`

	scanErr := r.pool.QueryRow(ctx, query, configName, key.Name, string(key.Type), envName, version).Scan(&deployed)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "checking deployment of %s/%s@%s for %s/%s", key.Type, key.Name, version, configName, envName)
	}
	return deployed, nil
}

// LatestVersionApprovedIn implements ArtifactRepository.
func (r *PostgresArtifactRepository) LatestVersionApprovedIn(ctx context.Context, configName string, key domain.ArtifactKey, envName string, statusFilter []domain.ArtifactStatus) (version string, ok bool, err error) {
	start := time.Now()
	defer r.observe("latest_version_approved_in", start, &err)

	a, cmp, cmpErr := r.comparatorFor(ctx, key)
	if cmpErr != nil {
		return "", false, cmpErr
	}

	effectiveFilter := statusFilter
	if len(effectiveFilter) == 0 {
		effectiveFilter = a.StatusFilter
	}

	const query = `
		SELECT p.version FROM environment_artifact_version_promotion p
		JOIN artifact_version v
			ON v.artifact_name = p.artifact_name AND v.artifact_type = p.artifact_type AND v.version = p.version
		WHERE p.config_name = $1 AND p.artifact_name = $2 AND p.artifact_type = $3 AND p.env_name = $4`

	var statusArgs []string
	args := []any{configName, key.Name, string(key.Type), envName}
	fullQuery := query
	if len(effectiveFilter) > 0 {
		for _, s := range effectiveFilter {
			statusArgs = append(statusArgs, string(s))
		}
		fullQuery += " AND v.status = ANY($5)"
		args = append(args, statusArgs)
	}

	rows, queryErr := r.pool.Query(ctx, fullQuery, args...)
	if queryErr != nil {
		return "", false, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying approved versions for %s/%s in %s/%s", key.Type, key.Name, configName, envName)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var v string
		if scanErr := rows.Scan(&v); scanErr != nil {
			return "", false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning approved version row")
		}
		candidates = append(candidates, v)
	}
	if err := rows.Err(); err != nil {
		return "", false, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating approved version rows")
	}

	if len(candidates) == 0 {
		return "", false, nil
	}

	versioncompare.SortDescending(candidates, cmp)
	return candidates[0], true, nil
}

// VersionsByEnvironment implements ArtifactRepository.
func (r *PostgresArtifactRepository) VersionsByEnvironment(ctx context.Context, configName string) (summaries []domain.EnvironmentArtifactSummary, err error) {
	start := time.Now()
	defer func() {
		r.observe("versions_by_environment", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("versions_by_environment").Observe(float64(len(summaries)))
		}
	}()

	const boundQuery = `
		SELECT DISTINCT env_name, artifact_name, artifact_type
		FROM environment_artifact WHERE config_name = $1`

	boundRows, queryErr := r.pool.Query(ctx, boundQuery, configName)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying environment artifact bindings for %s", configName)
	}

	type envArtifact struct {
		envName string
		key     domain.ArtifactKey
	}
	var pairs []envArtifact
	for boundRows.Next() {
		var ea envArtifact
		var artifactType string
		if scanErr := boundRows.Scan(&ea.envName, &ea.key.Name, &artifactType); scanErr != nil {
			boundRows.Close()
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning environment artifact binding")
		}
		ea.key.Type = domain.ArtifactType(artifactType)
		pairs = append(pairs, ea)
	}
	boundErr := boundRows.Err()
	boundRows.Close()
	if boundErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, boundErr, "iterating environment artifact bindings for %s", configName)
	}

	for _, pair := range pairs {
		summary, summaryErr := r.rollUpOne(ctx, configName, pair.envName, pair.key)
		if summaryErr != nil {
			return nil, summaryErr
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

type promotionRow struct {
	version                string
	deployingAt            *time.Time
	deployedSuccessfullyAt *time.Time
}

// rollUpOne derives the pending/current/deploying/previous buckets for a
// single (config, env, artifact).
//
// current is the promotion row with the maximum deployed_successfully_at;
// every other deployed_successfully_at row is previous, ordered
// oldest-first. deploying is the at-most-one row with deploying_at set and
// deployed_successfully_at still NULL — deploying_at is never cleared on
// promotion to current, so membership is derived from the NULL check, not
// from a separate state flag. pending is every version known to the
// artifact (subject to its status filter) that isn't accounted for by one
// of the other three buckets — a version that was stored but never
// approved in this environment has no promotion row at all, so it must be
// computed against the artifact's full version list, not against the
// promotion table alone.
func (r *PostgresArtifactRepository) rollUpOne(ctx context.Context, configName, envName string, key domain.ArtifactKey) (domain.EnvironmentArtifactSummary, error) {
	a, cmp, cmpErr := r.comparatorFor(ctx, key)
	if cmpErr != nil {
		return domain.EnvironmentArtifactSummary{}, cmpErr
	}

	const query = `
		SELECT version, deploying_at, deployed_successfully_at
		FROM environment_artifact_version_promotion
		WHERE config_name = $1 AND artifact_name = $2 AND artifact_type = $3 AND env_name = $4`

	rows, queryErr := r.pool.Query(ctx, query, configName, key.Name, string(key.Type), envName)
	if queryErr != nil {
		return domain.EnvironmentArtifactSummary{}, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying promotions for %s/%s in %s/%s", key.Type, key.Name, configName, envName)
	}
	defer rows.Close()

	var all []promotionRow
	for rows.Next() {
		var pr promotionRow
		if scanErr := rows.Scan(&pr.version, &pr.deployingAt, &pr.deployedSuccessfullyAt); scanErr != nil {
			return domain.EnvironmentArtifactSummary{}, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning promotion row")
		}
		all = append(all, pr)
	}
	if err := rows.Err(); err != nil {
		return domain.EnvironmentArtifactSummary{}, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating promotion rows")
	}

	summary := domain.EnvironmentArtifactSummary{EnvName: envName, Artifact: key}
	accounted := make(map[string]bool, len(all))

	var deployed []promotionRow
	for _, pr := range all {
		if pr.deployedSuccessfullyAt != nil {
			deployed = append(deployed, pr)
		}
	}

	if len(deployed) > 0 {
		currentIdx := 0
		for i := 1; i < len(deployed); i++ {
			if deployed[i].deployedSuccessfullyAt.After(*deployed[currentIdx].deployedSuccessfullyAt) {
				currentIdx = i
			}
		}
		current := deployed[currentIdx].version
		summary.Current = &current
		accounted[current] = true

		sort.SliceStable(deployed, func(i, j int) bool {
			return deployed[i].deployedSuccessfullyAt.Before(*deployed[j].deployedSuccessfullyAt)
		})
		for _, pr := range deployed {
			if pr.version == current {
				continue
			}
			summary.Previous = append(summary.Previous, pr.version)
			accounted[pr.version] = true
		}
	}

	for _, pr := range all {
		if pr.deployedSuccessfullyAt == nil && pr.deployingAt != nil {
			deploying := pr.version
			summary.Deploying = &deploying
			accounted[pr.version] = true
			break
		}
	}

	knownVersions, versionsErr := r.queryVersions(ctx, key, a.StatusFilter)
	if versionsErr != nil {
		return domain.EnvironmentArtifactSummary{}, versionsErr
	}
	for _, v := range knownVersions {
		if !accounted[v] {
			summary.Pending = append(summary.Pending, v)
		}
	}
	versioncompare.SortDescending(summary.Pending, cmp)

	return summary, nil
}
