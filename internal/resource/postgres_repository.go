package resource

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/deliveryctl/core/internal/claimqueue"
	"github.com/deliveryctl/core/internal/clock"
	"github.com/deliveryctl/core/internal/domain"
	"github.com/deliveryctl/core/internal/domainerr"
	"github.com/deliveryctl/core/internal/idgen"
	"github.com/deliveryctl/core/internal/validate"
)

var lastCheckedTable = claimqueue.Table{
	Name:            "resource_last_checked",
	KeyColumn:       "resource_uid",
	TimestampColumn: "last_checked_at",
}

// epochPlusOneSecond is the instant (one second past the Unix epoch) a
// freshly stored resource's last-checked row is initialized to, so the
// resource is immediately due for its first check.
var epochPlusOneSecond = time.Unix(1, 0).UTC()

// PostgresRepository implements Repository over Postgres.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	ids     *idgen.Generator
}

// NewPostgresRepository constructs a repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool, c clock.Clock, logger *slog.Logger) *PostgresRepository {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{pool: pool, clock: c, logger: logger, metrics: NewMetrics(), ids: idgen.NewGenerator()}
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
func (r *PostgresRepository) Store(ctx context.Context, res domain.Resource) (stored domain.Resource, err error) {
	start := time.Now()
	defer r.observe("store", start, &err)

	// Uid is allocated below on first store, so it isn't present yet on the
	// caller's input; validate everything else against a placeholder copy.
	validationCopy := res
	validationCopy.Uid = "pending"
	if err := validate.Struct(validationCopy); err != nil {
		return domain.Resource{}, err
	}

	metadataJSON, marshalErr := json.Marshal(res.Metadata)
	if marshalErr != nil {
		return domain.Resource{}, domainerr.Wrap(domainerr.KindInvalidArgument, marshalErr, "marshaling metadata for %s", res.Id)
	}
	specJSON, marshalErr := json.Marshal(res.Spec)
	if marshalErr != nil {
		return domain.Resource{}, domainerr.Wrap(domainerr.KindInvalidArgument, marshalErr, "marshaling spec for %s", res.Id)
	}
	apiVersion, kind := res.GVK.GroupVersion().String(), res.GVK.Kind

	tx, txErr := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if txErr != nil {
		return domain.Resource{}, domainerr.Wrap(domainerr.KindTransientStore, txErr, "beginning store transaction for %s", res.Id)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const existingUIDQuery = `SELECT uid FROM resource WHERE id = $1`
	var uid string
	scanErr := tx.QueryRow(ctx, existingUIDQuery, res.Id).Scan(&uid)
	switch {
	case errors.Is(scanErr, pgx.ErrNoRows):
		uid = r.ids.New(r.clock.Now())
	case scanErr != nil:
		return domain.Resource{}, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "checking existing uid for %s", res.Id)
	}

	now := r.clock.Now()
	const upsert = `
		INSERT INTO resource (uid, id, api_version, kind, application, metadata, spec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			api_version = EXCLUDED.api_version,
			kind = EXCLUDED.kind,
			application = EXCLUDED.application,
			metadata = EXCLUDED.metadata,
			spec = EXCLUDED.spec,
			updated_at = EXCLUDED.updated_at`
	if _, execErr := tx.Exec(ctx, upsert, uid, res.Id, apiVersion, kind, res.Application, metadataJSON, specJSON, now); execErr != nil {
		return domain.Resource{}, domainerr.Wrap(domainerr.KindTransientStore, execErr, "upserting resource %s", res.Id)
	}

	const ensureLastChecked = `
		INSERT INTO resource_last_checked (resource_uid, last_checked_at)
		VALUES ($1, $2)
		ON CONFLICT (resource_uid) DO NOTHING`
	if _, execErr := tx.Exec(ctx, ensureLastChecked, uid, epochPlusOneSecond); execErr != nil {
		return domain.Resource{}, domainerr.Wrap(domainerr.KindTransientStore, execErr, "initializing last-checked row for %s", res.Id)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return domain.Resource{}, domainerr.Wrap(domainerr.KindTransientStore, commitErr, "committing store of %s", res.Id)
	}

	res.Uid = uid
	return res, nil
}

func scanResource(row pgx.Row) (domain.Resource, error) {
	var res domain.Resource
	var apiVersion, kind string
	var metadataJSON, specJSON []byte
	if err := row.Scan(&res.Uid, &res.Id, &apiVersion, &kind, &res.Application, &metadataJSON, &specJSON); err != nil {
		return domain.Resource{}, err
	}
	res.GVK = schema.FromAPIVersionAndKind(apiVersion, kind)
	if err := json.Unmarshal(metadataJSON, &res.Metadata); err != nil {
		return domain.Resource{}, err
	}
	if err := json.Unmarshal(specJSON, &res.Spec); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id string) (res domain.Resource, err error) {
	start := time.Now()
	defer r.observe("get", start, &err)

	const query = `SELECT uid, id, api_version, kind, application, metadata, spec FROM resource WHERE id = $1`
	res, scanErr := scanResource(r.pool.QueryRow(ctx, query, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.Resource{}, domainerr.New(domainerr.KindNoSuchResourceID, "no resource with id %s", id)
	}
	if scanErr != nil {
		return domain.Resource{}, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "loading resource %s", id)
	}
	return res, nil
}

// GetResourcesByApplication implements Repository.
func (r *PostgresRepository) GetResourcesByApplication(ctx context.Context, app string) (resources []domain.Resource, err error) {
	start := time.Now()
	defer func() {
		r.observe("get_resources_by_application", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("get_resources_by_application").Observe(float64(len(resources)))
		}
	}()

	const query = `SELECT uid, id, api_version, kind, application, metadata, spec FROM resource WHERE application = $1 ORDER BY id`
	rows, queryErr := r.pool.Query(ctx, query, app)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying resources for application %s", app)
	}
	defer rows.Close()

	for rows.Next() {
		res, scanErr := scanResource(rows)
		if scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning resource row for application %s", app)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating resources for application %s", app)
	}
	return resources, nil
}

// GetResourceIDsByApplication implements Repository.
func (r *PostgresRepository) GetResourceIDsByApplication(ctx context.Context, app string) (ids []string, err error) {
	start := time.Now()
	defer r.observe("get_resource_ids_by_application", start, &err)

	const query = `SELECT id FROM resource WHERE application = $1 ORDER BY id`
	rows, queryErr := r.pool.Query(ctx, query, app)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying resource ids for application %s", app)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning resource id for application %s", app)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating resource ids for application %s", app)
	}
	return ids, nil
}

// HasManagedResources implements Repository.
func (r *PostgresRepository) HasManagedResources(ctx context.Context, app string) (has bool, err error) {
	start := time.Now()
	defer r.observe("has_managed_resources", start, &err)

	const query = `SELECT 1 FROM resource WHERE application = $1 LIMIT 1`
	var one int
	scanErr := r.pool.QueryRow(ctx, query, app).Scan(&one)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "checking managed resources for application %s", app)
	}
	return true, nil
}

// GetSummaryByApplication implements Repository. Status is read from the
// resource's metadata "status" field when present; resources don't carry
// their own summarization logic in the core, so this is the closest
// caller-opaque substitute.
func (r *PostgresRepository) GetSummaryByApplication(ctx context.Context, app string) (summaries []domain.ResourceSummary, err error) {
	start := time.Now()
	defer func() {
		r.observe("get_summary_by_application", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("get_summary_by_application").Observe(float64(len(summaries)))
		}
	}()

	const query = `SELECT id, kind, metadata FROM resource WHERE application = $1 ORDER BY id`
	rows, queryErr := r.pool.Query(ctx, query, app)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying resource summaries for application %s", app)
	}
	defer rows.Close()

	for rows.Next() {
		var id, kind string
		var metadataJSON []byte
		if scanErr := rows.Scan(&id, &kind, &metadataJSON); scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning resource summary row for application %s", app)
		}
		var metadata map[string]any
		if unmarshalErr := json.Unmarshal(metadataJSON, &metadata); unmarshalErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, unmarshalErr, "decoding metadata for %s", id)
		}
		status, _ := metadata["status"].(string)
		if status == "" {
			status = "unknown"
		}
		summaries = append(summaries, domain.ResourceSummary{Id: id, Kind: kind, Status: status})
	}
	if err := rows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating resource summaries for application %s", app)
	}
	return summaries, nil
}

// Delete implements Repository. Events and the last-check row cascade via
// foreign keys.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer r.observe("delete", start, &err)

	const query = `DELETE FROM resource WHERE id = $1`
	tag, execErr := r.pool.Exec(ctx, query, id)
	if execErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, execErr, "deleting resource %s", id)
	}
	if tag.RowsAffected() == 0 {
		return domainerr.New(domainerr.KindNoSuchResourceID, "no resource with id %s", id)
	}
	return nil
}

// DeleteByApplication implements Repository.
func (r *PostgresRepository) DeleteByApplication(ctx context.Context, app string) (count int, err error) {
	start := time.Now()
	defer r.observe("delete_by_application", start, &err)

	const query = `DELETE FROM resource WHERE application = $1`
	tag, execErr := r.pool.Exec(ctx, query, app)
	if execErr != nil {
		return 0, domainerr.Wrap(domainerr.KindTransientStore, execErr, "deleting resources for application %s", app)
	}
	return int(tag.RowsAffected()), nil
}

// AllResources implements Repository: a finite, single-pass stream of
// lightweight headers.
func (r *PostgresRepository) AllResources(ctx context.Context, visit func(domain.ResourceHeader) error) (err error) {
	start := time.Now()
	defer r.observe("all_resources", start, &err)

	const query = `SELECT id, api_version, kind FROM resource ORDER BY id`
	rows, queryErr := r.pool.Query(ctx, query)
	if queryErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying resource headers")
	}
	defer rows.Close()

	for rows.Next() {
		var id, apiVersion, kind string
		if scanErr := rows.Scan(&id, &apiVersion, &kind); scanErr != nil {
			return domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning resource header")
		}
		header := domain.ResourceHeader{Id: id, GVK: schema.FromAPIVersionAndKind(apiVersion, kind)}
		if visitErr := visit(header); visitErr != nil {
			return visitErr
		}
	}
	if err := rows.Err(); err != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, err, "iterating resource headers")
	}
	return nil
}

// EventHistory implements Repository.
func (r *PostgresRepository) EventHistory(ctx context.Context, resourceID string, limit int) (events []domain.ResourceEvent, err error) {
	start := time.Now()
	defer func() {
		r.observe("event_history", start, &err)
		if err == nil {
			r.metrics.ResultSize.WithLabelValues("event_history").Observe(float64(len(events)))
		}
	}()

	if limit <= 0 {
		err = domainerr.New(domainerr.KindInvalidArgument, "limit must be positive, got %d", limit)
		return nil, err
	}

	res, getErr := r.Get(ctx, resourceID)
	if getErr != nil {
		return nil, getErr
	}

	const query = `
		SELECT timestamp, kind, payload FROM resource_event
		WHERE resource_uid = $1
		ORDER BY timestamp DESC
		LIMIT $2`
	rows, queryErr := r.pool.Query(ctx, query, res.Uid, limit)
	if queryErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, queryErr, "querying event history for %s", resourceID)
	}
	defer rows.Close()

	for rows.Next() {
		var ev domain.ResourceEvent
		var kind string
		var payloadJSON []byte
		if scanErr := rows.Scan(&ev.Timestamp, &kind, &payloadJSON); scanErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning event row for %s", resourceID)
		}
		ev.ResourceUid = res.Uid
		ev.Kind = domain.ResourceEventKind(kind)
		if unmarshalErr := json.Unmarshal(payloadJSON, &ev.Payload); unmarshalErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, unmarshalErr, "decoding event payload for %s", resourceID)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "iterating event history for %s", resourceID)
	}

	if len(events) == 0 {
		err = domainerr.New(domainerr.KindNoSuchResourceID, "resource %s has no event history", resourceID)
		return nil, err
	}
	return events, nil
}

// AppendHistory implements Repository.
func (r *PostgresRepository) AppendHistory(ctx context.Context, ev domain.ResourceEvent) (err error) {
	start := time.Now()
	defer r.observe("append_history", start, &err)

	if err := validate.Struct(ev); err != nil {
		return err
	}

	if ev.SuppressRepeats {
		const lastKindQuery = `
			SELECT kind FROM resource_event
			WHERE resource_uid = $1
			ORDER BY timestamp DESC, id DESC
			LIMIT 1`
		var lastKind string
		scanErr := r.pool.QueryRow(ctx, lastKindQuery, ev.ResourceUid).Scan(&lastKind)
		switch {
		case errors.Is(scanErr, pgx.ErrNoRows):
			// no prior event; nothing to suppress against.
		case scanErr != nil:
			return domainerr.Wrap(domainerr.KindTransientStore, scanErr, "checking last event kind for %s", ev.ResourceUid)
		case lastKind == string(ev.Kind):
			return nil
		}
	}

	payloadJSON, marshalErr := json.Marshal(ev.Payload)
	if marshalErr != nil {
		return domainerr.Wrap(domainerr.KindInvalidArgument, marshalErr, "marshaling event payload for %s", ev.ResourceUid)
	}

	const insert = `
		INSERT INTO resource_event (resource_uid, timestamp, kind, payload)
		VALUES ($1, $2, $3, $4)`
	if _, execErr := r.pool.Exec(ctx, insert, ev.ResourceUid, ev.Timestamp, string(ev.Kind), payloadJSON); execErr != nil {
		return domainerr.Wrap(domainerr.KindTransientStore, execErr, "appending event for %s", ev.ResourceUid)
	}
	return nil
}

// ItemsDueForCheck implements Repository via the shared claimqueue
// primitive.
func (r *PostgresRepository) ItemsDueForCheck(ctx context.Context, minSinceLast time.Duration, limit int) (uids []string, err error) {
	start := time.Now()
	defer r.observe("items_due_for_check", start, &err)

	now := r.clock.Now()
	cutoff := now.Add(-minSinceLast)
	return claimqueue.Claim(ctx, r.pool, lastCheckedTable, cutoff, now, limit)
}
