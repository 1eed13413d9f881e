// Package claimqueue implements the claim-for-check protocol shared by the
// resource repository and the delivery-config repository: select up to N
// rows whose last-check timestamp is stale, advance it to now, and return
// the claimed keys — mutual exclusion, fairness, and atomicity from a
// single SELECT ... FOR UPDATE SKIP LOCKED transaction.
package claimqueue

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deliveryctl/core/internal/core/resilience"
	"github.com/deliveryctl/core/internal/domainerr"
)

// transientChecker retries a claim attempt when Postgres aborts it for
// reasons that have nothing to do with the rows being legitimately locked
// by another worker: serialization failures and deadlocks under
// concurrent claimants. SKIP LOCKED already avoids blocking on locked
// rows, so these only show up under genuine write contention on the
// updated timestamp column.
type transientChecker struct{}

func (transientChecker) IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

// Table describes the last-checked table a Claim call operates over: the
// table name, its key column, and the timestamp column. keyColumn is also
// the tie-break for fairness, ascending, after last_checked_at ascending.
type Table struct {
	Name            string
	KeyColumn       string
	TimestampColumn string
}

// Claim selects up to limit keys from t whose timestamp column is at or
// before the cutoff, locking the rows FOR UPDATE SKIP LOCKED so concurrent
// callers never double-claim, then advances their timestamp to now and
// returns the claimed keys in the same order they were selected (oldest
// timestamp first, ties broken by key ascending).
func Claim(ctx context.Context, pool *pgxpool.Pool, t Table, cutoff time.Time, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, domainerr.New(domainerr.KindInvalidArgument, "claim limit must be positive, got %d", limit)
	}

	var claimed []string
	policy := resilience.DefaultRetryPolicy()
	policy.OperationName = "claimqueue.claim." + t.Name
	policy.ErrorChecker = transientChecker{}
	err := resilience.WithRetry(ctx, policy, func() error {
		keys, attemptErr := claimOnce(ctx, pool, t, cutoff, now, limit)
		if attemptErr != nil {
			return attemptErr
		}
		claimed = keys
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func claimOnce(ctx context.Context, pool *pgxpool.Pool, t Table, cutoff time.Time, now time.Time, limit int) (claimed []string, err error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, err, "beginning claim transaction on %s", t.Name)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	selectQuery := `SELECT ` + t.KeyColumn + ` FROM ` + t.Name + `
		WHERE ` + t.TimestampColumn + ` <= $1
		ORDER BY ` + t.TimestampColumn + ` ASC, ` + t.KeyColumn + ` ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, selectErr := tx.Query(ctx, selectQuery, cutoff, limit)
	if selectErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, selectErr, "selecting claimable rows from %s", t.Name)
	}

	var keys []string
	for rows.Next() {
		var k string
		if scanErr := rows.Scan(&k); scanErr != nil {
			rows.Close()
			return nil, domainerr.Wrap(domainerr.KindTransientStore, scanErr, "scanning claimable key from %s", t.Name)
		}
		keys = append(keys, k)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, rowsErr, "iterating claimable rows from %s", t.Name)
	}

	if len(keys) == 0 {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, domainerr.Wrap(domainerr.KindTransientStore, commitErr, "committing empty claim on %s", t.Name)
		}
		return nil, nil
	}

	updateQuery := `UPDATE ` + t.Name + ` SET ` + t.TimestampColumn + ` = $1 WHERE ` + t.KeyColumn + ` = ANY($2)`
	if _, updateErr := tx.Exec(ctx, updateQuery, now, keys); updateErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, updateErr, "advancing last-checked timestamps on %s", t.Name)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, domainerr.Wrap(domainerr.KindTransientStore, commitErr, "committing claim on %s", t.Name)
	}

	return keys, nil
}
