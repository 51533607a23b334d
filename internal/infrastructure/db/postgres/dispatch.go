package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fraruiz/pgmb/internal/domain"
)

// LeaseDeliveries claims up to limit pending rows visible at now, oldest
// first. The whole pick-claim-join runs as one statement, so a row is either
// fully leased with its body attached or untouched.
func (s *Store) LeaseDeliveries(ctx context.Context, q *domain.Queue, limit int, now time.Time) ([]*domain.Delivery, error) {
	names, err := containersFor(q.Name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, names.fill(leaseSQLTpl), now.UTC(), limit)
	if err != nil {
		return nil, mapPgError(err, "queue not found", "")
	}
	defer rows.Close()

	var out []*domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var body string
		if err := rows.Scan(&d.ID, &d.MessageID, &body, &d.Retries, &d.EnqueuedAt, &d.LockedAt); err != nil {
			return nil, err
		}
		d.Body = json.RawMessage(body)
		d.Locked = true
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ReapAbandoned resolves leases locked at or before cutoff: rows at the retry
// budget move to the dead-letter table stamped with now, the rest requeue
// with retries incremented. Both steps commit together.
func (s *Store) ReapAbandoned(ctx context.Context, q *domain.Queue, cutoff, now time.Time) (int64, int64, error) {
	names, err := containersFor(q.Name)
	if err != nil {
		return 0, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, names.fill(reapDeadSQLTpl), cutoff.UTC(), q.MaxRetries, now.UTC())
	if err != nil {
		return 0, 0, mapPgError(err, "queue not found", "")
	}
	deadLettered, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, names.fill(reapRequeueSQLTpl), cutoff.UTC(), q.MaxRetries)
	if err != nil {
		return 0, 0, mapPgError(err, "queue not found", "")
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return requeued, deadLettered, nil
}

// The resolve statements condition on the row still being leased, so an
// outcome applied twice, or after the sweep already intervened, is a no-op.

func (s *Store) AckDelivery(ctx context.Context, q *domain.Queue, deliveryID int64, at time.Time) error {
	names, err := containersFor(q.Name)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(ackSQLTpl, names.deliveries), deliveryID, at.UTC())
	return mapPgError(err, "queue not found", "")
}

func (s *Store) RetryDelivery(ctx context.Context, q *domain.Queue, deliveryID int64) error {
	names, err := containersFor(q.Name)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(retrySQLTpl, names.deliveries), deliveryID)
	return mapPgError(err, "queue not found", "")
}

func (s *Store) DeadLetterDelivery(ctx context.Context, q *domain.Queue, deliveryID int64, at time.Time) error {
	names, err := containersFor(q.Name)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, names.fill(deadLetterSQLTpl), deliveryID, at.UTC())
	return mapPgError(err, "queue not found", "")
}
