package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fraruiz/pgmb/internal/domain"
)

// Store is the durable backend on database/sql with the pgx driver. One
// broker database holds three base tables plus a pair of tables per queue;
// every multi-row mutation runs in a single transaction or a single
// statement, which is what makes concurrent engine instances safe.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// SQLSTATE classes we translate into domain errors. Anything else is an
// infrastructure failure and passes through as-is.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgUndefinedTable      = "42P01"
)

func mapPgError(err error, notFound, conflict string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return domain.ErrConflict(conflict)
		case pgForeignKeyViolation, pgUndefinedTable:
			return domain.ErrNotFound(notFound)
		}
	}
	return err
}

func (s *Store) InsertWorker(ctx context.Context, w *domain.Worker) error {
	_, err := s.db.ExecContext(ctx, insertWorkerSQL,
		w.ID, w.Name, w.Endpoint, w.RPS, w.CreatedAt, w.LastHeartbeatAt,
	)
	return mapPgError(err, "worker not found", "worker already exists")
}

func scanWorker(row *sql.Row) (*domain.Worker, error) {
	var w domain.Worker
	err := row.Scan(&w.ID, &w.Name, &w.Endpoint, &w.RPS, &w.CreatedAt, &w.LastHeartbeatAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("worker not found")
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	return scanWorker(s.db.QueryRowContext(ctx, getWorkerSQL, id))
}

func (s *Store) ListWorkers(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := s.db.QueryContext(ctx, listWorkersSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Worker
	for rows.Next() {
		var w domain.Worker
		if err := rows.Scan(&w.ID, &w.Name, &w.Endpoint, &w.RPS, &w.CreatedAt, &w.LastHeartbeatAt); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWorker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, deleteWorkerSQL, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("worker not found")
	}
	return nil
}

func (s *Store) TouchWorkerHeartbeat(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, touchWorkerSQL, id, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("worker not found")
	}
	return nil
}

// InsertQueue writes the queue row and provisions its containers in one
// transaction, so a crash mid-create leaves nothing behind.
func (s *Store) InsertQueue(ctx context.Context, q *domain.Queue) error {
	names, err := containersFor(q.Name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, insertQueueSQL,
		q.ID, q.Name, q.BindingPattern, q.WorkerID, q.MaxRetries, q.CreatedAt,
	)
	if err != nil {
		return mapPgError(err, "worker not found", "queue name already exists")
	}
	if err := createContainers(ctx, tx, names); err != nil {
		return err
	}
	return tx.Commit()
}

func scanQueue(row *sql.Row) (*domain.Queue, error) {
	var q domain.Queue
	err := row.Scan(&q.ID, &q.Name, &q.BindingPattern, &q.WorkerID, &q.MaxRetries, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("queue not found")
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) GetQueue(ctx context.Context, id string) (*domain.Queue, error) {
	return scanQueue(s.db.QueryRowContext(ctx, getQueueSQL, id))
}

func (s *Store) GetQueueByName(ctx context.Context, name string) (*domain.Queue, error) {
	return scanQueue(s.db.QueryRowContext(ctx, getQueueByNameSQL, name))
}

func (s *Store) listQueues(ctx context.Context, query string, args ...any) ([]*domain.Queue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Queue
	for rows.Next() {
		var q domain.Queue
		if err := rows.Scan(&q.ID, &q.Name, &q.BindingPattern, &q.WorkerID, &q.MaxRetries, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

func (s *Store) ListQueues(ctx context.Context) ([]*domain.Queue, error) {
	return s.listQueues(ctx, listQueuesSQL)
}

func (s *Store) ListQueuesByWorker(ctx context.Context, workerID string) ([]*domain.Queue, error) {
	return s.listQueues(ctx, listQueuesByWorkerSQL, workerID)
}

// DeleteQueue removes the queue row and drops both containers. Dropping waits
// on any transaction still holding locks in them, so callers stop the queue's
// dispatch loop first.
func (s *Store) DeleteQueue(ctx context.Context, q *domain.Queue) error {
	names, err := containersFor(q.Name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, deleteQueueSQL, q.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("queue not found")
	}
	if err := dropContainers(ctx, tx, names); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) QueueStats(ctx context.Context, q *domain.Queue) (*domain.QueueStats, error) {
	names, err := containersFor(q.Name)
	if err != nil {
		return nil, err
	}

	var stats domain.QueueStats
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(queueStatsSQLTpl, names.deliveries))
	if err := row.Scan(&stats.Pending, &stats.Leased, &stats.Acknowledged); err != nil {
		return nil, mapPgError(err, "queue not found", "")
	}
	row = s.db.QueryRowContext(ctx, fmt.Sprintf(dlqCountSQLTpl, names.dlq))
	if err := row.Scan(&stats.DeadLettered); err != nil {
		return nil, mapPgError(err, "queue not found", "")
	}
	return &stats, nil
}

func (s *Store) ListDeadLetters(ctx context.Context, q *domain.Queue, limit int) ([]*domain.DeadLetter, error) {
	names, err := containersFor(q.Name)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(listDeadLettersSQLTpl, names.dlq), limit)
	if err != nil {
		return nil, mapPgError(err, "queue not found", "")
	}
	defer rows.Close()

	var out []*domain.DeadLetter
	for rows.Next() {
		var d domain.DeadLetter
		if err := rows.Scan(&d.ID, &d.MessageID, &d.Retries, &d.EnqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// InsertMessage persists the message and fans it out onto every matched
// queue's deliveries table, all in one transaction.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message, queues []*domain.Queue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var headers any
	if len(m.Headers) > 0 {
		headers = string(m.Headers)
	}
	_, err = tx.ExecContext(ctx, insertMessageSQL,
		m.ID, m.RoutingKey, string(m.Body), headers, m.VisibleAt, m.OccurredAt,
	)
	if err != nil {
		return mapPgError(err, "message not found", "message already exists")
	}

	for _, q := range queues {
		names, err := containersFor(q.Name)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(insertDeliverySQLTpl, names.deliveries), m.ID, m.VisibleAt)
		if err != nil {
			return mapPgError(err, "queue not found", "")
		}
	}
	return tx.Commit()
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, getMessageSQL, id)

	var m domain.Message
	var body string
	var headers sql.NullString
	err := row.Scan(&m.ID, &m.RoutingKey, &body, &headers, &m.VisibleAt, &m.OccurredAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("message not found")
	}
	if err != nil {
		return nil, err
	}
	m.Body = json.RawMessage(body)
	if headers.Valid {
		m.Headers = json.RawMessage(headers.String)
	}
	return &m, nil
}
