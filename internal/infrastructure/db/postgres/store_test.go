package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraruiz/pgmb/internal/domain"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func testQueue() *domain.Queue {
	return &domain.Queue{
		ID:             "2f9c8db1-52d4-4f8a-9b51-111111111111",
		Name:           "billing_jobs",
		BindingPattern: "invoice.*",
		WorkerID:       "2f9c8db1-52d4-4f8a-9b51-222222222222",
		MaxRetries:     3,
		CreatedAt:      base,
	}
}

func TestStore_InsertWorker(t *testing.T) {
	store, mock := newMock(t)

	w := &domain.Worker{
		ID: "2f9c8db1-52d4-4f8a-9b51-333333333333", Name: "billing",
		Endpoint: "http://worker:9000/jobs", RPS: 10, CreatedAt: base,
	}

	mock.ExpectExec("INSERT INTO pgmb_workers").
		WithArgs(w.ID, w.Name, w.Endpoint, w.RPS, w.CreatedAt, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.InsertWorker(context.Background(), w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetWorker(t *testing.T) {
	t.Run("success_mapping", func(t *testing.T) {
		store, mock := newMock(t)
		hb := base.Add(time.Minute)

		rows := sqlmock.NewRows([]string{"id", "name", "endpoint", "rps", "created_at", "last_heartbeat_at"}).
			AddRow("w1", "billing", "http://worker:9000/jobs", 10, base, hb)
		mock.ExpectQuery("SELECT id, name, endpoint, rps, created_at, last_heartbeat_at").
			WithArgs("w1").
			WillReturnRows(rows)

		w, err := store.GetWorker(context.Background(), "w1")
		require.NoError(t, err)
		assert.Equal(t, 10, w.RPS)
		require.NotNil(t, w.LastHeartbeatAt)
		assert.True(t, w.LastHeartbeatAt.Equal(hb))
	})

	t.Run("not_found_mapping", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectQuery("SELECT").WithArgs("none").WillReturnError(sql.ErrNoRows)

		_, err := store.GetWorker(context.Background(), "none")
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestStore_TouchWorkerHeartbeat(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("UPDATE pgmb_workers SET last_heartbeat_at").
		WithArgs("w1", base).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.TouchWorkerHeartbeat(context.Background(), "w1", base)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertQueue(t *testing.T) {
	t.Run("provisions_containers_in_one_tx", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pgmb_queues").
			WithArgs(q.ID, q.Name, q.BindingPattern, q.WorkerID, q.MaxRetries, q.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS q_billing_jobs_deliveries").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS q_billing_jobs_pending_idx ON q_billing_jobs_deliveries").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS q_billing_jobs_dlq").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, store.InsertQueue(context.Background(), q))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate_name_maps_to_conflict", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pgmb_queues").
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mock.ExpectRollback()

		err := store.InsertQueue(context.Background(), q)
		assert.True(t, domain.IsCode(err, domain.CodeConflict))
	})

	t.Run("missing_worker_maps_to_not_found", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pgmb_queues").
			WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})
		mock.ExpectRollback()

		err := store.InsertQueue(context.Background(), q)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestStore_DeleteQueue(t *testing.T) {
	t.Run("drops_containers_in_one_tx", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM pgmb_queues").
			WithArgs(q.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DROP TABLE IF EXISTS q_billing_jobs_deliveries").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DROP TABLE IF EXISTS q_billing_jobs_dlq").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, store.DeleteQueue(context.Background(), q))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing_row_is_not_found", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM pgmb_queues").
			WithArgs(q.ID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.DeleteQueue(context.Background(), q)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestStore_InsertMessage(t *testing.T) {
	msg := &domain.Message{
		ID:         "2f9c8db1-52d4-4f8a-9b51-444444444444",
		RoutingKey: "invoice.created",
		Body:       json.RawMessage(`{"n":1}`),
		VisibleAt:  base,
		OccurredAt: base,
	}

	t.Run("fans_out_to_matched_queues", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pgmb_messages").
			WithArgs(msg.ID, msg.RoutingKey, `{"n":1}`, nil, msg.VisibleAt, msg.OccurredAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO q_billing_jobs_deliveries").
			WithArgs(msg.ID, msg.VisibleAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, store.InsertMessage(context.Background(), msg, []*domain.Queue{q}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero_match_persists_message_only", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pgmb_messages").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.InsertMessage(context.Background(), msg, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate_id_maps_to_conflict", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO pgmb_messages").
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mock.ExpectRollback()

		err := store.InsertMessage(context.Background(), msg, nil)
		assert.True(t, domain.IsCode(err, domain.CodeConflict))
	})
}

func TestStore_LeaseDeliveries(t *testing.T) {
	t.Run("claims_and_joins_bodies", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()
		lockedAt := base.Add(time.Second)

		rows := sqlmock.NewRows([]string{"id", "message_id", "body", "retries", "enqueued_at", "locked_at"}).
			AddRow(int64(7), "m1", `{"n":1}`, 2, base, lockedAt).
			AddRow(int64(9), "m2", `{"n":2}`, 0, base, lockedAt)
		mock.ExpectQuery("WITH picked AS").
			WithArgs(lockedAt, 10).
			WillReturnRows(rows)

		out, err := store.LeaseDeliveries(context.Background(), q, 10, lockedAt)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, int64(7), out[0].ID)
		assert.True(t, out[0].Locked)
		assert.Equal(t, 2, out[0].Retries)
		assert.JSONEq(t, `{"n":1}`, string(out[0].Body))
		require.NotNil(t, out[1].LockedAt)
		assert.True(t, out[1].LockedAt.Equal(lockedAt))
	})

	t.Run("zero_limit_skips_query", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		out, err := store.LeaseDeliveries(context.Background(), q, 0, base)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsafe_queue_name_is_rejected", func(t *testing.T) {
		store, _ := newMock(t)
		q := testQueue()
		q.Name = "billing; DROP TABLE pgmb_messages"

		_, err := store.LeaseDeliveries(context.Background(), q, 10, base)
		assert.True(t, domain.IsCode(err, domain.CodeValidation))
	})
}

func TestStore_ReapAbandoned(t *testing.T) {
	store, mock := newMock(t)
	q := testQueue()
	cutoff := base.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO q_billing_jobs_dlq").
		WithArgs(cutoff, q.MaxRetries, base).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE q_billing_jobs_deliveries").
		WithArgs(cutoff, q.MaxRetries).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	requeued, deadLettered, err := store.ReapAbandoned(context.Background(), q, cutoff, base)
	require.NoError(t, err)
	assert.Equal(t, int64(5), requeued)
	assert.Equal(t, int64(2), deadLettered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Resolution(t *testing.T) {
	t.Run("ack_is_conditioned_on_lease", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectExec("UPDATE q_billing_jobs_deliveries").
			WithArgs(int64(7), base).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.AckDelivery(context.Background(), q, 7, base))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retry_increments_and_unlocks", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectExec("UPDATE q_billing_jobs_deliveries").
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.RetryDelivery(context.Background(), q, 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("dead_letter_moves_row", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectExec("WITH moved AS").
			WithArgs(int64(7), base).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.DeadLetterDelivery(context.Background(), q, 7, base))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_QueueStats(t *testing.T) {
	t.Run("counts_all_states", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectQuery("FROM q_billing_jobs_deliveries").
			WillReturnRows(sqlmock.NewRows([]string{"pending", "leased", "acknowledged"}).
				AddRow(int64(4), int64(1), int64(20)))
		mock.ExpectQuery("FROM q_billing_jobs_dlq").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

		stats, err := store.QueueStats(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.Pending)
		assert.Equal(t, int64(1), stats.Leased)
		assert.Equal(t, int64(20), stats.Acknowledged)
		assert.Equal(t, int64(2), stats.DeadLettered)
	})

	t.Run("dropped_table_maps_to_not_found", func(t *testing.T) {
		store, mock := newMock(t)
		q := testQueue()

		mock.ExpectQuery("FROM q_billing_jobs_deliveries").
			WillReturnError(&pgconn.PgError{Code: pgUndefinedTable})

		_, err := store.QueueStats(context.Background(), q)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestStore_GetMessage(t *testing.T) {
	store, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "routing_key", "body", "headers", "visible_at", "occurred_at"}).
		AddRow("m1", "invoice.created", `{"n":1}`, nil, base, base)
	mock.ExpectQuery("SELECT id, routing_key, body, headers").
		WithArgs("m1").
		WillReturnRows(rows)

	m, err := store.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(m.Body))
	assert.Nil(t, m.Headers)
}
