package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraruiz/pgmb/internal/domain"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedQueue(t *testing.T, s *Store, maxRetries int) *domain.Queue {
	t.Helper()
	ctx := context.Background()

	w, err := domain.NewWorker("billing", "http://worker:9000/jobs", 10, base)
	require.NoError(t, err)
	require.NoError(t, s.InsertWorker(ctx, w))

	q, err := domain.NewQueue("billing_jobs", "invoice.*", w.ID, &maxRetries, base)
	require.NoError(t, err)
	require.NoError(t, s.InsertQueue(ctx, q))
	return q
}

func publishAt(t *testing.T, s *Store, q *domain.Queue, visibleAt time.Time) *domain.Message {
	t.Helper()

	m, err := domain.NewMessage(uuid.NewString(), "invoice.created",
		json.RawMessage(`{"n":1}`), nil, domain.Visibility{At: &visibleAt}, base)
	require.NoError(t, err)
	require.NoError(t, s.InsertMessage(context.Background(), m, []*domain.Queue{q}))
	return m
}

func TestStore_Workers(t *testing.T) {
	ctx := context.Background()

	t.Run("insert_get_list_delete", func(t *testing.T) {
		s := New()
		w, err := domain.NewWorker("mailer", "https://mailer:8443/hook", 5, base)
		require.NoError(t, err)
		require.NoError(t, s.InsertWorker(ctx, w))

		got, err := s.GetWorker(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, "mailer", got.Name)
		assert.Nil(t, got.LastHeartbeatAt)

		all, err := s.ListWorkers(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)

		require.NoError(t, s.DeleteWorker(ctx, w.ID))
		_, err = s.GetWorker(ctx, w.ID)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})

	t.Run("heartbeat_sets_timestamp", func(t *testing.T) {
		s := New()
		w, err := domain.NewWorker("mailer", "http://mailer:8080", 1, base)
		require.NoError(t, err)
		require.NoError(t, s.InsertWorker(ctx, w))

		at := base.Add(time.Minute)
		require.NoError(t, s.TouchWorkerHeartbeat(ctx, w.ID, at))

		got, err := s.GetWorker(ctx, w.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastHeartbeatAt)
		assert.True(t, got.LastHeartbeatAt.Equal(at))
	})

	t.Run("missing_worker_is_not_found", func(t *testing.T) {
		s := New()
		err := s.TouchWorkerHeartbeat(ctx, uuid.NewString(), base)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})

	t.Run("delete_cascades_queue_rows", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)

		require.NoError(t, s.DeleteWorker(ctx, q.WorkerID))
		_, err := s.GetQueueByName(ctx, q.Name)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestStore_Queues(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate_name_conflicts", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)

		dup, err := domain.NewQueue(q.Name, "*", q.WorkerID, nil, base)
		require.NoError(t, err)
		err = s.InsertQueue(ctx, dup)
		assert.True(t, domain.IsCode(err, domain.CodeConflict))
	})

	t.Run("unknown_worker_is_not_found", func(t *testing.T) {
		s := New()
		q, err := domain.NewQueue("orphan", "*", uuid.NewString(), nil, base)
		require.NoError(t, err)
		err = s.InsertQueue(ctx, q)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})

	t.Run("delete_drops_containers", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		publishAt(t, s, q, base)

		require.NoError(t, s.DeleteQueue(ctx, q))
		_, err := s.QueueStats(ctx, q)
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestStore_InsertMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate_id_conflicts", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		m := publishAt(t, s, q, base)

		again, err := domain.NewMessage(m.ID, "invoice.created",
			json.RawMessage(`{}`), nil, domain.Visibility{}, base)
		require.NoError(t, err)
		err = s.InsertMessage(ctx, again, nil)
		assert.True(t, domain.IsCode(err, domain.CodeConflict))
	})

	t.Run("zero_match_persists_message_only", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)

		m, err := domain.NewMessage(uuid.NewString(), "audit.trail",
			json.RawMessage(`{"x":true}`), nil, domain.Visibility{}, base)
		require.NoError(t, err)
		require.NoError(t, s.InsertMessage(ctx, m, nil))

		got, err := s.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, "audit.trail", got.RoutingKey)

		stats, err := s.QueueStats(ctx, q)
		require.NoError(t, err)
		assert.Zero(t, stats.Pending)
	})
}

func TestStore_LeaseDeliveries(t *testing.T) {
	ctx := context.Background()

	t.Run("orders_by_enqueued_at_then_id", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)

		late := publishAt(t, s, q, base.Add(2*time.Second))
		early := publishAt(t, s, q, base)
		tied := publishAt(t, s, q, base) // same instant as early, higher id

		leased, err := s.LeaseDeliveries(ctx, q, 10, base.Add(5*time.Second))
		require.NoError(t, err)
		require.Len(t, leased, 3)
		assert.Equal(t, early.ID, leased[0].MessageID)
		assert.Equal(t, tied.ID, leased[1].MessageID)
		assert.Equal(t, late.ID, leased[2].MessageID)
	})

	t.Run("respects_limit_and_visibility", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)

		publishAt(t, s, q, base)
		publishAt(t, s, q, base.Add(time.Second))
		publishAt(t, s, q, base.Add(time.Hour)) // not yet visible

		leased, err := s.LeaseDeliveries(ctx, q, 1, base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, leased, 1)

		rest, err := s.LeaseDeliveries(ctx, q, 10, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, rest, 1) // second visible row; third still hidden
	})

	t.Run("leased_rows_are_skipped", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		publishAt(t, s, q, base)

		first, err := s.LeaseDeliveries(ctx, q, 10, base)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.True(t, first[0].Locked)
		assert.JSONEq(t, `{"n":1}`, string(first[0].Body))

		second, err := s.LeaseDeliveries(ctx, q, 10, base)
		require.NoError(t, err)
		assert.Empty(t, second)
	})
}

func TestStore_Resolution(t *testing.T) {
	ctx := context.Background()

	lease := func(t *testing.T, s *Store, q *domain.Queue) *domain.Delivery {
		t.Helper()
		leased, err := s.LeaseDeliveries(ctx, q, 1, base)
		require.NoError(t, err)
		require.Len(t, leased, 1)
		return leased[0]
	}

	t.Run("ack_is_terminal_and_idempotent", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		publishAt(t, s, q, base)
		d := lease(t, s, q)

		at := base.Add(time.Second)
		require.NoError(t, s.AckDelivery(ctx, q, d.ID, at))
		require.NoError(t, s.AckDelivery(ctx, q, d.ID, at.Add(time.Hour)))

		stats, err := s.QueueStats(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Acknowledged)
		assert.Zero(t, stats.Leased)

		leased, err := s.LeaseDeliveries(ctx, q, 10, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, leased)
	})

	t.Run("retry_requeues_with_incremented_count", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		publishAt(t, s, q, base)
		d := lease(t, s, q)

		require.NoError(t, s.RetryDelivery(ctx, q, d.ID))

		again, err := s.LeaseDeliveries(ctx, q, 1, base)
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, 1, again[0].Retries)
	})

	t.Run("retry_on_unleased_row_is_noop", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		publishAt(t, s, q, base)

		require.NoError(t, s.RetryDelivery(ctx, q, 1))

		leased, err := s.LeaseDeliveries(ctx, q, 1, base)
		require.NoError(t, err)
		require.Len(t, leased, 1)
		assert.Zero(t, leased[0].Retries)
	})

	t.Run("dead_letter_moves_row", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 0)
		m := publishAt(t, s, q, base)
		d := lease(t, s, q)

		parkedAt := base.Add(3 * time.Second)
		require.NoError(t, s.DeadLetterDelivery(ctx, q, d.ID, parkedAt))

		stats, err := s.QueueStats(ctx, q)
		require.NoError(t, err)
		assert.Zero(t, stats.Pending+stats.Leased+stats.Acknowledged)
		assert.Equal(t, int64(1), stats.DeadLettered)

		dead, err := s.ListDeadLetters(ctx, q, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, m.ID, dead[0].MessageID)
		assert.Zero(t, dead[0].Retries)
		assert.True(t, dead[0].EnqueuedAt.Equal(parkedAt))
	})

	t.Run("dead_letters_list_newest_first", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 0)
		first := publishAt(t, s, q, base)
		second := publishAt(t, s, q, base.Add(time.Second))

		leased, err := s.LeaseDeliveries(ctx, q, 10, base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, leased, 2)
		require.NoError(t, s.DeadLetterDelivery(ctx, q, leased[0].ID, base.Add(2*time.Second)))
		require.NoError(t, s.DeadLetterDelivery(ctx, q, leased[1].ID, base.Add(3*time.Second)))

		dead, err := s.ListDeadLetters(ctx, q, 1)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, second.ID, dead[0].MessageID)

		all, err := s.ListDeadLetters(ctx, q, 10)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, first.ID, all[1].MessageID)
	})
}

func TestStore_ReapAbandoned(t *testing.T) {
	ctx := context.Background()

	t.Run("requeues_expired_lease_as_failed_attempt", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		publishAt(t, s, q, base)

		leased, err := s.LeaseDeliveries(ctx, q, 1, base)
		require.NoError(t, err)
		require.Len(t, leased, 1)

		cutoff := base.Add(time.Second) // lease taken at base is older than cutoff
		requeued, dead, err := s.ReapAbandoned(ctx, q, cutoff, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), requeued)
		assert.Zero(t, dead)

		again, err := s.LeaseDeliveries(ctx, q, 1, base.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, 1, again[0].Retries)
	})

	t.Run("dead_letters_expired_lease_at_budget", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 0)
		publishAt(t, s, q, base)

		_, err := s.LeaseDeliveries(ctx, q, 1, base)
		require.NoError(t, err)

		now := base.Add(2 * time.Minute)
		requeued, dead, err := s.ReapAbandoned(ctx, q, base.Add(time.Minute), now)
		require.NoError(t, err)
		assert.Zero(t, requeued)
		assert.Equal(t, int64(1), dead)

		rows, err := s.ListDeadLetters(ctx, q, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].EnqueuedAt.Equal(now))
	})

	t.Run("fresh_leases_untouched", func(t *testing.T) {
		s := New()
		q := seedQueue(t, s, 3)
		publishAt(t, s, q, base)

		_, err := s.LeaseDeliveries(ctx, q, 1, base)
		require.NoError(t, err)

		requeued, dead, err := s.ReapAbandoned(ctx, q, base.Add(-time.Minute), base)
		require.NoError(t, err)
		assert.Zero(t, requeued)
		assert.Zero(t, dead)
	})
}

// Several dispatch loops hammering the same queue must hand out each pending
// row to exactly one of them.
func TestStore_ConcurrentLeaseClaimsEachRowOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := seedQueue(t, s, 3)

	const total = 100
	for i := 0; i < total; i++ {
		publishAt(t, s, q, base.Add(-time.Second))
	}

	const dispatchers = 4
	claimed := make(chan int64, total*dispatchers)

	var wg sync.WaitGroup
	for i := 0; i < dispatchers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.LeaseDeliveries(ctx, q, 50, base)
				if !assert.NoError(t, err) || len(batch) == 0 {
					return
				}
				for _, d := range batch {
					claimed <- d.ID
				}
			}
		}()
	}
	wg.Wait()
	close(claimed)

	seen := make(map[int64]int)
	for id := range claimed {
		seen[id]++
	}
	require.Len(t, seen, total)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "delivery %d leased %d times", id, n)
	}

	// Everything is claimed, so a follow-up lease comes back empty.
	again, err := s.LeaseDeliveries(ctx, q, 50, base)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Each claim resolves exactly once.
	for id := range seen {
		require.NoError(t, s.AckDelivery(ctx, q, id, base))
	}
	stats, err := s.QueueStats(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(total), stats.Acknowledged)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Leased)
}
