package broker

import (
	"context"
	"time"

	"github.com/fraruiz/pgmb/internal/domain"
)

type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Store is the durable backing for workers, queues, messages and the
// per-queue delivery containers. Implementations must keep every mutation
// listed here atomic; the dispatcher's correctness under concurrent engines
// depends on it. All time decisions use the now arguments, never a store
// clock.
type Store interface {
	InsertWorker(ctx context.Context, w *domain.Worker) error
	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	ListWorkers(ctx context.Context) ([]*domain.Worker, error)
	DeleteWorker(ctx context.Context, id string) error
	TouchWorkerHeartbeat(ctx context.Context, id string, at time.Time) error

	// InsertQueue persists the queue row and provisions its delivery and
	// dead-letter containers in one atomic step.
	InsertQueue(ctx context.Context, q *domain.Queue) error
	GetQueue(ctx context.Context, id string) (*domain.Queue, error)
	GetQueueByName(ctx context.Context, name string) (*domain.Queue, error)
	ListQueues(ctx context.Context) ([]*domain.Queue, error)
	ListQueuesByWorker(ctx context.Context, workerID string) ([]*domain.Queue, error)
	// DeleteQueue removes the queue row and drops both containers atomically.
	DeleteQueue(ctx context.Context, q *domain.Queue) error
	QueueStats(ctx context.Context, q *domain.Queue) (*domain.QueueStats, error)
	ListDeadLetters(ctx context.Context, q *domain.Queue, limit int) ([]*domain.DeadLetter, error)

	// InsertMessage persists the message and one pending delivery row per
	// matched queue, all-or-nothing. A zero-length queues slice persists the
	// message only.
	InsertMessage(ctx context.Context, m *domain.Message, queues []*domain.Queue) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)

	// LeaseDeliveries atomically claims up to limit pending rows visible at
	// now, ordered by (enqueued_at, id), skipping rows locked by concurrent
	// dispatchers. Claimed rows come back with the message body joined in.
	LeaseDeliveries(ctx context.Context, q *domain.Queue, limit int, now time.Time) ([]*domain.Delivery, error)

	// ReapAbandoned resolves leases older than cutoff as one failed attempt:
	// under budget back to pending with retries+1, at budget into the
	// dead-letter table stamped with now.
	ReapAbandoned(ctx context.Context, q *domain.Queue, cutoff, now time.Time) (requeued, deadLettered int64, err error)

	// Resolution primitives are conditioned on the row still being leased, so
	// replaying an outcome is a no-op.
	AckDelivery(ctx context.Context, q *domain.Queue, deliveryID int64, at time.Time) error
	RetryDelivery(ctx context.Context, q *domain.Queue, deliveryID int64) error
	DeadLetterDelivery(ctx context.Context, q *domain.Queue, deliveryID int64, at time.Time) error
}

// WorkerClient posts a message body to a worker endpoint and reports the
// HTTP status class. Transport failures surface as a synthetic 500.
type WorkerClient interface {
	Deliver(ctx context.Context, endpoint string, body []byte) int
}
