package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fraruiz/pgmb/internal/domain"
)

// Store is the non-durable backend: same contract as the Postgres store, one
// process, one mutex. Meant for local development and tests.
type Store struct {
	mu sync.RWMutex

	workers  map[string]domain.Worker
	queues   map[string]domain.Queue // by id
	byName   map[string]string       // queue name -> id
	messages map[string]domain.Message

	containers map[string]*containers // by queue id
}

// containers holds one queue's delivery rows and dead letters, mirroring the
// per-queue tables of the Postgres store.
type containers struct {
	deliveries map[int64]*domain.Delivery
	deadRows   []domain.DeadLetter

	nextDeliveryID int64
	nextDeadID     int64
}

func New() *Store {
	return &Store{
		workers:    make(map[string]domain.Worker),
		queues:     make(map[string]domain.Queue),
		byName:     make(map[string]string),
		messages:   make(map[string]domain.Message),
		containers: make(map[string]*containers),
	}
}

func (s *Store) InsertWorker(ctx context.Context, w *domain.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[w.ID]; exists {
		return domain.ErrConflict("worker already exists")
	}
	s.workers[w.ID] = *w
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, domain.ErrNotFound("worker not found")
	}
	return &w, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		w := w
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteWorker removes the worker and cascades to its queue rows, matching
// the foreign-key behavior of the Postgres schema. Callers that need the
// queues' containers torn down delete the queues first.
func (s *Store) DeleteWorker(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return domain.ErrNotFound("worker not found")
	}
	delete(s.workers, id)

	for qid, q := range s.queues {
		if q.WorkerID == id {
			delete(s.queues, qid)
			delete(s.byName, q.Name)
			delete(s.containers, qid)
		}
	}
	return nil
}

func (s *Store) TouchWorkerHeartbeat(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return domain.ErrNotFound("worker not found")
	}
	t := at.UTC()
	w.LastHeartbeatAt = &t
	s.workers[id] = w
	return nil
}

func (s *Store) InsertQueue(ctx context.Context, q *domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[q.Name]; taken {
		return domain.ErrConflict("queue name already exists")
	}
	if _, exists := s.queues[q.ID]; exists {
		return domain.ErrConflict("queue already exists")
	}
	if _, ok := s.workers[q.WorkerID]; !ok {
		return domain.ErrNotFound("worker not found")
	}

	s.queues[q.ID] = *q
	s.byName[q.Name] = q.ID
	s.containers[q.ID] = &containers{
		deliveries:     make(map[int64]*domain.Delivery),
		nextDeliveryID: 1,
		nextDeadID:     1,
	}
	return nil
}

func (s *Store) GetQueue(ctx context.Context, id string) (*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[id]
	if !ok {
		return nil, domain.ErrNotFound("queue not found")
	}
	return &q, nil
}

func (s *Store) GetQueueByName(ctx context.Context, name string) (*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, domain.ErrNotFound("queue not found")
	}
	q := s.queues[id]
	return &q, nil
}

func (s *Store) ListQueues(ctx context.Context) ([]*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		q := q
		out = append(out, &q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListQueuesByWorker(ctx context.Context, workerID string) ([]*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Queue
	for _, q := range s.queues {
		if q.WorkerID == workerID {
			q := q
			out = append(out, &q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteQueue(ctx context.Context, q *domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[q.ID]; !ok {
		return domain.ErrNotFound("queue not found")
	}
	delete(s.queues, q.ID)
	delete(s.byName, q.Name)
	delete(s.containers, q.ID)
	return nil
}

func (s *Store) QueueStats(ctx context.Context, q *domain.Queue) (*domain.QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.containers[q.ID]
	if !ok {
		return nil, domain.ErrNotFound("queue not found")
	}

	stats := &domain.QueueStats{DeadLettered: int64(len(c.deadRows))}
	for _, d := range c.deliveries {
		switch {
		case d.Acknowledged:
			stats.Acknowledged++
		case d.Locked:
			stats.Leased++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

func (s *Store) ListDeadLetters(ctx context.Context, q *domain.Queue, limit int) ([]*domain.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.containers[q.ID]
	if !ok {
		return nil, domain.ErrNotFound("queue not found")
	}

	// Newest first, like the SQL ORDER BY id DESC.
	out := make([]*domain.DeadLetter, 0, limit)
	for i := len(c.deadRows) - 1; i >= 0 && len(out) < limit; i-- {
		row := c.deadRows[i]
		out = append(out, &row)
	}
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *domain.Message, queues []*domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[m.ID]; exists {
		return domain.ErrConflict("message already exists")
	}
	for _, q := range queues {
		if _, ok := s.containers[q.ID]; !ok {
			return domain.ErrNotFound("queue not found")
		}
	}

	s.messages[m.ID] = *m
	for _, q := range queues {
		c := s.containers[q.ID]
		id := c.nextDeliveryID
		c.nextDeliveryID++
		c.deliveries[id] = &domain.Delivery{
			ID:         id,
			MessageID:  m.ID,
			EnqueuedAt: m.VisibleAt,
		}
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound("message not found")
	}
	return &m, nil
}

func (s *Store) LeaseDeliveries(ctx context.Context, q *domain.Queue, limit int, now time.Time) ([]*domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[q.ID]
	if !ok {
		return nil, domain.ErrNotFound("queue not found")
	}
	if limit <= 0 {
		return nil, nil
	}

	var candidates []*domain.Delivery
	for _, d := range c.deliveries {
		if !d.Acknowledged && !d.Locked && !d.EnqueuedAt.After(now) {
			candidates = append(candidates, d)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EnqueuedAt.Equal(candidates[j].EnqueuedAt) {
			return candidates[i].EnqueuedAt.Before(candidates[j].EnqueuedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	at := now.UTC()
	out := make([]*domain.Delivery, 0, len(candidates))
	for _, d := range candidates {
		d.Locked = true
		t := at
		d.LockedAt = &t

		leased := *d
		leased.Body = s.messages[d.MessageID].Body
		out = append(out, &leased)
	}
	return out, nil
}

func (s *Store) ReapAbandoned(ctx context.Context, q *domain.Queue, cutoff, now time.Time) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[q.ID]
	if !ok {
		return 0, 0, domain.ErrNotFound("queue not found")
	}

	var requeued, deadLettered int64
	for id, d := range c.deliveries {
		if !d.Locked || d.Acknowledged || d.LockedAt == nil || d.LockedAt.After(cutoff) {
			continue
		}
		if d.Retries >= q.MaxRetries {
			c.moveToDead(d, now)
			delete(c.deliveries, id)
			deadLettered++
			continue
		}
		d.Retries++
		d.Locked = false
		d.LockedAt = nil
		requeued++
	}
	return requeued, deadLettered, nil
}

func (s *Store) AckDelivery(ctx context.Context, q *domain.Queue, deliveryID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[q.ID]
	if !ok {
		return domain.ErrNotFound("queue not found")
	}

	d, ok := c.deliveries[deliveryID]
	if !ok || !d.Locked || d.Acknowledged {
		return nil // resolved elsewhere; keep the outcome idempotent
	}
	t := at.UTC()
	d.Acknowledged = true
	d.AcknowledgedAt = &t
	d.Locked = false
	d.LockedAt = nil
	return nil
}

func (s *Store) RetryDelivery(ctx context.Context, q *domain.Queue, deliveryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[q.ID]
	if !ok {
		return domain.ErrNotFound("queue not found")
	}

	d, ok := c.deliveries[deliveryID]
	if !ok || !d.Locked || d.Acknowledged {
		return nil
	}
	d.Retries++
	d.Locked = false
	d.LockedAt = nil
	return nil
}

func (s *Store) DeadLetterDelivery(ctx context.Context, q *domain.Queue, deliveryID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[q.ID]
	if !ok {
		return domain.ErrNotFound("queue not found")
	}

	d, ok := c.deliveries[deliveryID]
	if !ok || !d.Locked || d.Acknowledged {
		return nil
	}
	c.moveToDead(d, at)
	delete(c.deliveries, deliveryID)
	return nil
}

// moveToDead copies the delivery into the dead-letter container. Retries is
// carried over as-is; the dead row's enqueued_at records when it was parked.
func (c *containers) moveToDead(d *domain.Delivery, at time.Time) {
	id := c.nextDeadID
	c.nextDeadID++
	c.deadRows = append(c.deadRows, domain.DeadLetter{
		ID:         id,
		MessageID:  d.MessageID,
		Retries:    d.Retries,
		EnqueuedAt: at.UTC(),
	})
}
