package broker

import (
	"context"

	"github.com/fraruiz/pgmb/internal/domain"
)

type CreateQueueCmd struct {
	Name           string
	BindingPattern string
	WorkerID       string
	MaxRetries     *int
}

// CreateQueue persists the queue, provisions its containers and starts its
// dispatch loop. Store-side failure leaves no partial state.
func (s *Service) CreateQueue(ctx context.Context, cmd CreateQueueCmd) (*domain.Queue, error) {
	q, err := domain.NewQueue(cmd.Name, cmd.BindingPattern, cmd.WorkerID, cmd.MaxRetries, s.clock.Now())
	if err != nil {
		return nil, err
	}

	// The store enforces this too; checking first gives a clean error before
	// any DDL runs.
	if _, err := s.store.GetWorker(ctx, q.WorkerID); err != nil {
		return nil, err
	}

	if err := s.store.InsertQueue(ctx, q); err != nil {
		return nil, err
	}
	s.sched.register(q.ID, q.Name)

	s.log.Info().
		Str("queue", q.Name).
		Str("pattern", q.BindingPattern).
		Int("max_retries", q.MaxRetries).
		Msg("queue created")
	return q, nil
}

func (s *Service) GetQueue(ctx context.Context, name string) (*domain.Queue, error) {
	return s.store.GetQueueByName(ctx, name)
}

// QueueInfo pairs a queue with the current census of its containers.
type QueueInfo struct {
	Queue *domain.Queue
	Stats *domain.QueueStats
}

func (s *Service) InspectQueue(ctx context.Context, name string) (*QueueInfo, error) {
	q, err := s.store.GetQueueByName(ctx, name)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.QueueStats(ctx, q)
	if err != nil {
		return nil, err
	}
	return &QueueInfo{Queue: q, Stats: stats}, nil
}

func (s *Service) ListQueues(ctx context.Context) ([]*domain.Queue, error) {
	return s.store.ListQueues(ctx)
}

// DeleteQueue cancels the dispatch loop first so no tick can run against
// dropped containers, then tears down the queue row and both tables.
func (s *Service) DeleteQueue(ctx context.Context, name string) error {
	q, err := s.store.GetQueueByName(ctx, name)
	if err != nil {
		return err
	}

	s.sched.cancel(q.ID)

	if err := s.store.DeleteQueue(ctx, q); err != nil {
		return err
	}
	s.log.Info().Str("queue", q.Name).Msg("queue deleted")
	return nil
}

func (s *Service) ListDeadLetters(ctx context.Context, name string, limit int) ([]*domain.DeadLetter, error) {
	q, err := s.store.GetQueueByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return s.store.ListDeadLetters(ctx, q, limit)
}
