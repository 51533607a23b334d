package broker

import (
	"context"

	"github.com/google/uuid"

	"github.com/fraruiz/pgmb/internal/domain"
)

type CreateWorkerCmd struct {
	Name     string
	Endpoint string
	RPS      int
}

func (s *Service) CreateWorker(ctx context.Context, cmd CreateWorkerCmd) (*domain.Worker, error) {
	w, err := domain.NewWorker(cmd.Name, cmd.Endpoint, cmd.RPS, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertWorker(ctx, w); err != nil {
		return nil, err
	}
	s.log.Info().Str("worker_id", w.ID).Str("name", w.Name).Int("rps", w.RPS).Msg("worker created")
	return w, nil
}

func (s *Service) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrValidationMeta("invalid worker id", map[string]string{
			"worker_id": "must be a uuid",
		})
	}
	return s.store.GetWorker(ctx, id)
}

func (s *Service) ListWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return s.store.ListWorkers(ctx)
}

// DeleteWorker destroys the worker and cascades to every queue bound to it:
// each queue's dispatch loop is canceled before its containers are dropped.
func (s *Service) DeleteWorker(ctx context.Context, id string) error {
	w, err := s.GetWorker(ctx, id)
	if err != nil {
		return err
	}

	queues, err := s.store.ListQueuesByWorker(ctx, w.ID)
	if err != nil {
		return err
	}
	for _, q := range queues {
		s.sched.cancel(q.ID)
		if err := s.store.DeleteQueue(ctx, q); err != nil {
			return err
		}
		s.log.Info().Str("queue", q.Name).Str("worker_id", w.ID).Msg("queue destroyed with worker")
	}

	if err := s.store.DeleteWorker(ctx, w.ID); err != nil {
		return err
	}
	s.log.Info().Str("worker_id", w.ID).Msg("worker deleted")
	return nil
}

func (s *Service) Heartbeat(ctx context.Context, id string) error {
	w, err := s.GetWorker(ctx, id)
	if err != nil {
		return err
	}
	return s.store.TouchWorkerHeartbeat(ctx, w.ID, s.clock.Now().UTC())
}
