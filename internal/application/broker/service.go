package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fraruiz/pgmb/internal/logger"
)

const (
	defaultTickInterval = time.Second
	defaultLeaseTimeout = 60 * time.Second
)

type Options struct {
	// TickInterval is the cadence of each queue's dispatch loop.
	TickInterval time.Duration
	// LeaseTimeout is how long a lease may be held before the abandoned-lease
	// sweep treats it as one failed attempt.
	LeaseTimeout time.Duration
}

// Service is the broker engine: publish fan-out, the admin surface, and the
// per-queue dispatch loops.
type Service struct {
	store Store
	clock Clock
	log   zerolog.Logger

	disp  *dispatcher
	sched *scheduler
}

func New(store Store, client WorkerClient, clock Clock, opts Options) *Service {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = defaultLeaseTimeout
	}

	disp := &dispatcher{
		store:        store,
		client:       client,
		clock:        clock,
		leaseTimeout: opts.LeaseTimeout,
		log:          logger.Logger.With().Str("component", "dispatcher").Logger(),
	}

	sched := newScheduler(disp, opts.TickInterval,
		logger.Logger.With().Str("component", "scheduler").Logger())

	return &Service{
		store: store,
		clock: clock,
		log:   logger.Logger.With().Str("component", "broker").Logger(),
		disp:  disp,
		sched: sched,
	}
}

// Run starts a dispatch loop for every queue already in the store. Queues
// created afterwards get their loop registered by CreateQueue. ctx bounds the
// lifetime of all loops, including ones registered later.
func (s *Service) Run(ctx context.Context) error {
	s.sched.start(ctx)

	queues, err := s.store.ListQueues(ctx)
	if err != nil {
		return err
	}
	for _, q := range queues {
		s.sched.register(q.ID, q.Name)
	}
	s.log.Info().Int("queues", len(queues)).Msg("dispatch loops started")
	return nil
}

// Tick runs one dispatch cycle for the queue. This is the scheduler contract
// surface; overlapping invocations for the same queue are safe.
func (s *Service) Tick(ctx context.Context, queueID string) error {
	return s.disp.tick(ctx, queueID)
}

// Shutdown stops every dispatch loop and waits for in-flight ticks.
func (s *Service) Shutdown() {
	s.sched.shutdown()
	s.log.Info().Msg("dispatch loops stopped")
}
