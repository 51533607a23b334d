package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fraruiz/pgmb/internal/domain"
	"github.com/fraruiz/pgmb/internal/metrics"
)

// dispatcher runs the per-queue tick: sweep abandoned leases, lease up to the
// worker's RPS, POST each body, resolve each row. The HTTP calls happen with
// no store transaction open; claim and resolve are separate short mutations.
type dispatcher struct {
	store        Store
	client       WorkerClient
	clock        Clock
	leaseTimeout time.Duration
	log          zerolog.Logger
}

func (d *dispatcher) tick(ctx context.Context, queueID string) error {
	q, err := d.store.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	w, err := d.store.GetWorker(ctx, q.WorkerID)
	if err != nil {
		return err
	}

	now := d.clock.Now().UTC()

	requeued, dead, err := d.store.ReapAbandoned(ctx, q, now.Add(-d.leaseTimeout), now)
	if err != nil {
		return fmt.Errorf("reap abandoned leases: %w", err)
	}
	if requeued > 0 || dead > 0 {
		metrics.RecordAbandoned(q.Name, requeued, dead)
		d.log.Warn().
			Str("queue", q.Name).
			Int64("requeued", requeued).
			Int64("dead_lettered", dead).
			Msg("abandoned leases swept")
	}

	// Batch size == worker RPS: with one tick per second this is the rate
	// limit for this queue.
	batch, err := d.store.LeaseDeliveries(ctx, q, w.RPS, now)
	if err != nil {
		return fmt.Errorf("lease deliveries: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].EnqueuedAt.Equal(batch[j].EnqueuedAt) {
			return batch[i].ID < batch[j].ID
		}
		return batch[i].EnqueuedAt.Before(batch[j].EnqueuedAt)
	})

	statuses := make([]int, len(batch))
	var wg sync.WaitGroup
	for i, del := range batch {
		wg.Add(1)
		go func(i int, del *domain.Delivery) {
			defer wg.Done()
			start := time.Now()
			statuses[i] = d.client.Deliver(ctx, w.Endpoint, del.Body)
			metrics.ObserveDeliveryDuration(q.Name, time.Since(start))
		}(i, del)
	}
	wg.Wait()

	resolvedAt := d.clock.Now().UTC()
	for i, del := range batch {
		outcome := domain.ResolveOutcome(statuses[i], del.Retries, q.MaxRetries)

		var resolveErr error
		switch outcome {
		case domain.OutcomeAck:
			resolveErr = d.store.AckDelivery(ctx, q, del.ID, resolvedAt)
		case domain.OutcomeRetry:
			resolveErr = d.store.RetryDelivery(ctx, q, del.ID)
		case domain.OutcomeDeadLetter:
			resolveErr = d.store.DeadLetterDelivery(ctx, q, del.ID, resolvedAt)
		}
		if resolveErr != nil {
			// Leave the row leased; the abandoned-lease sweep settles it.
			d.log.Error().Err(resolveErr).
				Str("queue", q.Name).
				Int64("delivery_id", del.ID).
				Str("outcome", outcome.String()).
				Msg("resolve failed")
			continue
		}

		metrics.RecordDeliveryAttempt(q.Name, outcome.String())
		switch outcome {
		case domain.OutcomeDeadLetter:
			d.log.Warn().
				Str("queue", q.Name).
				Str("message_id", del.MessageID).
				Int("retries", del.Retries).
				Int("status", statuses[i]).
				Msg("delivery dead-lettered")
		case domain.OutcomeRetry:
			d.log.Debug().
				Str("queue", q.Name).
				Str("message_id", del.MessageID).
				Int("retries", del.Retries+1).
				Int("status", statuses[i]).
				Msg("delivery scheduled for retry")
		}
	}

	return nil
}
