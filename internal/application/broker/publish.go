package broker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fraruiz/pgmb/internal/domain"
	"github.com/fraruiz/pgmb/internal/metrics"
)

type PublishCmd struct {
	ID         string
	RoutingKey string
	Body       json.RawMessage
	Headers    json.RawMessage
	Visibility domain.Visibility
}

type PublishResult struct {
	Message *domain.Message
	// MatchedQueues holds the names of every queue that received a pending
	// delivery, in store order.
	MatchedQueues []string
}

// Publish persists the message and fans it out onto every queue whose binding
// pattern matches the routing key, atomically. Zero matches still persist the
// message; queues created later never receive it.
func (s *Service) Publish(ctx context.Context, cmd PublishCmd) (*PublishResult, error) {
	msg, err := domain.NewMessage(cmd.ID, cmd.RoutingKey, cmd.Body, cmd.Headers, cmd.Visibility, s.clock.Now())
	if err != nil {
		return nil, err
	}

	queues, err := s.store.ListQueues(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*domain.Queue
	for _, q := range queues {
		if q.Matches(msg.RoutingKey) {
			matched = append(matched, q)
		}
	}

	if err := s.store.InsertMessage(ctx, msg, matched); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(matched))
	for _, q := range matched {
		names = append(names, q.Name)
	}

	metrics.RecordPublished(len(matched))
	s.log.Debug().
		Str("message_id", msg.ID).
		Str("routing_key", msg.RoutingKey).
		Strs("queues", names).
		Msg("published")

	return &PublishResult{Message: msg, MatchedQueues: names}, nil
}

// GetMessage returns the persisted record, matched or not. Delivery state
// lives on the per-queue rows, not here.
func (s *Service) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrValidationMeta("invalid message id", map[string]string{
			"message_id": "must be a uuid",
		})
	}
	return s.store.GetMessage(ctx, id)
}
