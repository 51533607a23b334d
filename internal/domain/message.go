package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is the immutable published record. VisibleAt is the earliest time
// any queue may lease a delivery of it; backdating is allowed.
type Message struct {
	ID         string
	RoutingKey string
	Body       json.RawMessage
	Headers    json.RawMessage // stored, never transmitted to workers

	VisibleAt  time.Time
	OccurredAt time.Time
}

// Visibility is the polymorphic publish parameter: an absolute timestamp, a
// non-negative delay from now, or neither (visible immediately).
type Visibility struct {
	At    *time.Time
	Delay *time.Duration
}

func (v Visibility) Resolve(now time.Time) (time.Time, error) {
	switch {
	case v.At != nil && v.Delay != nil:
		return time.Time{}, ErrValidation("visibility accepts a timestamp or a delay, not both")
	case v.At != nil:
		return v.At.UTC(), nil
	case v.Delay != nil:
		if *v.Delay < 0 {
			return time.Time{}, ErrValidation("visibility delay must be >= 0 seconds")
		}
		return now.UTC().Add(*v.Delay), nil
	default:
		return now.UTC(), nil
	}
}

// NewMessage validates the caller-supplied id and JSON documents and stamps
// occurred_at with the publisher clock.
func NewMessage(id, routingKey string, body, headers json.RawMessage, vis Visibility, now time.Time) (*Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrValidationMeta("invalid message id", map[string]string{
			"id": "must be a uuid",
		})
	}
	if len(body) == 0 || !json.Valid(body) {
		return nil, ErrValidation("body must be a valid JSON document")
	}
	if len(headers) > 0 && !json.Valid(headers) {
		return nil, ErrValidation("headers must be a valid JSON document")
	}

	visibleAt, err := vis.Resolve(now)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:         id,
		RoutingKey: routingKey,
		Body:       body,
		Headers:    headers,
		VisibleAt:  visibleAt,
		OccurredAt: now.UTC(),
	}, nil
}
