package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxRetries = 5

// Queue names become part of storage identifiers, so they are restricted to a
// strict class: lowercase letters, digits and underscore, not starting with a
// digit. Lowercase-only keeps derived names stable across SQL identifier
// folding.
var queueNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const maxQueueNameLen = 40

func ValidQueueName(name string) bool {
	return len(name) <= maxQueueNameLen && queueNameRe.MatchString(name)
}

// Queue binds a routing pattern to a worker. Every published message whose
// routing key matches BindingPattern gets one pending delivery on this queue.
type Queue struct {
	ID             string
	Name           string
	BindingPattern string
	WorkerID       string
	MaxRetries     int
	CreatedAt      time.Time
}

// NewQueue validates and builds a queue. maxRetries nil means the default
// budget; an explicit 0 means a single attempt before dead-lettering.
func NewQueue(name, bindingPattern, workerID string, maxRetries *int, now time.Time) (*Queue, error) {
	name = strings.TrimSpace(name)

	if !ValidQueueName(name) {
		return nil, ErrValidationMeta("invalid queue name", map[string]string{
			"name": "must match ^[a-z_][a-z0-9_]*$ and be <= 40 chars",
		})
	}
	if _, err := uuid.Parse(workerID); err != nil {
		return nil, ErrValidationMeta("invalid worker id", map[string]string{
			"worker_id": "must be a uuid",
		})
	}

	retries := DefaultMaxRetries
	if maxRetries != nil {
		if *maxRetries < 0 {
			return nil, ErrValidation("max_retries must be >= 0")
		}
		retries = *maxRetries
	}

	return &Queue{
		ID:             uuid.NewString(),
		Name:           name,
		BindingPattern: bindingPattern,
		WorkerID:       workerID,
		MaxRetries:     retries,
		CreatedAt:      now.UTC(),
	}, nil
}

func (q *Queue) Matches(routingKey string) bool {
	return Match(routingKey, q.BindingPattern)
}

// QueueStats is a point-in-time census of a queue's delivery containers.
type QueueStats struct {
	Pending      int64
	Leased       int64
	Acknowledged int64
	DeadLettered int64
}
