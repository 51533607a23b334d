package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Worker is an HTTP endpoint that consumes deliveries. Its RPS caps the lease
// batch size of every queue bound to it, one batch per dispatch tick.
type Worker struct {
	ID       string
	Name     string
	Endpoint string
	RPS      int

	CreatedAt       time.Time
	LastHeartbeatAt *time.Time
}

func NewWorker(name, endpoint string, rps int, now time.Time) (*Worker, error) {
	name = strings.TrimSpace(name)
	endpoint = strings.TrimSpace(endpoint)

	if name == "" || len(name) > 120 {
		return nil, ErrValidation("name is required and must be <= 120 chars")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrValidation("endpoint must be an absolute http(s) URL")
	}
	if rps < 1 {
		return nil, ErrValidation("rps must be >= 1")
	}

	return &Worker{
		ID:        uuid.NewString(),
		Name:      name,
		Endpoint:  endpoint,
		RPS:       rps,
		CreatedAt: now.UTC(),
	}, nil
}

func (w *Worker) Heartbeat(now time.Time) {
	t := now.UTC()
	w.LastHeartbeatAt = &t
}
