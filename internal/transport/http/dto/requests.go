package dto

import (
	"encoding/json"
	"time"

	"github.com/fraruiz/pgmb/internal/domain"
)

type PublishReq struct {
	ID         string          `json:"id" validate:"required,uuid"`
	RoutingKey string          `json:"routing_key"`
	Body       json.RawMessage `json:"body" validate:"required"`
	Headers    json.RawMessage `json:"headers,omitempty"`
	Visibility *Visibility     `json:"visibility,omitempty"`
}

type CreateWorkerReq struct {
	Name     string `json:"name" validate:"required,max=120"`
	Endpoint string `json:"endpoint" validate:"required,url"`
	RPS      int    `json:"rps" validate:"required,min=1"`
}

type CreateQueueReq struct {
	Name           string `json:"name" validate:"required,max=40"`
	BindingPattern string `json:"binding_pattern"`
	MaxRetries     *int   `json:"max_retries,omitempty" validate:"omitempty,min=0"`
	WorkerID       string `json:"worker_id" validate:"required,uuid"`
}

// Visibility is the polymorphic publish field: a JSON number is a delay in
// seconds from now, a JSON string is an absolute RFC3339 timestamp.
type Visibility struct {
	At    *time.Time
	Delay *time.Duration
}

func (v *Visibility) UnmarshalJSON(b []byte) error {
	var seconds float64
	if err := json.Unmarshal(b, &seconds); err == nil {
		d := time.Duration(seconds * float64(time.Second))
		v.Delay = &d
		return nil
	}

	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return domain.ErrValidationMeta("invalid visibility", map[string]string{
			"visibility": "must be a number of seconds or an RFC3339 timestamp",
		})
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return domain.ErrValidationMeta("invalid visibility", map[string]string{
			"visibility": "must be a number of seconds or an RFC3339 timestamp",
		})
	}
	at := t.UTC()
	v.At = &at
	return nil
}

// Domain converts to the application-layer visibility; nil means "now".
func (v *Visibility) Domain() domain.Visibility {
	if v == nil {
		return domain.Visibility{}
	}
	return domain.Visibility{At: v.At, Delay: v.Delay}
}
