package dto

import (
	"encoding/json"
	"time"

	"github.com/fraruiz/pgmb/internal/application/broker"
	"github.com/fraruiz/pgmb/internal/domain"
)

type PublishResp struct {
	MessageID     string   `json:"message_id"`
	MatchedQueues []string `json:"matched_queues"`
}

type MessageResp struct {
	ID         string          `json:"id"`
	RoutingKey string          `json:"routing_key"`
	Body       json.RawMessage `json:"body"`
	Headers    json.RawMessage `json:"headers,omitempty"`
	VisibleAt  time.Time       `json:"visible_at"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type WorkerResp struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Endpoint        string     `json:"endpoint"`
	RPS             int        `json:"rps"`
	CreatedAt       time.Time  `json:"created_at"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

type QueueResp struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	BindingPattern string    `json:"binding_pattern"`
	WorkerID       string    `json:"worker_id"`
	MaxRetries     int       `json:"max_retries"`
	CreatedAt      time.Time `json:"created_at"`
}

type QueueStatsResp struct {
	Pending      int64 `json:"pending"`
	Leased       int64 `json:"leased"`
	Acknowledged int64 `json:"acknowledged"`
	DeadLettered int64 `json:"dead_lettered"`
}

type QueueDetailResp struct {
	QueueResp
	Stats QueueStatsResp `json:"stats"`
}

type DeadLetterResp struct {
	ID         int64     `json:"id"`
	MessageID  string    `json:"message_id"`
	Retries    int       `json:"retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func ToPublishResp(res *broker.PublishResult) PublishResp {
	matched := res.MatchedQueues
	if matched == nil {
		matched = []string{}
	}
	return PublishResp{MessageID: res.Message.ID, MatchedQueues: matched}
}

func ToMessageResp(m *domain.Message) MessageResp {
	return MessageResp{
		ID:         m.ID,
		RoutingKey: m.RoutingKey,
		Body:       m.Body,
		Headers:    m.Headers,
		VisibleAt:  m.VisibleAt,
		OccurredAt: m.OccurredAt,
	}
}

func ToWorkerResp(w *domain.Worker) WorkerResp {
	return WorkerResp{
		ID:              w.ID,
		Name:            w.Name,
		Endpoint:        w.Endpoint,
		RPS:             w.RPS,
		CreatedAt:       w.CreatedAt,
		LastHeartbeatAt: w.LastHeartbeatAt,
	}
}

func ToQueueResp(q *domain.Queue) QueueResp {
	return QueueResp{
		ID:             q.ID,
		Name:           q.Name,
		BindingPattern: q.BindingPattern,
		WorkerID:       q.WorkerID,
		MaxRetries:     q.MaxRetries,
		CreatedAt:      q.CreatedAt,
	}
}

func ToQueueDetailResp(info *broker.QueueInfo) QueueDetailResp {
	return QueueDetailResp{
		QueueResp: ToQueueResp(info.Queue),
		Stats: QueueStatsResp{
			Pending:      info.Stats.Pending,
			Leased:       info.Stats.Leased,
			Acknowledged: info.Stats.Acknowledged,
			DeadLettered: info.Stats.DeadLettered,
		},
	}
}

func ToDeadLetterResp(dl *domain.DeadLetter) DeadLetterResp {
	return DeadLetterResp{
		ID:         dl.ID,
		MessageID:  dl.MessageID,
		Retries:    dl.Retries,
		EnqueuedAt: dl.EnqueuedAt,
	}
}
