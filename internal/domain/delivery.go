package domain

import (
	"encoding/json"
	"time"
)

// Delivery is the per-queue, per-message unit of work. A row moves through
// pending (locked=false, ack=false), leased (locked=true), and either
// acknowledged (terminal) or deleted after a move to the dead-letter table.
type Delivery struct {
	ID        int64
	MessageID string

	// Body is the message payload, joined in when the row is leased.
	Body json.RawMessage

	Acknowledged bool
	Retries      int
	Locked       bool
	LockedAt     *time.Time
	EnqueuedAt   time.Time

	AcknowledgedAt *time.Time
}

// DeadLetter mirrors the delivery row shape at the moment its retry budget
// ran out. Rows are written once and never mutated.
type DeadLetter struct {
	ID         int64
	MessageID  string
	Retries    int
	EnqueuedAt time.Time
}

type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetry
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	default:
		return "dead_letter"
	}
}

// ResolveOutcome classifies one delivery attempt. Any 2xx acknowledges.
// Otherwise the budget decides: retries counts failed attempts already made,
// so a queue with max_retries = R allows R+1 attempts (retries 0..R) and the
// attempt that fails at retries == R dead-letters without incrementing.
func ResolveOutcome(status, retries, maxRetries int) Outcome {
	if status >= 200 && status < 300 {
		return OutcomeAck
	}
	if retries >= maxRetries {
		return OutcomeDeadLetter
	}
	return OutcomeRetry
}
