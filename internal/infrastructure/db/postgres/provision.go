package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fraruiz/pgmb/internal/domain"
)

// containerNames are the physical identifiers derived from a queue name.
// Queue names are restricted to ^[a-z_][a-z0-9_]*$ and 40 chars, so every
// derived identifier fits Postgres's 63-byte limit and never needs quoting.
type containerNames struct {
	deliveries string
	pendingIdx string
	dlq        string
}

func containersFor(queueName string) (containerNames, error) {
	if !domain.ValidQueueName(queueName) {
		return containerNames{}, domain.ErrValidationMeta("invalid queue name", map[string]string{
			"name": "unsafe for identifier derivation",
		})
	}
	return containerNames{
		deliveries: "q_" + queueName + "_deliveries",
		pendingIdx: "q_" + queueName + "_pending_idx",
		dlq:        "q_" + queueName + "_dlq",
	}, nil
}

func (n containerNames) fill(tpl string) string {
	return fmt.Sprintf(tpl, n.deliveries, n.pendingIdx, n.dlq)
}

// EnsureSchema creates the base tables. Idempotent; run it on every start.
// Per-queue containers are provisioned by InsertQueue and survive restarts.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createWorkersSQL, createQueuesSQL, createMessagesSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func createContainers(ctx context.Context, tx *sql.Tx, n containerNames) error {
	for _, tpl := range []string{createDeliveriesSQLTpl, createPendingIdxSQLTpl, createDLQSQLTpl} {
		if _, err := tx.ExecContext(ctx, n.fill(tpl)); err != nil {
			return err
		}
	}
	return nil
}

func dropContainers(ctx context.Context, tx *sql.Tx, n containerNames) error {
	for _, table := range []string{n.deliveries, n.dlq} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(dropContainerSQLTpl, table)); err != nil {
			return err
		}
	}
	return nil
}
