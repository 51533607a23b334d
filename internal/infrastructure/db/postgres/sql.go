package postgres

// Base tables. Per-queue containers are derived per queue name; their
// statements live in the *SQLTpl templates below and get the table name
// substituted in.

const createWorkersSQL = `
CREATE TABLE IF NOT EXISTS pgmb_workers (
  id UUID PRIMARY KEY,
  name TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  rps INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  last_heartbeat_at TIMESTAMPTZ
)
`

const createQueuesSQL = `
CREATE TABLE IF NOT EXISTS pgmb_queues (
  id UUID PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  binding_pattern TEXT NOT NULL,
  worker_id UUID NOT NULL REFERENCES pgmb_workers(id) ON DELETE CASCADE,
  max_retries INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)
`

const createMessagesSQL = `
CREATE TABLE IF NOT EXISTS pgmb_messages (
  id UUID PRIMARY KEY,
  routing_key TEXT NOT NULL,
  body JSONB NOT NULL,
  headers JSONB,
  visible_at TIMESTAMPTZ NOT NULL,
  occurred_at TIMESTAMPTZ NOT NULL
)
`

const insertWorkerSQL = `
INSERT INTO pgmb_workers (id, name, endpoint, rps, created_at, last_heartbeat_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const getWorkerSQL = `
SELECT id, name, endpoint, rps, created_at, last_heartbeat_at
FROM pgmb_workers WHERE id = $1
`

const listWorkersSQL = `
SELECT id, name, endpoint, rps, created_at, last_heartbeat_at
FROM pgmb_workers ORDER BY created_at ASC, id ASC
`

const deleteWorkerSQL = `DELETE FROM pgmb_workers WHERE id = $1`

const touchWorkerSQL = `UPDATE pgmb_workers SET last_heartbeat_at = $2 WHERE id = $1`

const insertQueueSQL = `
INSERT INTO pgmb_queues (id, name, binding_pattern, worker_id, max_retries, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const getQueueSQL = `
SELECT id, name, binding_pattern, worker_id, max_retries, created_at
FROM pgmb_queues WHERE id = $1
`

const getQueueByNameSQL = `
SELECT id, name, binding_pattern, worker_id, max_retries, created_at
FROM pgmb_queues WHERE name = $1
`

const listQueuesSQL = `
SELECT id, name, binding_pattern, worker_id, max_retries, created_at
FROM pgmb_queues ORDER BY name ASC
`

const listQueuesByWorkerSQL = `
SELECT id, name, binding_pattern, worker_id, max_retries, created_at
FROM pgmb_queues WHERE worker_id = $1 ORDER BY name ASC
`

const deleteQueueSQL = `DELETE FROM pgmb_queues WHERE id = $1`

const insertMessageSQL = `
INSERT INTO pgmb_messages (id, routing_key, body, headers, visible_at, occurred_at)
VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6)
`

const getMessageSQL = `
SELECT id, routing_key, body, headers, visible_at, occurred_at
FROM pgmb_messages WHERE id = $1
`

// Per-queue container DDL. %[1]s is the deliveries table, %[2]s the pending
// index, %[3]s the dead-letter table. The partial index is exactly the lease
// candidate predicate, so leasing stays an index walk as the table accretes
// acknowledged rows.

const createDeliveriesSQLTpl = `
CREATE TABLE IF NOT EXISTS %[1]s (
  id BIGSERIAL PRIMARY KEY,
  message_id UUID NOT NULL REFERENCES pgmb_messages(id) ON DELETE CASCADE,
  acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
  retries INT NOT NULL DEFAULT 0,
  locked BOOLEAN NOT NULL DEFAULT FALSE,
  locked_at TIMESTAMPTZ,
  enqueued_at TIMESTAMPTZ NOT NULL,
  acknowledged_at TIMESTAMPTZ
)
`

const createPendingIdxSQLTpl = `
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (enqueued_at, id)
WHERE acknowledged = FALSE AND locked = FALSE
`

const createDLQSQLTpl = `
CREATE TABLE IF NOT EXISTS %[3]s (
  id BIGSERIAL PRIMARY KEY,
  message_id UUID NOT NULL,
  retries INT NOT NULL,
  enqueued_at TIMESTAMPTZ NOT NULL
)
`

const dropContainerSQLTpl = `DROP TABLE IF EXISTS %s`

const insertDeliverySQLTpl = `
INSERT INTO %s (message_id, enqueued_at) VALUES ($1, $2)
`

// Lease: pick, claim and join in one statement. SKIP LOCKED keeps concurrent
// engines from blocking on each other's candidate rows.
const leaseSQLTpl = `
WITH picked AS (
  SELECT id FROM %[1]s
  WHERE acknowledged = FALSE AND locked = FALSE AND enqueued_at <= $1
  ORDER BY enqueued_at ASC, id ASC
  LIMIT $2
  FOR UPDATE SKIP LOCKED
),
claimed AS (
  UPDATE %[1]s d
  SET locked = TRUE, locked_at = $1
  FROM picked p
  WHERE d.id = p.id
  RETURNING d.id, d.message_id, d.retries, d.enqueued_at, d.locked_at
)
SELECT c.id, c.message_id, m.body, c.retries, c.enqueued_at, c.locked_at
FROM claimed c
JOIN pgmb_messages m ON m.id = c.message_id
ORDER BY c.enqueued_at ASC, c.id ASC
`

const ackSQLTpl = `
UPDATE %s
SET acknowledged = TRUE, acknowledged_at = $2, locked = FALSE, locked_at = NULL
WHERE id = $1 AND locked = TRUE AND acknowledged = FALSE
`

const retrySQLTpl = `
UPDATE %s
SET retries = retries + 1, locked = FALSE, locked_at = NULL
WHERE id = $1 AND locked = TRUE AND acknowledged = FALSE
`

const deadLetterSQLTpl = `
WITH moved AS (
  DELETE FROM %[1]s
  WHERE id = $1 AND locked = TRUE AND acknowledged = FALSE
  RETURNING message_id, retries
)
INSERT INTO %[3]s (message_id, retries, enqueued_at)
SELECT message_id, retries, $2 FROM moved
`

// Abandoned-lease sweep. Rows at the retry budget move to the dead-letter
// table; the rest requeue with the failed attempt counted.
const reapDeadSQLTpl = `
WITH moved AS (
  DELETE FROM %[1]s
  WHERE id IN (
    SELECT id FROM %[1]s
    WHERE locked = TRUE AND acknowledged = FALSE AND locked_at <= $1 AND retries >= $2
    FOR UPDATE SKIP LOCKED
  )
  RETURNING message_id, retries
)
INSERT INTO %[3]s (message_id, retries, enqueued_at)
SELECT message_id, retries, $3 FROM moved
`

const reapRequeueSQLTpl = `
UPDATE %[1]s
SET locked = FALSE, locked_at = NULL, retries = retries + 1
WHERE id IN (
  SELECT id FROM %[1]s
  WHERE locked = TRUE AND acknowledged = FALSE AND locked_at <= $1 AND retries < $2
  FOR UPDATE SKIP LOCKED
)
`

const queueStatsSQLTpl = `
SELECT
  COUNT(*) FILTER (WHERE acknowledged = FALSE AND locked = FALSE) AS pending,
  COUNT(*) FILTER (WHERE locked = TRUE AND acknowledged = FALSE) AS leased,
  COUNT(*) FILTER (WHERE acknowledged = TRUE) AS acknowledged
FROM %s
`

const dlqCountSQLTpl = `SELECT COUNT(*) FROM %s`

const listDeadLettersSQLTpl = `
SELECT id, message_id, retries, enqueued_at
FROM %s ORDER BY id DESC LIMIT $1
`
