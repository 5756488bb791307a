package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/herald/internal/queue"
)

// QueueStore is the SQLite-backed delivery queue. It implements queue.Store
// so the engine can run with a persistent queue instead of the in-memory one.
type QueueStore struct {
	db *sql.DB
}

var _ queue.Store = (*QueueStore)(nil)

func NewQueueStore(db *sql.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Enqueue(ctx context.Context, item queue.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}

	var personalization any
	if len(item.Personalization) > 0 {
		data, err := json.Marshal(item.Personalization)
		if err != nil {
			return fmt.Errorf("encode personalization: %w", err)
		}
		personalization = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO delivery_queue(
  id, user_id, template_id, rule_id, ready_at, priority, priority_rank,
  retry_count, personalization, status, last_error, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, item.ID, item.UserID, item.TemplateID, nullable(item.RuleID),
		item.ReadyAt.UTC().Format(time.RFC3339Nano),
		string(item.Priority), item.Priority.Weight(),
		item.RetryCount, personalization, string(item.Status),
		nullable(item.LastError),
		item.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("enqueue item: %w", err)
	}
	return nil
}

func (s *QueueStore) Get(ctx context.Context, id string) (queue.Item, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, template_id, rule_id, ready_at, priority, retry_count,
       personalization, status, last_error, created_at
FROM delivery_queue
WHERE id = ?;
`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Item{}, fmt.Errorf("item %s not found", id)
	}
	if err != nil {
		return queue.Item{}, fmt.Errorf("load item: %w", err)
	}
	return item, nil
}

func (s *QueueStore) Ready(ctx context.Context, now time.Time, maxRetries, limit int) ([]queue.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, template_id, rule_id, ready_at, priority, retry_count,
       personalization, status, last_error, created_at
FROM delivery_queue
WHERE status = ? AND ready_at <= ? AND retry_count < ?
ORDER BY priority_rank DESC, ready_at ASC, id ASC
LIMIT ?;
`, string(queue.StatusPending), now.UTC().Format(time.RFC3339Nano), maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("select ready items: %w", err)
	}
	defer rows.Close()

	var out []queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ready item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ready items: %w", err)
	}
	return out, nil
}

func (s *QueueStore) MarkSent(ctx context.Context, id string) error {
	return s.transition(ctx, id, `
UPDATE delivery_queue
SET status = ?, last_error = NULL
WHERE id = ? AND status = ?;
`, string(queue.StatusSent), id, string(queue.StatusPending))
}

func (s *QueueStore) MarkFailed(ctx context.Context, id string, retryCount int, reason string) error {
	return s.transition(ctx, id, `
UPDATE delivery_queue
SET status = ?, retry_count = ?, last_error = ?
WHERE id = ? AND status = ?;
`, string(queue.StatusFailed), retryCount, reason, id, string(queue.StatusPending))
}

func (s *QueueStore) Reschedule(ctx context.Context, id string, retryCount int, readyAt time.Time, reason string) error {
	return s.transition(ctx, id, `
UPDATE delivery_queue
SET retry_count = ?, ready_at = ?, last_error = ?
WHERE id = ? AND status = ?;
`, retryCount, readyAt.UTC().Format(time.RFC3339Nano), reason, id, string(queue.StatusPending))
}

func (s *QueueStore) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id, `
UPDATE delivery_queue
SET status = ?
WHERE id = ? AND status = ?;
`, string(queue.StatusCancelled), id, string(queue.StatusPending))
}

// transition runs an update gated on pending status. Zero rows affected
// means the item is missing or already terminal.
func (s *QueueStore) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("item %s not found or not pending", id)
	}
	return nil
}

func (s *QueueStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM delivery_queue
WHERE status IN (?, ?) AND ready_at < ?;
`, string(queue.StatusSent), string(queue.StatusFailed), cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("cleanup items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return int(n), nil
}

func (s *QueueStore) Stats(ctx context.Context) (queue.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM delivery_queue GROUP BY status;
`)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats queue.Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return queue.Stats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Total += count
		switch queue.Status(status) {
		case queue.StatusPending:
			stats.Pending += count
		case queue.StatusSent:
			stats.Sent += count
		case queue.StatusFailed:
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return queue.Stats{}, fmt.Errorf("iterate stats rows: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (queue.Item, error) {
	var (
		item            queue.Item
		ruleID          sql.NullString
		readyAtS        string
		priorityS       string
		personalization sql.NullString
		statusS         string
		lastError       sql.NullString
		createdAtS      string
	)
	err := row.Scan(
		&item.ID, &item.UserID, &item.TemplateID, &ruleID, &readyAtS, &priorityS,
		&item.RetryCount, &personalization, &statusS, &lastError, &createdAtS,
	)
	if err != nil {
		return queue.Item{}, err
	}

	item.Priority = queue.Priority(priorityS)
	item.Status = queue.Status(statusS)
	if ruleID.Valid {
		item.RuleID = ruleID.String
	}
	if lastError.Valid {
		item.LastError = lastError.String
	}
	if personalization.Valid && personalization.String != "" {
		if err := json.Unmarshal([]byte(personalization.String), &item.Personalization); err != nil {
			return queue.Item{}, fmt.Errorf("decode personalization: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, readyAtS); err == nil {
		item.ReadyAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		item.CreatedAt = t
	}
	return item, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
