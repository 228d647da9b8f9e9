package budget

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/quentra/playbook/pkg/errors"
	"github.com/quentra/playbook/pkg/llm"
)

// DefaultRingCapacity bounds the in-memory usage history.
const DefaultRingCapacity = 10_000

// HistoryStore persists usage records for reporting.
type HistoryStore interface {
	// Append stores one usage record.
	Append(ctx context.Context, usage llm.Usage) error

	// QueryRange returns an organization's records within [from, to),
	// oldest first.
	QueryRange(ctx context.Context, orgID string, from, to time.Time) ([]llm.Usage, error)
}

// RingStore keeps the most recent records in a fixed-size ring. When the
// ring is full the oldest record is overwritten.
type RingStore struct {
	mu      sync.RWMutex
	records []llm.Usage
	next    int
	full    bool
}

// NewRingStore creates a ring store with the given capacity.
func NewRingStore(capacity int) *RingStore {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingStore{records: make([]llm.Usage, capacity)}
}

// Append stores a record, overwriting the oldest when full.
func (s *RingStore) Append(ctx context.Context, usage llm.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.next] = usage
	s.next++
	if s.next == len(s.records) {
		s.next = 0
		s.full = true
	}
	return nil
}

// QueryRange returns matching records oldest first.
func (s *RingStore) QueryRange(ctx context.Context, orgID string, from, to time.Time) ([]llm.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []llm.Usage
	scan := func(r llm.Usage) {
		if r.OrgID != orgID {
			return
		}
		if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			return
		}
		out = append(out, r)
	}
	if s.full {
		for i := s.next; i < len(s.records); i++ {
			scan(s.records[i])
		}
	}
	for i := 0; i < s.next; i++ {
		scan(s.records[i])
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *RingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.records)
	}
	return s.next
}

// SQLStore persists usage records in a SQL database. It is written against
// SQLite but uses only portable SQL.
type SQLStore struct {
	db *sql.DB
}

const usageSchema = `
CREATE TABLE IF NOT EXISTS ai_usage (
	request_id    TEXT NOT NULL,
	org_id        TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_eur      REAL NOT NULL,
	latency_ms    INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_usage_org_time ON ai_usage (org_id, created_at);
`

// NewSQLStore creates the usage table if needed and returns the store.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, usageSchema); err != nil {
		return nil, errors.Wrap(err, "creating usage schema")
	}
	return &SQLStore{db: db}, nil
}

// Append inserts one usage record.
func (s *SQLStore) Append(ctx context.Context, usage llm.Usage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_usage (request_id, org_id, user_id, provider, model,
			input_tokens, output_tokens, cost_eur, latency_ms, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.RequestID, usage.OrgID, usage.UserID, usage.Provider, usage.Model,
		usage.InputTokens, usage.OutputTokens, usage.CostEUR,
		usage.Latency.Milliseconds(), usage.Success, usage.Timestamp.UTC())
	if err != nil {
		return errors.Wrap(err, "inserting usage record")
	}
	return nil
}

// QueryRange returns an organization's records within [from, to), oldest
// first.
func (s *SQLStore) QueryRange(ctx context.Context, orgID string, from, to time.Time) ([]llm.Usage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, org_id, user_id, provider, model,
			input_tokens, output_tokens, cost_eur, latency_ms, success, created_at
		 FROM ai_usage
		 WHERE org_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC`,
		orgID, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying usage records")
	}
	defer rows.Close()

	var out []llm.Usage
	for rows.Next() {
		var u llm.Usage
		var latencyMS int64
		var ts time.Time
		if err := rows.Scan(&u.RequestID, &u.OrgID, &u.UserID, &u.Provider, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.CostEUR, &latencyMS, &u.Success, &ts); err != nil {
			return nil, errors.Wrap(err, "scanning usage record")
		}
		u.Latency = time.Duration(latencyMS) * time.Millisecond
		u.Timestamp = ts
		out = append(out, u)
	}
	return out, rows.Err()
}

// TotalCost sums an organization's spend within [from, to).
func (s *SQLStore) TotalCost(ctx context.Context, orgID string, from, to time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cost_eur) FROM ai_usage
		 WHERE org_id = ? AND created_at >= ? AND created_at < ?`,
		orgID, from.UTC(), to.UTC()).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "summing usage cost")
	}
	return total.Float64, nil
}
