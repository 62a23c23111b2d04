package transcript

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one processed command recorded for operator review. Transcripts
// are write-only from the request path; they are never fed back into the
// model, so requests stay stateless.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Command    string    `json:"command"`
	Answer     string    `json:"answer"`
	Outcome    string    `json:"outcome"` // "answered", "degraded"
	ToolCalls  int       `json:"tool_calls"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store handles transcript persistence
type Store struct {
	db *DB
}

// NewStore creates a new transcript store
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Record inserts one transcript entry.
func (s *Store) Record(ctx context.Context, e Entry) (*Entry, error) {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridge_transcripts (id, user_id, command, answer, outcome, tool_calls, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Command, e.Answer, e.Outcome, e.ToolCalls, e.DurationMS, e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// ListRecent returns the newest entries, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, command, answer, outcome, tool_calls, duration_ms, created_at
		 FROM bridge_transcripts
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Command, &e.Answer, &e.Outcome, &e.ToolCalls, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
