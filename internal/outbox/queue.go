// Package outbox keeps contact form submissions that could not be delivered
// yet, and relays them when a background sync event fires.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS submissions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    subject TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`

// Submission is one contact form message.
type Submission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is a durable FIFO of pending submissions.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// NewQueue opens (or creates) the queue database at path
func NewQueue(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return openQueue(path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// NewMemoryQueue creates a queue that lives as long as the process
func NewMemoryQueue() (*Queue, error) {
	return openQueue(":memory:")
}

func openQueue(dsn string) (*Queue, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Queue{db: db, now: time.Now}, nil
}

// Enqueue stores s at the tail of the queue and returns it with its id and
// creation time filled in.
func (q *Queue) Enqueue(ctx context.Context, s Submission) (Submission, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = q.now().UTC()

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO submissions (id, name, email, subject, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Email, s.Subject, s.Message, s.CreatedAt.UnixNano(),
	)
	if err != nil {
		return s, fmt.Errorf("inserting submission: %w", err)
	}
	return s, nil
}

// List returns the pending submissions, oldest first.
func (q *Queue) List(ctx context.Context) ([]Submission, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, email, subject, message, created_at
		FROM submissions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var result []Submission
	for rows.Next() {
		var s Submission
		var created int64
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Subject, &s.Message, &created); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		s.CreatedAt = time.Unix(0, created).UTC()
		result = append(result, s)
	}
	return result, rows.Err()
}

// Remove deletes the submission with the given id. Removing an unknown id is not an error.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing submission %s: %w", id, err)
	}
	return nil
}

// Len returns the number of pending submissions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting submissions: %w", err)
	}
	return n, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}
