package metrics

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteSink persists scalars to a SQLite database, one row per point,
// grouped under a run ID so several runs can share one file.
type SQLiteSink struct {
	db    *sql.DB
	runID string
}

// NewSQLiteSink opens (or creates) the database at path and prepares the
// scalars table. Each sink gets a fresh run ID.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %v", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS scalars (
		run_id     TEXT NOT NULL,
		tag        TEXT NOT NULL,
		value      REAL NOT NULL,
		step       INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scalars_run_tag ON scalars(run_id, tag);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create scalars table: %v", err)
	}

	return &SQLiteSink{
		db:    db,
		runID: uuid.New().String(),
	}, nil
}

// RunID returns the sink's run identifier.
func (s *SQLiteSink) RunID() string {
	return s.runID
}

func (s *SQLiteSink) AddScalar(tag string, value float64, step int64) error {
	_, err := s.db.Exec(
		"INSERT INTO scalars (run_id, tag, value, step, created_at) VALUES (?, ?, ?, ?, ?)",
		s.runID, tag, value, step, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert scalar %q: %v", tag, err)
	}
	return nil
}

// Count returns the number of recorded points for one tag in this run.
func (s *SQLiteSink) Count(tag string) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM scalars WHERE run_id = ? AND tag = ?", s.runID, tag,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count scalars for %q: %v", tag, err)
	}
	return n, nil
}

// ScalarsFor returns the recorded points for one tag in step order.
func (s *SQLiteSink) ScalarsFor(tag string) ([]Scalar, error) {
	rows, err := s.db.Query(
		"SELECT tag, value, step FROM scalars WHERE run_id = ? AND tag = ? ORDER BY step", s.runID, tag,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scalars for %q: %v", tag, err)
	}
	defer rows.Close()

	var out []Scalar
	for rows.Next() {
		var sc Scalar
		if err := rows.Scan(&sc.Tag, &sc.Value, &sc.Step); err != nil {
			return nil, fmt.Errorf("failed to scan scalar row: %v", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close metrics database: %v", err)
	}
	return nil
}
