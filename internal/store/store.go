// Package store persists run history in SQLite so repeated bulk runs can be
// audited: what was decided for each file, how large the result came out, and
// whether the run finished.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	input_path TEXT NOT NULL,
	name TEXT NOT NULL,
	output_path TEXT,
	width INTEGER,
	height INTEGER,
	duration REAL,
	frame_rate REAL,
	is_hevc INTEGER NOT NULL DEFAULT 0,
	output_res INTEGER,
	output_cq REAL,
	crop_top INTEGER NOT NULL DEFAULT 0,
	crop_bottom INTEGER NOT NULL DEFAULT 0,
	channels INTEGER,
	hdr_type TEXT DEFAULT '',
	orig_size INTEGER,
	output_size INTEGER,
	ratio REAL,
	status TEXT NOT NULL,
	error TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Run statuses.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one pipeline execution: the probed facts, the decisions, and the
// size outcome.
type Run struct {
	ID         int64
	InputPath  string
	Name       string
	OutputPath string

	Width     int
	Height    int
	Duration  float64
	FrameRate float64
	IsHEVC    bool

	OutputRes  int
	OutputCQ   float64
	CropTop    int
	CropBottom int
	Channels   int
	HDRType    string

	OrigSize   int64
	OutputSize int64
	Ratio      float64

	Status    string
	Error     string
	CreatedAt time.Time
}

// Store is a SQLite-backed run history. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open creates or opens the run history database, creating the schema on
// first use. WAL mode keeps readers from blocking the writer.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// SaveRun inserts one run and returns its row ID.
func (s *Store) SaveRun(r *Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO runs (
			input_path, name, output_path, width, height, duration, frame_rate,
			is_hevc, output_res, output_cq, crop_top, crop_bottom, channels,
			hdr_type, orig_size, output_size, ratio, status, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.InputPath, r.Name, nullString(r.OutputPath),
		nullInt(r.Width), nullInt(r.Height), nullFloat64(r.Duration), nullFloat64(r.FrameRate),
		boolToInt(r.IsHEVC), nullInt(r.OutputRes), nullFloat64(r.OutputCQ),
		r.CropTop, r.CropBottom, nullInt(r.Channels),
		r.HDRType, nullInt64(r.OrigSize), nullInt64(r.OutputSize), nullFloat64(r.Ratio),
		r.Status, nullString(r.Error), r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, input_path, name, output_path, width, height, duration, frame_rate,
			is_hevc, output_res, output_cq, crop_top, crop_bottom, channels,
			hdr_type, orig_size, output_size, ratio, status, error, created_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunsForInput returns every recorded run of one input file, newest first.
func (s *Store) RunsForInput(inputPath string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, input_path, name, output_path, width, height, duration, frame_rate,
			is_hevc, output_res, output_cq, crop_top, crop_bottom, channels,
			hdr_type, orig_size, output_size, ratio, status, error, created_at
		FROM runs
		WHERE input_path = ?
		ORDER BY id DESC
	`, inputPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TotalSaved sums the bytes saved across all completed runs.
func (s *Store) TotalSaved() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var saved sql.NullInt64
	err := s.db.QueryRow(`
		SELECT SUM(orig_size - output_size) FROM runs
		WHERE status = ? AND orig_size IS NOT NULL AND output_size IS NOT NULL
	`, StatusComplete).Scan(&saved)
	if err != nil {
		return 0, err
	}
	return saved.Int64, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var r Run
	var outputPath, errStr sql.NullString
	var hdrType sql.NullString
	var width, height, outputRes, channels sql.NullInt64
	var origSize, outputSize sql.NullInt64
	var duration, frameRate, outputCQ, ratio sql.NullFloat64
	var isHEVC int
	var createdAt string

	err := rows.Scan(
		&r.ID, &r.InputPath, &r.Name, &outputPath, &width, &height, &duration, &frameRate,
		&isHEVC, &outputRes, &outputCQ, &r.CropTop, &r.CropBottom, &channels,
		&hdrType, &origSize, &outputSize, &ratio, &r.Status, &errStr, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.OutputPath = outputPath.String
	r.Width = int(width.Int64)
	r.Height = int(height.Int64)
	r.Duration = duration.Float64
	r.FrameRate = frameRate.Float64
	r.IsHEVC = isHEVC != 0
	r.OutputRes = int(outputRes.Int64)
	r.OutputCQ = outputCQ.Float64
	r.Channels = int(channels.Int64)
	r.HDRType = hdrType.String
	r.OrigSize = origSize.Int64
	r.OutputSize = outputSize.Int64
	r.Ratio = ratio.Float64
	r.Error = errStr.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &r, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullFloat64(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
