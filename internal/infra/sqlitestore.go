package infra

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	specs "github.com/chrisconley/rhizome/specs"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by LoadRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore persists accepted records, their output rows and run summaries.
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	fieldMap specs.FieldMap
}

type StoreOption func(*SQLiteStore)

// WithFieldMap sets the column mapping used to build each record's output
// row. The default is specs.PTHFieldMap.
func WithFieldMap(fieldMap specs.FieldMap) StoreOption {
	return func(s *SQLiteStore) { s.fieldMap = fieldMap }
}

// OpenSQLiteStore creates or opens the database at dbPath. ":memory:" is
// accepted for tests.
func OpenSQLiteStore(dbPath string, opts ...StoreOption) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, dbPath: dbPath, fieldMap: specs.PTHFieldMap}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		pages INTEGER NOT NULL,
		fetched INTEGER NOT NULL,
		accepted INTEGER NOT NULL,
		acceptance_ratio TEXT NOT NULL,
		discrepancies TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		record_id TEXT NOT NULL,
		fields TEXT NOT NULL,
		output_row TEXT NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS group_stats (
		run_id TEXT NOT NULL,
		group_key TEXT NOT NULL,
		position INTEGER NOT NULL,
		accepted INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		matches TEXT NOT NULL,
		PRIMARY KEY (run_id, group_key),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_records_record_id ON records(record_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun writes the summary, the accepted records and their output rows in
// one transaction.
// Saving the same run ID again replaces the earlier copy.
func (s *SQLiteStore) SaveRun(ctx context.Context, summary specs.RunSummarySpec, records []specs.RecordSpec) error {
	discrepancies, err := json.Marshal(summary.Discrepancies)
	if err != nil {
		return fmt.Errorf("failed to encode discrepancies: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM records WHERE run_id = ?`,
		`DELETE FROM group_stats WHERE run_id = ?`,
		`DELETE FROM runs WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, summary.RunID); err != nil {
			return fmt.Errorf("failed to clear run: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, pages, fetched, accepted, acceptance_ratio, discrepancies, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, summary.Pages, summary.Fetched, summary.Accepted, summary.AcceptanceRatio,
		string(discrepancies),
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, g := range summary.Statistics.Groups {
		matches, err := json.Marshal(g.Matches)
		if err != nil {
			return fmt.Errorf("failed to encode matches for %s: %w", g.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_stats (run_id, group_key, position, accepted, rejected, matches)
			VALUES (?, ?, ?, ?, ?, ?)`,
			summary.RunID, g.Key, i, g.Accepted, g.Rejected, string(matches))
		if err != nil {
			return fmt.Errorf("failed to insert statistics for %s: %w", g.Key, err)
		}
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO records (run_id, seq, record_id, fields, output_row) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer insert.Close()

	for i, r := range records {
		fields, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		row, err := json.Marshal(s.fieldMap.Row(r))
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		if _, err := insert.ExecContext(ctx, summary.RunID, i, recordID(r), string(fields), string(row)); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// LoadRun reads back a saved summary, statistics in their original order.
func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (specs.RunSummarySpec, error) {
	var (
		summary       specs.RunSummarySpec
		discrepancies string
		startedAt     string
		finishedAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, pages, fetched, accepted, acceptance_ratio, discrepancies, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID).
		Scan(&summary.RunID, &summary.Pages, &summary.Fetched, &summary.Accepted, &summary.AcceptanceRatio,
			&discrepancies, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return specs.RunSummarySpec{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return specs.RunSummarySpec{}, fmt.Errorf("failed to query run: %w", err)
	}
	if err := json.Unmarshal([]byte(discrepancies), &summary.Discrepancies); err != nil {
		return specs.RunSummarySpec{}, fmt.Errorf("failed to decode discrepancies: %w", err)
	}
	if summary.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return specs.RunSummarySpec{}, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if summary.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return specs.RunSummarySpec{}, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_key, accepted, rejected, matches
		FROM group_stats WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return specs.RunSummarySpec{}, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	summary.Statistics.Groups = []specs.GroupStatisticsSpec{}
	for rows.Next() {
		var g specs.GroupStatisticsSpec
		var matches string
		if err := rows.Scan(&g.Key, &g.Accepted, &g.Rejected, &matches); err != nil {
			return specs.RunSummarySpec{}, fmt.Errorf("failed to scan statistics: %w", err)
		}
		if err := json.Unmarshal([]byte(matches), &g.Matches); err != nil {
			return specs.RunSummarySpec{}, fmt.Errorf("failed to decode matches for %s: %w", g.Key, err)
		}
		summary.Statistics.Groups = append(summary.Statistics.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return specs.RunSummarySpec{}, fmt.Errorf("failed to read statistics: %w", err)
	}
	return summary, nil
}

// Records returns a run's stored records in insertion order.
func (s *SQLiteStore) Records(ctx context.Context, runID string) ([]specs.RecordSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fields FROM records WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []specs.RecordSpec
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var r specs.RecordSpec
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Rows returns a run's output rows in insertion order.
func (s *SQLiteStore) Rows(ctx context.Context, runID string) ([]specs.RowSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT output_row FROM records WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []specs.RowSpec
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var r specs.RowSpec
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func recordID(r specs.RecordSpec) string {
	if ids := r["header_identifier"]; len(ids) > 0 {
		return ids[0]
	}
	return ""
}
