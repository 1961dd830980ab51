// Package state persists validation summary rows in a local SQLite
// database. It backs two collaborator capabilities of the compiler: the
// incremental high-watermark lookup and the configs-hashsum drift audit.
package state

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SummaryRow is one row of the fixed summary result schema.
type SummaryRow struct {
	InvocationID       string
	ExecutionTS        time.Time
	RuleBindingID      string
	RuleID             string
	TableID            string
	ColumnID           string
	Dimension          sql.NullString
	RowsValidated      int64
	SuccessCount       sql.NullInt64
	SuccessPercentage  sql.NullFloat64
	FailedCount        sql.NullInt64
	FailedPercentage   sql.NullFloat64
	NullCount          sql.NullInt64
	NullPercentage     sql.NullFloat64
	MetadataJSONString string
	ConfigsHashsum     string
	DataplexLake       sql.NullString
	DataplexZone       sql.NullString
	DataplexAssetID    sql.NullString
	DQRunID            string
	ProgressWatermark  bool
	LastModified       sql.NullTime
}

// Store is a SQLite-backed validation results store.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewStore creates an unopened store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger}
}

// Open opens the SQLite database at path and runs pending migrations.
// Use ":memory:" for an in-memory database.
func (s *Store) Open(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping results database: %w", err)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("opened results store", "path", path)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSummaryRows appends executed summary rows in one transaction.
func (s *Store) RecordSummaryRows(rows []SummaryRow) error {
	if s.db == nil {
		return fmt.Errorf("results store not opened")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO dq_summary (
		invocation_id, execution_ts, rule_binding_id, rule_id, table_id,
		column_id, dimension, rows_validated, success_count,
		success_percentage, failed_count, failed_percentage, null_count,
		null_percentage, metadata_json_string, configs_hashsum,
		dataplex_lake, dataplex_zone, dataplex_asset_id, dq_run_id,
		progress_watermark, last_modified
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(
			r.InvocationID, r.ExecutionTS.UTC(), r.RuleBindingID, r.RuleID,
			r.TableID, r.ColumnID, r.Dimension, r.RowsValidated,
			r.SuccessCount, r.SuccessPercentage, r.FailedCount,
			r.FailedPercentage, r.NullCount, r.NullPercentage,
			r.MetadataJSONString, r.ConfigsHashsum, r.DataplexLake,
			r.DataplexZone, r.DataplexAssetID, r.DQRunID,
			r.ProgressWatermark, r.LastModified,
		); err != nil {
			return fmt.Errorf("failed to insert summary row for %s: %w", r.RuleBindingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit summary rows: %w", err)
	}
	s.logger.Debug("recorded summary rows", "count", len(rows))
	return nil
}

// HighWatermark returns the latest execution timestamp recorded for the
// given rule binding. The second return is false when the binding has no
// prior watermark-bearing run.
func (s *Store) HighWatermark(ruleBindingID string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, fmt.Errorf("results store not opened")
	}
	// Selecting the column directly keeps its TIMESTAMP decltype; an
	// aggregate like MAX(execution_ts) loses it and scans as a string.
	var watermark time.Time
	err := s.db.QueryRow(
		`SELECT execution_ts FROM dq_summary
		 WHERE rule_binding_id = ? AND progress_watermark
		 ORDER BY execution_ts DESC LIMIT 1`,
		ruleBindingID,
	).Scan(&watermark)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query high watermark for %s: %w", ruleBindingID, err)
	}
	return watermark.UTC(), true, nil
}

// LastHashsum returns the configs hashsum recorded by the most recent
// run of a rule binding, for drift detection against a fresh compile.
func (s *Store) LastHashsum(ruleBindingID string) (string, bool, error) {
	if s.db == nil {
		return "", false, fmt.Errorf("results store not opened")
	}
	var hashsum string
	err := s.db.QueryRow(
		`SELECT configs_hashsum FROM dq_summary
		 WHERE rule_binding_id = ?
		 ORDER BY execution_ts DESC LIMIT 1`,
		ruleBindingID,
	).Scan(&hashsum)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query last hashsum for %s: %w", ruleBindingID, err)
	}
	return hashsum, true, nil
}
