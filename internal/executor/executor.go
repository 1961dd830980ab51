// Package executor submits generated summary SQL to a warehouse and
// scans the results back into summary rows. The compiler core treats
// execution as an opaque collaborator; this package provides the
// database/sql-backed implementation.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hejnal/cloud-data-quality/internal/state"
)

// Executor accepts generated SQL text and returns the produced summary
// rows.
type Executor interface {
	Execute(ctx context.Context, query string) ([]state.SummaryRow, error)
}

// DB executes summary SQL over any database/sql handle whose driver
// understands the generated dialect.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDB wraps an open database handle.
func NewDB(db *sql.DB, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DB{db: db, logger: logger}
}

// Execute runs the summary query and scans every row of the fixed
// summary schema.
func (e *DB) Execute(ctx context.Context, query string) ([]state.SummaryRow, error) {
	e.logger.Debug("executing summary query", "bytes", len(query))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("summary query failed: %w", err)
	}
	defer rows.Close()

	var out []state.SummaryRow
	for rows.Next() {
		var r state.SummaryRow
		if err := rows.Scan(
			&r.InvocationID, &r.ExecutionTS, &r.RuleBindingID, &r.RuleID,
			&r.TableID, &r.ColumnID, &r.Dimension, &r.RowsValidated,
			&r.SuccessCount, &r.SuccessPercentage, &r.FailedCount,
			&r.FailedPercentage, &r.NullCount, &r.NullPercentage,
			&r.MetadataJSONString, &r.ConfigsHashsum, &r.DataplexLake,
			&r.DataplexZone, &r.DataplexAssetID, &r.DQRunID,
			&r.ProgressWatermark, &r.LastModified,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summary result iteration failed: %w", err)
	}

	e.logger.Debug("summary query returned", "rows", len(out))
	return out, nil
}
