package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/class-shrinker/pkg/model"
)

// Dialect selects the placeholder and insert style of SQLRunRepository.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

const runColumns = `id, mode, status, COALESCE(fallback_reason, ''), COALESCE(error, ''),
	program_classes, library_classes, nodes, edges, kept_classes, main_dex_classes,
	changed_files, modified_classes, collected, written, deleted, phases, duration_ms, started_at`

// SQLRunRepository implements RunRepository over a plain *sql.DB for hosts
// that already manage their own connection.
type SQLRunRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLRunRepository creates a new SQLRunRepository.
func NewSQLRunRepository(db *sql.DB, dialect Dialect) *SQLRunRepository {
	return &SQLRunRepository{db: db, dialect: dialect}
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (r *SQLRunRepository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SaveRun inserts run and sets its ID.
func (r *SQLRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	record, err := FromModel(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	query := `
		INSERT INTO shrink_runs (mode, status, fallback_reason, error,
			program_classes, library_classes, nodes, edges, kept_classes, main_dex_classes,
			changed_files, modified_classes, collected, written, deleted, phases, duration_ms,
			started_at, create_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	args := []interface{}{
		record.Mode, record.Status, record.FallbackReason, record.Error,
		record.ProgramClasses, record.LibraryClasses, record.Nodes, record.Edges,
		record.KeptClasses, record.MainDexClasses, record.ChangedFiles, record.ModifiedClasses,
		record.Collected, record.Written, record.Deleted, record.Phases, record.DurationMs,
		record.StartedAt,
	}

	if r.dialect == DialectPostgres {
		var id int64
		if err := r.db.QueryRowContext(ctx, r.rebind(query)+" RETURNING id", args...).Scan(&id); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		run.ID = id
		return nil
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get run id: %w", err)
	}
	run.ID = id
	return nil
}

// GetRun retrieves a run by its ID.
func (r *SQLRunRepository) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	row := r.db.QueryRowContext(ctx, r.rebind("SELECT "+runColumns+" FROM shrink_runs WHERE id = ?"), id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// LatestRun retrieves the most recent run.
func (r *SQLRunRepository) LatestRun(ctx context.Context, onlySucceeded bool) (*model.Run, error) {
	query := "SELECT " + runColumns + " FROM shrink_runs"
	var args []interface{}
	if onlySucceeded {
		query += " WHERE status = ?"
		args = append(args, model.RunStatusSucceeded)
	}
	query += " ORDER BY id DESC LIMIT 1"

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves up to limit runs, newest first.
func (r *SQLRunRepository) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	query := r.rebind("SELECT " + runColumns + " FROM shrink_runs ORDER BY id DESC LIMIT ?")

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes all but the newest keep runs.
func (r *SQLRunRepository) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("invalid keep count: %d", keep)
	}

	var cutoff int64
	err := r.db.QueryRowContext(ctx,
		r.rebind("SELECT id FROM shrink_runs ORDER BY id DESC LIMIT 1 OFFSET ?"), keep).Scan(&cutoff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find runs to prune: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM shrink_runs WHERE id <= ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var record ShrinkRun
	err := row.Scan(
		&record.ID, &record.Mode, &record.Status, &record.FallbackReason, &record.Error,
		&record.ProgramClasses, &record.LibraryClasses, &record.Nodes, &record.Edges,
		&record.KeptClasses, &record.MainDexClasses, &record.ChangedFiles, &record.ModifiedClasses,
		&record.Collected, &record.Written, &record.Deleted, &record.Phases, &record.DurationMs,
		&record.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return record.ToModel()
}
