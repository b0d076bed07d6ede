package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"jobengine/internal/apperrors"
	"jobengine/internal/job"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
)

// SQLite is a job.Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an open, migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// OpenSQLite opens the database at path and applies migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLite(db), nil
}

// CreateJobs inserts all jobs in one transaction.
func (s *SQLite) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Infrastructure("store.createJobs", errors.Wrap(err, "begin tx"))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO jobs (
			id, status, container_image, command, params, metadata, created_by,
			created_at, started_at, finished_at, logs, result_path, exit_code,
			runtime_seconds, cpu_limit, memory_limit, parent_job_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return apperrors.Infrastructure("store.createJobs", errors.Wrap(err, "prepare insert"))
	}
	defer stmt.Close()

	for _, j := range jobs {
		params, err := json.Marshal(j.Params)
		if err != nil {
			tx.Rollback()
			return apperrors.Internal("store.createJobs", errors.Wrapf(err, "marshal params of %s", j.ID))
		}
		metadata, err := marshalMetadata(j.Metadata)
		if err != nil {
			tx.Rollback()
			return apperrors.Validation("metadata", "metadata must be JSON-serializable")
		}

		_, err = stmt.ExecContext(ctx,
			j.ID,
			string(j.Status),
			j.ContainerImage,
			j.Command,
			string(params),
			metadata,
			nullString(j.CreatedBy),
			formatTime(j.CreatedAt),
			nullTime(j.StartedAt),
			nullTime(j.FinishedAt),
			j.Logs,
			nullString(j.ResultPath),
			nullInt(j.ExitCode),
			nullFloat(j.RuntimeSeconds),
			j.ResourceLimits.CPULimit,
			j.ResourceLimits.MemoryLimit,
			nullString(j.ParentJobID),
		)
		if err != nil {
			tx.Rollback()
			if isPrimaryKeyViolation(err) {
				return apperrors.Conflict("job", j.ID, "job already exists")
			}
			return apperrors.Infrastructure("store.createJobs", errors.Wrapf(err, "insert job %s", j.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Infrastructure("store.createJobs", errors.Wrap(err, "commit"))
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLite) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, apperrors.Infrastructure("store.getJob", errors.Wrapf(err, "get job %s", id))
	}
	return j, nil
}

// UpdateJob writes the lifecycle fields of j if the stored status equals from.
// Logs are left alone; they are written through SetLogs.
func (s *SQLite) UpdateJob(ctx context.Context, j *job.Job, from job.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?,
		    started_at = ?,
		    finished_at = ?,
		    result_path = ?,
		    exit_code = ?,
		    runtime_seconds = ?
		WHERE id = ? AND status = ?
	`,
		string(j.Status),
		nullTime(j.StartedAt),
		nullTime(j.FinishedAt),
		nullString(j.ResultPath),
		nullInt(j.ExitCode),
		nullFloat(j.RuntimeSeconds),
		j.ID,
		string(from),
	)
	if err != nil {
		return apperrors.Infrastructure("store.updateJob", errors.Wrapf(err, "update job %s", j.ID))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Infrastructure("store.updateJob", errors.Wrap(err, "rows affected"))
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, j.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("job", j.ID)
	}
	if err != nil {
		return apperrors.Infrastructure("store.updateJob", errors.Wrapf(err, "read status of %s", j.ID))
	}
	return apperrors.Conflict("job", j.ID, "status is "+current+", expected "+string(from))
}

// SetLogs replaces the log text of a job.
func (s *SQLite) SetLogs(ctx context.Context, id, logs string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET logs = ? WHERE id = ?`, logs, id)
	if err != nil {
		return apperrors.Infrastructure("store.setLogs", errors.Wrapf(err, "set logs of %s", id))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return apperrors.NotFound("job", id)
	}
	return nil
}

// ListJobs returns one page of jobs, newest first, and the filtered total.
func (s *SQLite) ListJobs(ctx context.Context, filter job.ListFilter) ([]*job.Job, int, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.ParentJobID != "" {
		where = append(where, "parent_job_id = ?")
		args = append(args, filter.ParentJobID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Infrastructure("store.listJobs", errors.Wrap(err, "count jobs"))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT ` + jobColumns + ` FROM jobs` + clause + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, apperrors.Infrastructure("store.listJobs", errors.Wrap(err, "query jobs"))
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, apperrors.Infrastructure("store.listJobs", errors.Wrap(err, "scan job"))
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Infrastructure("store.listJobs", errors.Wrap(err, "iterate jobs"))
	}
	return jobs, total, nil
}

// CountByStatus aggregates all jobs.
func (s *SQLite) CountByStatus(ctx context.Context) (*job.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, apperrors.Infrastructure("store.countByStatus", errors.Wrap(err, "count by status"))
	}
	defer rows.Close()

	counts := &job.StatusCounts{ByStatus: make(map[job.Status]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Infrastructure("store.countByStatus", errors.Wrap(err, "scan count"))
		}
		counts.ByStatus[job.Status(status)] = n
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("store.countByStatus", errors.Wrap(err, "iterate counts"))
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG(runtime_seconds) FROM jobs WHERE status = ? AND runtime_seconds IS NOT NULL`,
		string(job.StatusSuccess),
	).Scan(&avg)
	if err != nil {
		return nil, apperrors.Infrastructure("store.countByStatus", errors.Wrap(err, "average runtime"))
	}
	if avg.Valid {
		v := avg.Float64
		counts.AvgRuntime = &v
	}
	return counts, nil
}

// ListIDsByStatus returns ids of jobs in status, oldest first.
func (s *SQLite) ListIDsByStatus(ctx context.Context, status job.Status) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC`, string(status))
	if err != nil {
		return nil, apperrors.Infrastructure("store.listIDsByStatus", errors.Wrap(err, "query ids"))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Infrastructure("store.listIDsByStatus", errors.Wrap(err, "scan id"))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Infrastructure("store.listIDsByStatus", errors.Wrap(err, "iterate ids"))
	}
	return ids, nil
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Infrastructure("store.ping", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
