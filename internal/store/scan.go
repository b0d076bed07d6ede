package store

import (
	"database/sql"
	"encoding/json"
	"jobengine/internal/job"
	"time"

	"github.com/cockroachdb/errors"
)

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// jobColumns lists columns in the order scanJob expects.
const jobColumns = `id, status, container_image, command, params, metadata, created_by,
	created_at, started_at, finished_at, logs, result_path, exit_code,
	runtime_seconds, cpu_limit, memory_limit, parent_job_id`

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// jobScanArgs holds nullable columns between Scan and conversion.
type jobScanArgs struct {
	status         string
	params         string
	metadata       sql.NullString
	createdBy      sql.NullString
	createdAt      string
	startedAt      sql.NullString
	finishedAt     sql.NullString
	resultPath     sql.NullString
	exitCode       sql.NullInt64
	runtimeSeconds sql.NullFloat64
	parentJobID    sql.NullString
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var a jobScanArgs
	err := row.Scan(
		&j.ID,
		&a.status,
		&j.ContainerImage,
		&j.Command,
		&a.params,
		&a.metadata,
		&a.createdBy,
		&a.createdAt,
		&a.startedAt,
		&a.finishedAt,
		&j.Logs,
		&a.resultPath,
		&a.exitCode,
		&a.runtimeSeconds,
		&j.ResourceLimits.CPULimit,
		&j.ResourceLimits.MemoryLimit,
		&a.parentJobID,
	)
	if err != nil {
		return nil, err
	}
	if err := a.apply(&j); err != nil {
		return nil, errors.Wrapf(err, "decode job %s", j.ID)
	}
	return &j, nil
}

func (a *jobScanArgs) apply(j *job.Job) error {
	j.Status = job.Status(a.status)
	if err := json.Unmarshal([]byte(a.params), &j.Params); err != nil {
		return errors.Wrap(err, "params")
	}
	if a.metadata.Valid {
		if err := json.Unmarshal([]byte(a.metadata.String), &j.Metadata); err != nil {
			return errors.Wrap(err, "metadata")
		}
	}
	j.CreatedBy = a.createdBy.String

	createdAt, err := time.Parse(timeLayout, a.createdAt)
	if err != nil {
		return errors.Wrap(err, "created_at")
	}
	j.CreatedAt = createdAt

	if j.StartedAt, err = parseNullTime(a.startedAt); err != nil {
		return errors.Wrap(err, "started_at")
	}
	if j.FinishedAt, err = parseNullTime(a.finishedAt); err != nil {
		return errors.Wrap(err, "finished_at")
	}

	j.ResultPath = a.resultPath.String
	if a.exitCode.Valid {
		code := int(a.exitCode.Int64)
		j.ExitCode = &code
	}
	if a.runtimeSeconds.Valid {
		runtime := a.runtimeSeconds.Float64
		j.RuntimeSeconds = &runtime
	}
	j.ParentJobID = a.parentJobID.String
	return nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
