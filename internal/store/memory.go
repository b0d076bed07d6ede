package store

import (
	"context"
	"jobengine/internal/apperrors"
	"jobengine/internal/job"
	"sort"
	"sync"
)

// Memory is an in-process job.Store. Records are lost on restart.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*memoryRow
	seq  int64
}

type memoryRow struct {
	job *job.Job
	seq int64 // insertion order, breaks created_at ties
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*memoryRow)}
}

// CreateJobs inserts all jobs or none.
func (m *Memory) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if _, exists := m.jobs[j.ID]; exists || seen[j.ID] {
			return apperrors.Conflict("job", j.ID, "job already exists")
		}
		seen[j.ID] = true
	}
	for _, j := range jobs {
		m.seq++
		m.jobs[j.ID] = &memoryRow{job: j.Clone(), seq: m.seq}
	}
	return nil
}

// GetJob returns a copy of the stored job.
func (m *Memory) GetJob(ctx context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return row.job.Clone(), nil
}

// UpdateJob writes the lifecycle fields of j if the stored status equals from.
func (m *Memory) UpdateJob(ctx context.Context, j *job.Job, from job.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.jobs[j.ID]
	if !ok {
		return apperrors.NotFound("job", j.ID)
	}
	if row.job.Status != from {
		return apperrors.Conflict("job", j.ID, "status is "+string(row.job.Status)+", expected "+string(from))
	}

	updated := j.Clone()
	stored := row.job
	stored.Status = updated.Status
	stored.StartedAt = updated.StartedAt
	stored.FinishedAt = updated.FinishedAt
	stored.ResultPath = updated.ResultPath
	stored.ExitCode = updated.ExitCode
	stored.RuntimeSeconds = updated.RuntimeSeconds
	return nil
}

// SetLogs replaces the log text of a job.
func (m *Memory) SetLogs(ctx context.Context, id, logs string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	row.job.Logs = logs
	return nil
}

// ListJobs returns one page of jobs, newest first.
func (m *Memory) ListJobs(ctx context.Context, filter job.ListFilter) ([]*job.Job, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*memoryRow
	for _, row := range m.jobs {
		j := row.job
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && j.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.ParentJobID != "" && j.ParentJobID != filter.ParentJobID {
			continue
		}
		matched = append(matched, row)
	}
	sort.Slice(matched, func(a, b int) bool {
		ja, jb := matched[a].job, matched[b].job
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.After(jb.CreatedAt)
		}
		return matched[a].seq > matched[b].seq
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	page := make([]*job.Job, 0, end-start)
	for _, row := range matched[start:end] {
		page = append(page, row.job.Clone())
	}
	return page, total, nil
}

// CountByStatus aggregates all jobs.
func (m *Memory) CountByStatus(ctx context.Context) (*job.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := &job.StatusCounts{ByStatus: make(map[job.Status]int)}
	var sum float64
	var n int
	for _, row := range m.jobs {
		counts.ByStatus[row.job.Status]++
		counts.Total++
		if row.job.Status == job.StatusSuccess && row.job.RuntimeSeconds != nil {
			sum += *row.job.RuntimeSeconds
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		counts.AvgRuntime = &avg
	}
	return counts, nil
}

// ListIDsByStatus returns ids of jobs in status, oldest first.
func (m *Memory) ListIDsByStatus(ctx context.Context, status job.Status) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*memoryRow
	for _, row := range m.jobs {
		if row.job.Status == status {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		if !rows[a].job.CreatedAt.Equal(rows[b].job.CreatedAt) {
			return rows[a].job.CreatedAt.Before(rows[b].job.CreatedAt)
		}
		return rows[a].seq < rows[b].seq
	})

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.job.ID
	}
	return ids, nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
