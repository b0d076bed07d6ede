package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"jobengine/internal/apperrors"
	"jobengine/internal/artifact"
	"jobengine/internal/job"
	"jobengine/internal/store"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Enqueue(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, jobID)
	return d.err
}

func (d *recordingDispatcher) enqueued() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type recordingStopper struct {
	mu      sync.Mutex
	stopped []string
}

func (s *recordingStopper) Stop(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, jobID)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []job.Status
}

func (n *recordingNotifier) JobStatusChanged(j *job.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, j.Status)
}

// failingStore fails every write.
type failingStore struct {
	job.Store
}

func (failingStore) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	return apperrors.Infrastructure("store.createJobs", errors.New("database is locked"))
}

// capturingStore keeps the records handed to CreateJobs.
type capturingStore struct {
	*store.Memory
	created []*job.Job
}

func (s *capturingStore) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	s.created = append(s.created, jobs...)
	return s.Memory.CreateJobs(ctx, jobs)
}

type fixture struct {
	svc        *job.Service
	store      *store.Memory
	dispatcher *recordingDispatcher
	stopper    *recordingStopper
	notifier   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      store.NewMemory(),
		dispatcher: &recordingDispatcher{},
		stopper:    &recordingStopper{},
		notifier:   &recordingNotifier{},
	}
	f.svc = job.NewService(job.Config{}, job.Deps{
		Store:      f.store,
		Dispatcher: f.dispatcher,
		Stopper:    f.stopper,
		Archiver:   artifact.NewArchiver(t.TempDir(), nil),
		Notifier:   f.notifier,
	})
	return f
}

func decodeSpec(t *testing.T, body string) *job.Spec {
	t.Helper()
	var spec job.Spec
	if err := json.Unmarshal([]byte(body), &spec); err != nil {
		t.Fatalf("decode spec: %v", err)
	}
	return &spec
}

func TestCreate_SingleWithDerivedCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, decodeSpec(t, `{"params": {"beta": 2, "alpha": "x"}, "created_by": "alice"}`))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(res.Jobs) != 1 || res.SweepMapping != nil {
		t.Fatalf("unexpected result %+v", res)
	}

	j, err := f.svc.Get(ctx, res.Jobs[0])
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusQueued {
		t.Errorf("Status = %s", j.Status)
	}
	if j.Command != "python /sim/run_sim.py --beta 2 --alpha x" {
		t.Errorf("Command = %q", j.Command)
	}
	if j.ContainerImage != "sim:local" {
		t.Errorf("ContainerImage = %q", j.ContainerImage)
	}
	if j.ResourceLimits.CPULimit != 1.0 || j.ResourceLimits.MemoryLimit != "512m" {
		t.Errorf("ResourceLimits = %+v", j.ResourceLimits)
	}
	if j.ParentJobID != "" {
		t.Errorf("single job has parent %q", j.ParentJobID)
	}
	if got := f.dispatcher.enqueued(); len(got) != 1 || got[0] != j.ID {
		t.Errorf("enqueued = %v", got)
	}
}

func TestCreate_EmptySpecLeavesCommandEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), decodeSpec(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}
	j, _ := f.svc.Get(context.Background(), res.Jobs[0])
	if j.Command != "" {
		t.Errorf("Command = %q, want empty", j.Command)
	}
	if j.Params.Len() != 0 {
		t.Errorf("Params = %d entries", j.Params.Len())
	}
}

func TestCreate_ExplicitCommandWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), decodeSpec(t,
		`{"container_image": "python:3.12", "command": "python -c 'print(1)'", "params": {"n": 1}}`))
	if err != nil {
		t.Fatal(err)
	}
	j, _ := f.svc.Get(context.Background(), res.Jobs[0])
	if j.Command != "python -c 'print(1)'" {
		t.Errorf("Command = %q", j.Command)
	}
	if j.ContainerImage != "python:3.12" {
		t.Errorf("ContainerImage = %q", j.ContainerImage)
	}
}

func TestCreate_Sweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, decodeSpec(t, `{"sweep": [{"a": 1}, {"a": 2}, {"a": 3, "b": "z"}]}`))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(res.Jobs) != 3 {
		t.Fatalf("Jobs = %v", res.Jobs)
	}
	if res.ParentJobID == "" {
		t.Fatal("missing parent job id")
	}

	wantCommands := []string{
		"python /sim/run_sim.py --a 1",
		"python /sim/run_sim.py --a 2",
		"python /sim/run_sim.py --a 3 --b z",
	}
	for i, id := range res.Jobs {
		key := fmt.Sprintf("params_%d", i)
		if res.SweepMapping[key] != id {
			t.Errorf("sweep_mapping[%s] = %q, want %q", key, res.SweepMapping[key], id)
		}
		j, err := f.svc.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if j.ParentJobID != res.ParentJobID {
			t.Errorf("job %d parent = %q, want %q", i, j.ParentJobID, res.ParentJobID)
		}
		if j.Command != wantCommands[i] {
			t.Errorf("job %d command = %q, want %q", i, j.Command, wantCommands[i])
		}
	}

	// The parent id is a grouping key, not a record.
	if _, err := f.svc.Get(ctx, res.ParentJobID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("parent id should not be a job, got %v", err)
	}

	page, err := f.svc.List(ctx, job.ListParams{Page: 1, Size: 10, ParentJobID: res.ParentJobID})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 {
		t.Errorf("sweep members = %d", page.Total)
	}
	if got := f.dispatcher.enqueued(); len(got) != 3 || got[0] != res.Jobs[0] || got[2] != res.Jobs[2] {
		t.Errorf("enqueued = %v, want sweep order", got)
	}
}

func TestCreate_SweepMembersOwnTheirMetadata(t *testing.T) {
	t.Parallel()
	captured := &capturingStore{Memory: store.NewMemory()}
	svc := job.NewService(job.Config{}, job.Deps{Store: captured, Dispatcher: &recordingDispatcher{}})

	spec := decodeSpec(t, `{"sweep": [{"a": 1}, {"a": 2}], "metadata": {"team": "cfd"}}`)
	if _, err := svc.Create(context.Background(), spec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(captured.created) != 2 {
		t.Fatalf("created %d jobs", len(captured.created))
	}

	captured.created[0].Metadata["team"] = "changed"
	if got := captured.created[1].Metadata["team"]; got != "cfd" {
		t.Errorf("second job metadata = %v, want its own copy", got)
	}
	if got := spec.Metadata["team"]; got != "cfd" {
		t.Errorf("spec metadata = %v, want untouched", got)
	}
}

func TestCreate_ValidationPersistsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, body := range []string{
		`{"params": {"a": 1}, "sweep": [{"a": 2}]}`,
		`{"sweep": []}`,
	} {
		_, err := f.svc.Create(ctx, decodeSpec(t, body))
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("Create(%s) error = %v, want validation", body, err)
		}
	}

	stats, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalJobs != 0 {
		t.Errorf("TotalJobs = %d, want 0", stats.TotalJobs)
	}
	if len(f.dispatcher.enqueued()) != 0 {
		t.Error("rejected spec reached the dispatcher")
	}
}

func TestCreate_StoreFailureSurfaces(t *testing.T) {
	t.Parallel()
	d := &recordingDispatcher{}
	svc := job.NewService(job.Config{}, job.Deps{Store: failingStore{store.NewMemory()}, Dispatcher: d})

	_, err := svc.Create(context.Background(), decodeSpec(t, `{"params": {"a": 1}}`))
	if !apperrors.IsInfrastructure(err) {
		t.Errorf("error = %v, want infrastructure", err)
	}
	if len(d.enqueued()) != 0 {
		t.Error("unpersisted job was published")
	}
}

func TestCreate_PublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.dispatcher.err = errors.New("buffer full")

	res, err := f.svc.Create(context.Background(), decodeSpec(t, `{"params": {"a": 1}}`))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	j, err := f.svc.Get(context.Background(), res.Jobs[0])
	if err != nil || j.Status != job.StatusQueued {
		t.Errorf("job = %+v, %v", j, err)
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := f.svc.Create(ctx, decodeSpec(t, `{}`)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		page, size int
		wantLen    int
		hasNext    bool
	}{
		{1, 2, 2, true},
		{2, 2, 2, true},
		{3, 2, 1, false},
		{1, 5, 5, false},
		{4, 2, 0, false},
	}
	for _, tt := range tests {
		res, err := f.svc.List(ctx, job.ListParams{Page: tt.page, Size: tt.size})
		if err != nil {
			t.Fatalf("List(%d,%d) error = %v", tt.page, tt.size, err)
		}
		if len(res.Jobs) != tt.wantLen || res.HasNext != tt.hasNext || res.Total != 5 {
			t.Errorf("List(%d,%d) = len %d has_next %v total %d", tt.page, tt.size, len(res.Jobs), res.HasNext, res.Total)
		}
	}

	for _, bad := range []job.ListParams{
		{Page: 0, Size: 10},
		{Page: 1, Size: 0},
		{Page: 1, Size: 101},
		{Page: 1, Size: 10, Status: "done"},
	} {
		if _, err := f.svc.List(ctx, bad); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("List(%+v) error = %v, want validation", bad, err)
		}
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Create(ctx, decodeSpec(t, `{}`))
	id := res.Jobs[0]

	j, err := f.svc.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if j.Status != job.StatusCancelled || j.FinishedAt == nil {
		t.Errorf("cancelled job = %+v", j)
	}
	if len(f.stopper.stopped) != 0 {
		t.Error("queued job should not be stopped")
	}

	// Cancel is idempotent on terminal jobs.
	again, err := f.svc.Cancel(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !again.FinishedAt.Equal(*j.FinishedAt) {
		t.Error("finished_at changed on second cancel")
	}

	if _, err := f.svc.Cancel(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Cancel(missing) error = %v", err)
	}
}

func TestCancel_RunningStopsContainer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Create(ctx, decodeSpec(t, `{}`))
	id := res.Jobs[0]
	running, _ := f.store.GetJob(ctx, id)
	_ = running.TransitionToRunning(time.Now())
	if err := f.store.UpdateJob(ctx, running, job.StatusQueued); err != nil {
		t.Fatal(err)
	}

	j, err := f.svc.Cancel(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusCancelled || j.RuntimeSeconds == nil {
		t.Errorf("cancelled job = %+v", j)
	}
	if len(f.stopper.stopped) != 1 || f.stopper.stopped[0] != id {
		t.Errorf("stopped = %v", f.stopper.stopped)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalJobs != 0 || stats.SuccessRate != 0 || stats.AvgRuntimeSeconds != nil {
		t.Errorf("empty stats = %+v", stats)
	}
	if len(stats.JobsByStatus) != len(job.AllStatuses) {
		t.Errorf("JobsByStatus = %v, want every status", stats.JobsByStatus)
	}

	res, _ := f.svc.Create(ctx, decodeSpec(t, `{"sweep": [{"a":1},{"a":2},{"a":3},{"a":4}]}`))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, runtime := range []time.Duration{10 * time.Second, 30 * time.Second} {
		j, _ := f.store.GetJob(ctx, res.Jobs[i])
		_ = j.TransitionToRunning(start)
		_ = f.store.UpdateJob(ctx, j, job.StatusQueued)
		code := 0
		_ = j.TransitionToTerminal(start.Add(runtime), job.StatusSuccess, &code, "/tmp/x")
		if err := f.store.UpdateJob(ctx, j, job.StatusRunning); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.Cancel(ctx, res.Jobs[3]); err != nil {
		t.Fatal(err)
	}

	stats, err = f.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalJobs != 4 {
		t.Errorf("TotalJobs = %d", stats.TotalJobs)
	}
	if stats.JobsByStatus[job.StatusSuccess] != 2 || stats.JobsByStatus[job.StatusQueued] != 1 || stats.JobsByStatus[job.StatusCancelled] != 1 {
		t.Errorf("JobsByStatus = %v", stats.JobsByStatus)
	}
	if stats.AvgRuntimeSeconds == nil || *stats.AvgRuntimeSeconds != 20 {
		t.Errorf("AvgRuntimeSeconds = %v, want 20", stats.AvgRuntimeSeconds)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", stats.SuccessRate)
	}
}

func TestLogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Create(ctx, decodeSpec(t, `{}`))
	if err := f.store.SetLogs(ctx, res.Jobs[0], "step 1\nstep 2\n"); err != nil {
		t.Fatal(err)
	}

	view, err := f.svc.Logs(ctx, res.Jobs[0])
	if err != nil {
		t.Fatal(err)
	}
	if view.JobID != res.Jobs[0] || view.Logs != "step 1\nstep 2\n" || view.Status != job.StatusQueued {
		t.Errorf("view = %+v", view)
	}
	if view.LastUpdated.IsZero() {
		t.Error("LastUpdated not set")
	}
}

func TestResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Create(ctx, decodeSpec(t, `{}`))
	id := res.Jobs[0]

	if _, err := f.svc.Result(ctx, id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Result() before success error = %v, want not found", err)
	}

	dir := filepath.Join(t.TempDir(), id)
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "out.csv"), []byte("1,2"), 0o644); err != nil {
		t.Fatal(err)
	}

	j, _ := f.store.GetJob(ctx, id)
	_ = j.TransitionToRunning(time.Now())
	_ = f.store.UpdateJob(ctx, j, job.StatusQueued)
	code := 0
	_ = j.TransitionToTerminal(time.Now(), job.StatusSuccess, &code, dir)
	if err := f.store.UpdateJob(ctx, j, job.StatusRunning); err != nil {
		t.Fatal(err)
	}

	file, err := f.svc.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	defer file.Cleanup()
	if !file.Temporary || !strings.HasSuffix(file.Name, "_results.tar.gz") {
		t.Errorf("file = %+v", file)
	}
}

func TestNotifierSeesLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Create(ctx, decodeSpec(t, `{}`))
	if _, err := f.svc.Cancel(ctx, res.Jobs[0]); err != nil {
		t.Fatal(err)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.events) != 2 || f.notifier.events[0] != job.StatusQueued || f.notifier.events[1] != job.StatusCancelled {
		t.Errorf("events = %v", f.notifier.events)
	}
}
