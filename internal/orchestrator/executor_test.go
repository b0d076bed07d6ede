package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"jobengine/internal/apperrors"
	"jobengine/internal/job"
	"jobengine/internal/store"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	mu        sync.Mutex
	logs      string
	logsErr   error
	exitCode  int
	waitErr   error
	blockWait bool
	archive   []byte
	onLogs    func()
	stopped   bool
	removed   bool
}

func (h *fakeHandle) ID() string { return "container-1" }

func (h *fakeHandle) Logs(ctx context.Context) (io.ReadCloser, error) {
	if h.onLogs != nil {
		h.onLogs()
	}
	if h.logsErr != nil {
		return nil, h.logsErr
	}
	return io.NopCloser(strings.NewReader(h.logs)), nil
}

func (h *fakeHandle) Wait(ctx context.Context) (int, error) {
	if h.blockWait {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return h.exitCode, h.waitErr
}

func (h *fakeHandle) CopyFrom(ctx context.Context, path string) (io.ReadCloser, error) {
	if h.archive == nil {
		return nil, errors.New("no such path")
	}
	return io.NopCloser(bytes.NewReader(h.archive)), nil
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *fakeHandle) Remove(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = true
	return nil
}

func (h *fakeHandle) wasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *fakeHandle) wasRemoved() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

type fakeRuntime struct {
	handle *fakeHandle
	err    error
	onRun  func()
	specs  []RunSpec
}

func (r *fakeRuntime) Run(ctx context.Context, spec RunSpec) (Handle, error) {
	r.specs = append(r.specs, spec)
	if r.onRun != nil {
		r.onRun()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.handle, nil
}

func (r *fakeRuntime) Ready(ctx context.Context) error { return nil }

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []job.Status
}

func (n *recordingNotifier) JobStatusChanged(j *job.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, j.Status)
}

type fixture struct {
	store    *store.Memory
	runtime  *fakeRuntime
	notifier *recordingNotifier
	exec     *Executor
	root     string
}

func newFixture(t *testing.T, h *fakeHandle) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemory(),
		runtime:  &fakeRuntime{handle: h},
		notifier: &recordingNotifier{},
		root:     t.TempDir(),
	}
	f.exec = NewExecutor(Config{ArtifactsRoot: f.root, CleanupTimeout: 5 * time.Second}, f.store, f.runtime, f.notifier, nil)
	return f
}

func (f *fixture) addJob(t *testing.T, id string, status job.Status, mutate ...func(*job.Job)) *job.Job {
	t.Helper()
	params := job.NewParams()
	params.Set("alpha", []byte("0.5"))
	params.SetString("mode", "fast")
	j := &job.Job{
		ID:             id,
		Status:         status,
		ContainerImage: "sim:local",
		Command:        `python /sim/run_sim.py --alpha 0.5 --label "two words"`,
		Params:         params,
		CreatedAt:      time.Now().UTC(),
		ResourceLimits: job.ResourceLimits{CPULimit: 1.5, MemoryLimit: "512m"},
	}
	if status == job.StatusRunning {
		started := time.Now().UTC()
		j.StartedAt = &started
	}
	for _, fn := range mutate {
		fn(j)
	}
	if err := f.store.CreateJobs(context.Background(), []*job.Job{j}); err != nil {
		t.Fatalf("CreateJobs() error = %v", err)
	}
	return j
}

func (f *fixture) get(t *testing.T, id string) *job.Job {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	return j
}

func outputArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "output/", Mode: 0o755, Typeflag: tar.TypeDir}); err != nil {
		t.Fatalf("WriteHeader() error = %v", err)
	}
	for name, content := range files {
		header := &tar.Header{Name: "output/" + name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("WriteHeader() error = %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		outcome    outcome
		wantStatus job.Status
		wantCode   int
		wantResult bool
		wantDiag   string
	}{
		{"success", outcome{exitCode: 0}, job.StatusSuccess, 0, true, ""},
		{"nonzero exit", outcome{exitCode: 2}, job.StatusFailed, 2, false, ""},
		{"killed", outcome{exitCode: 137}, job.StatusFailed, 137, false, ""},
		{"image missing", outcome{imageMissing: true, image: "nope:1", err: ErrImageNotFound}, job.StatusFailed, -1, false, "Image not found: nope:1"},
		{"launch error", outcome{err: errors.New("boom"), failedStage: stageLaunch}, job.StatusFailed, -1, false, "Execution error during container launch: boom"},
		{"deadline", outcome{interrupted: true, err: context.DeadlineExceeded}, job.StatusFailed, -1, false, "Job exceeded its time limit"},
		{"shutdown", outcome{interrupted: true, err: context.Canceled}, job.StatusFailed, -1, false, "Job interrupted before completion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := classify(tt.outcome, "/data/job-1")
			if v.status != tt.wantStatus {
				t.Errorf("status = %s, want %s", v.status, tt.wantStatus)
			}
			if v.exitCode != tt.wantCode {
				t.Errorf("exitCode = %d, want %d", v.exitCode, tt.wantCode)
			}
			if (v.resultPath != "") != tt.wantResult {
				t.Errorf("resultPath = %q, want set=%v", v.resultPath, tt.wantResult)
			}
			if v.diagnostic != tt.wantDiag {
				t.Errorf("diagnostic = %q, want %q", v.diagnostic, tt.wantDiag)
			}
		})
	}
}

func TestExecute_Success(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{
		logs:    "step 1\nstep 2\n",
		archive: outputArchive(t, map[string]string{"result.json": `{"score":1}`}),
	}
	f := newFixture(t, h)
	f.addJob(t, "job-1", job.StatusQueued)

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := f.get(t, "job-1")
	if got.Status != job.StatusSuccess {
		t.Fatalf("status = %s, want success", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exitCode = %v, want 0", got.ExitCode)
	}
	wantDir := filepath.Join(f.root, "job-1")
	if got.ResultPath != wantDir {
		t.Errorf("resultPath = %q, want %q", got.ResultPath, wantDir)
	}
	if got.Logs != "step 1\nstep 2\n" {
		t.Errorf("logs = %q", got.Logs)
	}
	if got.StartedAt == nil || got.FinishedAt == nil || got.RuntimeSeconds == nil {
		t.Error("expected timing fields to be set")
	}
	if _, err := os.Stat(filepath.Join(wantDir, "result.json")); err != nil {
		t.Errorf("artifact not extracted: %v", err)
	}
	if !h.wasRemoved() {
		t.Error("container was not removed")
	}
	if f.exec.Active("job-1") {
		t.Error("job still registered as active")
	}

	want := []job.Status{job.StatusRunning, job.StatusSuccess}
	if fmt.Sprint(f.notifier.statuses) != fmt.Sprint(want) {
		t.Errorf("notified %v, want %v", f.notifier.statuses, want)
	}
}

func TestExecute_RunSpec(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	f.addJob(t, "job-1", job.StatusQueued)

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(f.runtime.specs) != 1 {
		t.Fatalf("runs = %d, want 1", len(f.runtime.specs))
	}
	spec := f.runtime.specs[0]

	wantCmd := []string{"python", "/sim/run_sim.py", "--alpha", "0.5", "--label", "two words"}
	if fmt.Sprint(spec.Cmd) != fmt.Sprint(wantCmd) {
		t.Errorf("Cmd = %q, want %q", spec.Cmd, wantCmd)
	}
	for _, want := range []string{"JOB_ID=job-1", "OUTPUT_DIR=/tmp/output", "PARAM_ALPHA=0.5", "PARAM_MODE=fast"} {
		found := false
		for _, e := range spec.Env {
			if e == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Env missing %q: %v", want, spec.Env)
		}
	}
	if spec.NanoCPUs != 1_500_000_000 {
		t.Errorf("NanoCPUs = %d", spec.NanoCPUs)
	}
	if spec.MemoryBytes != 512*1024*1024 {
		t.Errorf("MemoryBytes = %d", spec.MemoryBytes)
	}
	if len(spec.Mounts) != 1 || spec.Mounts[0].Target != "/tmp/output" || spec.Mounts[0].Source != filepath.Join(f.root, "job-1") {
		t.Errorf("Mounts = %+v", spec.Mounts)
	}
	if spec.WorkingDir != "/sim" {
		t.Errorf("WorkingDir = %q", spec.WorkingDir)
	}
	if spec.Labels[LabelJobID] != "job-1" || spec.Labels[LabelManagedBy] != ManagedByValue {
		t.Errorf("Labels = %v", spec.Labels)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{logs: "Traceback\n", exitCode: 3})
	f.addJob(t, "job-1", job.StatusQueued)

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := f.get(t, "job-1")
	if got.Status != job.StatusFailed || got.ExitCode == nil || *got.ExitCode != 3 {
		t.Fatalf("got status=%s exitCode=%v, want failed 3", got.Status, got.ExitCode)
	}
	if got.ResultPath != "" {
		t.Errorf("resultPath = %q, want empty", got.ResultPath)
	}
	if got.Logs != "Traceback\n" {
		t.Errorf("logs = %q", got.Logs)
	}
}

func TestExecute_InfrastructureFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		runErr   error
		handle   *fakeHandle
		wantLogs string
	}{
		{"image missing", fmt.Errorf("%w: sim:local", ErrImageNotFound), nil, "Image not found: sim:local"},
		{"launch", errors.New("daemon unavailable"), nil, "Execution error during container launch: daemon unavailable"},
		{"logs", nil, &fakeHandle{logsErr: errors.New("stream reset")}, "Execution error during log streaming: stream reset"},
		{"wait", nil, &fakeHandle{logs: "partial", waitErr: errors.New("wait failed")}, "partial\nExecution error during container wait: wait failed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.handle)
			f.runtime.err = tt.runErr
			f.addJob(t, "job-1", job.StatusQueued)

			if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			got := f.get(t, "job-1")
			if got.Status != job.StatusFailed || got.ExitCode == nil || *got.ExitCode != job.InfrastructureExitCode {
				t.Fatalf("got status=%s exitCode=%v, want failed -1", got.Status, got.ExitCode)
			}
			if !strings.Contains(got.Logs, tt.wantLogs) {
				t.Errorf("logs = %q, want to contain %q", got.Logs, tt.wantLogs)
			}
			if tt.handle != nil && !tt.handle.wasRemoved() {
				t.Error("container was not removed")
			}
		})
	}
}

func TestExecute_InvalidCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	f.addJob(t, "job-1", job.StatusQueued, func(j *job.Job) {
		j.Command = `python "unterminated`
	})

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := f.get(t, "job-1")
	if got.Status != job.StatusFailed || *got.ExitCode != job.InfrastructureExitCode {
		t.Fatalf("got status=%s, want failed -1", got.Status)
	}
	if !strings.Contains(got.Logs, "Execution error during container configuration") {
		t.Errorf("logs = %q", got.Logs)
	}
	if len(f.runtime.specs) != 0 {
		t.Error("runtime should not be called for an invalid command")
	}
}

func TestExecute_TerminalJobIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	j := f.addJob(t, "job-1", job.StatusQueued)
	j.Cancel(time.Now())
	if err := f.store.UpdateJob(context.Background(), j, job.StatusQueued); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := f.get(t, "job-1"); got.Status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if len(f.runtime.specs) != 0 {
		t.Error("runtime should not be called for a finished job")
	}
}

func TestExecute_UnknownJobIsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	if err := f.exec.Execute(context.Background(), "missing"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestExecute_RedeliveredRunningJobFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	f.addJob(t, "job-1", job.StatusRunning)

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := f.get(t, "job-1")
	if got.Status != job.StatusFailed || *got.ExitCode != job.InfrastructureExitCode {
		t.Fatalf("got status=%s, want failed -1", got.Status)
	}
	if len(f.runtime.specs) != 0 {
		t.Error("orphaned job must not be relaunched")
	}
}

func TestExecute_DuplicateDeliverySkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	f.addJob(t, "job-1", job.StatusRunning)
	if err := f.exec.active.reserve("job-1"); err != nil {
		t.Fatalf("reserve() error = %v", err)
	}

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := f.get(t, "job-1"); got.Status != job.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
}

func TestExecute_CancelDuringRun(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{logs: "working\n", exitCode: 137}
	f := newFixture(t, h)
	f.addJob(t, "job-1", job.StatusQueued)

	h.onLogs = func() {
		ctx := context.Background()
		j, err := f.store.GetJob(ctx, "job-1")
		if err != nil {
			t.Errorf("GetJob() error = %v", err)
			return
		}
		j.Cancel(time.Now())
		if err := f.store.UpdateJob(ctx, j, job.StatusRunning); err != nil {
			t.Errorf("UpdateJob() error = %v", err)
		}
		if err := f.exec.Stop(ctx, "job-1"); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := f.get(t, "job-1")
	if got.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.ExitCode != nil {
		t.Errorf("exitCode = %d, want nil", *got.ExitCode)
	}
	if got.Logs != "working\n" {
		t.Errorf("logs = %q, want container output kept", got.Logs)
	}
	if !h.wasStopped() {
		t.Error("container was not stopped")
	}
}

func TestExecute_StopBeforeLaunch(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{}
	f := newFixture(t, h)
	f.addJob(t, "job-1", job.StatusQueued)
	f.runtime.onRun = func() {
		if err := f.exec.Stop(context.Background(), "job-1"); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !h.wasStopped() {
		t.Error("container launched after a stop request was not stopped")
	}
}

func TestExecute_Timeout(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{logs: "started\n", blockWait: true}
	f := newFixture(t, h)
	f.addJob(t, "job-1", job.StatusQueued)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.exec.Execute(ctx, "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := f.get(t, "job-1")
	if got.Status != job.StatusFailed || *got.ExitCode != job.InfrastructureExitCode {
		t.Fatalf("got status=%s, want failed -1", got.Status)
	}
	if !strings.Contains(got.Logs, "Job exceeded its time limit") {
		t.Errorf("logs = %q", got.Logs)
	}
	if !h.wasRemoved() {
		t.Error("container was not removed after timeout")
	}
}

func TestExecute_LogsAreTruncated(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{logs: strings.Repeat("a", 100) + strings.Repeat("z", 20)}
	f := newFixture(t, h)
	f.exec = NewExecutor(Config{ArtifactsRoot: f.root, MaxLogBytes: 20}, f.store, f.runtime, nil, nil)
	f.addJob(t, "job-1", job.StatusQueued)

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := f.get(t, "job-1"); got.Logs != strings.Repeat("z", 20) {
		t.Errorf("logs = %q, want last 20 bytes", got.Logs)
	}
}

func TestExecute_LogsKeepRunesSplitAcrossReads(t *testing.T) {
	t.Parallel()
	output := strings.Repeat("a", logChunkSize-1) + "é" + "b\n" + strings.Repeat("c", logChunkSize-2) + "€\n"
	h := &fakeHandle{logs: output}
	f := newFixture(t, h)
	f.addJob(t, "job-1", job.StatusQueued)

	if err := f.exec.Execute(context.Background(), "job-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := f.get(t, "job-1").Logs
	if got != output {
		t.Errorf("logs differ: got %d bytes, want %d (é kept: %v, € kept: %v)",
			len(got), len(output), strings.Contains(got, "é"), strings.Contains(got, "€"))
	}
}

func TestSplitPartialRune(t *testing.T) {
	t.Parallel()
	euro := []byte("€") // e2 82 ac
	tests := []struct {
		name         string
		in           []byte
		wantComplete string
		wantRest     []byte
	}{
		{"ascii", []byte("abc"), "abc", nil},
		{"complete rune at end", []byte("a€"), "a€", nil},
		{"one byte of three", append([]byte("a"), euro[0]), "a", euro[:1]},
		{"two bytes of three", append([]byte("a"), euro[:2]...), "a", euro[:2]},
		{"invalid byte is not held", []byte{'a', 0xff}, "a\xff", nil},
		{"empty", nil, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			complete, rest := splitPartialRune(tt.in)
			if string(complete) != tt.wantComplete || !bytes.Equal(rest, tt.wantRest) {
				t.Errorf("splitPartialRune(%q) = %q, %q", tt.in, complete, rest)
			}
		})
	}
}

// flakyStore fails the first UpdateJob call.
type flakyStore struct {
	*store.Memory
	mu     sync.Mutex
	failed bool
}

func (s *flakyStore) UpdateJob(ctx context.Context, j *job.Job, from job.Status) error {
	s.mu.Lock()
	first := !s.failed
	s.failed = true
	s.mu.Unlock()
	if first {
		return apperrors.Infrastructure("store.updateJob", errors.New("disk I/O error"))
	}
	return s.Memory.UpdateJob(ctx, j, from)
}

func TestExecute_SafetyNetFailsJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	f.addJob(t, "job-1", job.StatusQueued)
	flaky := &flakyStore{Memory: f.store}
	exec := NewExecutor(Config{ArtifactsRoot: f.root}, flaky, f.runtime, nil, nil)

	err := exec.Execute(context.Background(), "job-1")
	if !errors.Is(err, apperrors.ErrInfrastructure) {
		t.Fatalf("Execute() error = %v, want infrastructure error", err)
	}
	got := f.get(t, "job-1")
	if got.Status != job.StatusFailed || *got.ExitCode != job.InfrastructureExitCode {
		t.Fatalf("got status=%s, want failed -1", got.Status)
	}
	if !strings.Contains(got.Logs, "CRITICAL ERROR") {
		t.Errorf("logs = %q, want critical error", got.Logs)
	}
}

func TestExecute_PanicFailsJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	f.addJob(t, "job-1", job.StatusQueued)
	f.runtime.onRun = func() { panic("runtime exploded") }

	err := f.exec.Execute(context.Background(), "job-1")
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("Execute() error = %v, want internal error", err)
	}
	got := f.get(t, "job-1")
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Logs, "CRITICAL ERROR") || !strings.Contains(got.Logs, "runtime exploded") {
		t.Errorf("logs = %q", got.Logs)
	}
	if f.exec.Active("job-1") {
		t.Error("active slot leaked after panic")
	}
}

func TestRecoverOrphans(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeHandle{})
	f.addJob(t, "orphan", job.StatusRunning)
	f.addJob(t, "owned", job.StatusRunning)
	f.addJob(t, "waiting", job.StatusQueued)
	if err := f.exec.active.reserve("owned"); err != nil {
		t.Fatalf("reserve() error = %v", err)
	}

	n, err := f.exec.RecoverOrphans(context.Background())
	if err != nil {
		t.Fatalf("RecoverOrphans() error = %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	if got := f.get(t, "orphan"); got.Status != job.StatusFailed {
		t.Errorf("orphan status = %s, want failed", got.Status)
	}
	if got := f.get(t, "owned"); got.Status != job.StatusRunning {
		t.Errorf("owned status = %s, want running", got.Status)
	}
	if got := f.get(t, "waiting"); got.Status != job.StatusQueued {
		t.Errorf("waiting status = %s, want queued", got.Status)
	}
}
