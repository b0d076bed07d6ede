package main

import (
	"encoding/json"
	"fmt"
	"io"
	"jobengine/internal/job"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCreateResult(w io.Writer, asJSON bool, result *job.CreateResult) error {
	if asJSON {
		return writeJSON(w, result)
	}
	if result.ParentJobID == "" {
		pterm.Success.WithWriter(w).Printf("Job queued: %s\n", result.Jobs[0])
		return nil
	}

	pterm.Success.WithWriter(w).Printf("Sweep queued: %d jobs (parent %s)\n", len(result.Jobs), result.ParentJobID)
	rows := pterm.TableData{{"ENTRY", "JOB ID"}}
	for i, id := range result.Jobs {
		rows = append(rows, []string{fmt.Sprintf("params_%d", i), id})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(rows).Render()
}

func printJob(w io.Writer, asJSON bool, j *job.Job) error {
	if asJSON {
		return writeJSON(w, j)
	}

	params, _ := json.Marshal(j.Params)
	rows := pterm.TableData{
		{"ID", j.ID},
		{"Status", colorStatus(j.Status)},
		{"Image", j.ContainerImage},
		{"Command", j.Command},
		{"Params", string(params)},
		{"Created", formatTime(&j.CreatedAt)},
		{"Started", formatTime(j.StartedAt)},
		{"Finished", formatTime(j.FinishedAt)},
		{"Runtime", formatSeconds(j.RuntimeSeconds)},
		{"Exit code", formatExitCode(j.ExitCode)},
		{"Limits", fmt.Sprintf("%g CPU, %s", j.ResourceLimits.CPULimit, j.ResourceLimits.MemoryLimit)},
	}
	if j.ParentJobID != "" {
		rows = append(rows, []string{"Parent", j.ParentJobID})
	}
	if j.ResultPath != "" {
		rows = append(rows, []string{"Result", j.ResultPath})
	}
	for _, k := range sortedKeys(j.Metadata) {
		rows = append(rows, []string{"meta." + k, fmt.Sprint(j.Metadata[k])})
	}
	return pterm.DefaultTable.WithWriter(w).WithData(rows).Render()
}

func printJobList(w io.Writer, asJSON bool, page *job.ListResult) error {
	if asJSON {
		return writeJSON(w, page)
	}

	rows := pterm.TableData{{"ID", "STATUS", "IMAGE", "CREATED", "RUNTIME", "EXIT"}}
	for _, j := range page.Jobs {
		rows = append(rows, []string{
			j.ID,
			colorStatus(j.Status),
			j.ContainerImage,
			formatTime(&j.CreatedAt),
			formatSeconds(j.RuntimeSeconds),
			formatExitCode(j.ExitCode),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(rows).Render(); err != nil {
		return err
	}

	footer := fmt.Sprintf("Page %d, %d of %d jobs", page.Page, len(page.Jobs), page.Total)
	if page.HasNext {
		footer += fmt.Sprintf(" (next: --page %d)", page.Page+1)
	}
	pterm.Info.WithWriter(w).Println(footer)
	return nil
}

func printStats(w io.Writer, asJSON bool, stats *job.Stats) error {
	if asJSON {
		return writeJSON(w, stats)
	}

	rows := pterm.TableData{{"STATUS", "JOBS"}}
	for _, status := range job.AllStatuses {
		rows = append(rows, []string{colorStatus(status), strconv.Itoa(stats.JobsByStatus[status])})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(rows).Render(); err != nil {
		return err
	}

	summary := pterm.TableData{
		{"Total", strconv.Itoa(stats.TotalJobs)},
		{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate*100)},
		{"Avg runtime", formatSeconds(stats.AvgRuntimeSeconds)},
	}
	return pterm.DefaultTable.WithWriter(w).WithData(summary).Render()
}

func printCancelled(w io.Writer, j *job.Job) {
	if j.Status == job.StatusCancelled {
		pterm.Success.WithWriter(w).Printf("Cancelled %s\n", j.ID)
		return
	}
	pterm.Warning.WithWriter(w).Printf("%s already finished (%s)\n", j.ID, j.Status)
}

func printDownloaded(w io.Writer, path string) {
	pterm.Success.WithWriter(w).Printf("Result written to %s\n", path)
}

func colorStatus(s job.Status) string {
	switch s {
	case job.StatusSuccess:
		return pterm.Green(string(s))
	case job.StatusFailed:
		return pterm.Red(string(s))
	case job.StatusRunning:
		return pterm.LightCyan(string(s))
	case job.StatusCancelled:
		return pterm.Yellow(string(s))
	default:
		return string(s)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatSeconds(s *float64) string {
	if s == nil {
		return "-"
	}
	return (time.Duration(*s * float64(time.Second))).Round(time.Millisecond).String()
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

// sortedKeys is used for stable metadata output.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
