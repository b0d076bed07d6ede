package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"jobengine/internal/client"
	"jobengine/internal/job"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newClient(v *viper.Viper) *client.Client {
	return client.New(v.GetString("url"), v.GetString("api-key"), v.GetDuration("timeout"))
}

func newCreateCmd(v *viper.Viper) *cobra.Command {
	var (
		image, command, createdBy, memory, file string
		cpu                                     float64
		params, sweep                           []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job or a parameter sweep",
		Example: `  jobctl create --param alpha=0.5 --param mode=fast
  jobctl create --sweep alpha=0.1 --sweep alpha=0.2
  jobctl create --file spec.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := buildSpec(file, image, command, createdBy, cpu, memory, params, sweep)
			if err != nil {
				return err
			}
			result, err := newClient(v).Create(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return printCreateResult(cmd.OutOrStdout(), v.GetBool("json"), result)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the job specification from a JSON file ('-' for stdin)")
	cmd.Flags().StringVar(&image, "image", "", "container image (service default when empty)")
	cmd.Flags().StringVar(&command, "command", "", "command to run (derived from params when empty)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "submitter recorded on the job")
	cmd.Flags().Float64Var(&cpu, "cpu", 0, "CPU limit in cores")
	cmd.Flags().StringVar(&memory, "memory", "", "memory limit, e.g. 512m")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&sweep, "sweep", nil, "sweep entry as key=value[,key=value] (repeatable, one job each)")
	return cmd
}

// buildSpec assembles a job spec from a file or from flags. Flags override
// the file's fields when both are given.
func buildSpec(file, image, command, createdBy string, cpu float64, memory string, params, sweep []string) (*job.Spec, error) {
	spec := &job.Spec{}
	if file != "" {
		raw, err := readSpecFile(file)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, spec); err != nil {
			return nil, fmt.Errorf("invalid job specification in %s: %w", file, err)
		}
	}

	if image != "" {
		spec.ContainerImage = image
	}
	if command != "" {
		spec.Command = command
	}
	if createdBy != "" {
		spec.CreatedBy = createdBy
	}
	if cpu > 0 || memory != "" {
		limits := job.ResourceLimits{CPULimit: cpu, MemoryLimit: memory}
		if spec.ResourceLimits != nil {
			if cpu <= 0 {
				limits.CPULimit = spec.ResourceLimits.CPULimit
			}
			if memory == "" {
				limits.MemoryLimit = spec.ResourceLimits.MemoryLimit
			}
		}
		spec.ResourceLimits = &limits
	}

	if len(params) > 0 {
		p, err := parseAssignments(params)
		if err != nil {
			return nil, err
		}
		spec.Params = &p
	}
	for _, entry := range sweep {
		p, err := parseAssignments(strings.Split(entry, ","))
		if err != nil {
			return nil, err
		}
		spec.Sweep = append(spec.Sweep, p)
	}
	return spec, nil
}

func readSpecFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// parseAssignments turns key=value pairs into ordered params. Values that
// parse as JSON (numbers, booleans, quoted strings) keep their JSON type;
// anything else is sent as a string.
func parseAssignments(pairs []string) (job.Params, error) {
	params := job.NewParams()
	for _, pair := range pairs {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			return job.Params{}, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		if json.Valid([]byte(value)) && value != "" {
			params.Set(key, json.RawMessage(value))
		} else {
			params.SetString(key, value)
		}
	}
	return params, nil
}

func newGetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := newClient(v).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), v.GetBool("json"), j)
		},
	}
}

func newListCmd(v *viper.Viper) *cobra.Command {
	var params job.ListParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := newClient(v).List(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJobList(cmd.OutOrStdout(), v.GetBool("json"), page)
		},
	}
	cmd.Flags().IntVar(&params.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&params.Size, "size", 20, "page size (1-100)")
	cmd.Flags().StringVar(&params.Status, "status", "", "only jobs in this status")
	cmd.Flags().StringVar(&params.CreatedBy, "created-by", "", "only jobs from this submitter")
	cmd.Flags().StringVar(&params.ParentJobID, "parent", "", "only members of this sweep")
	return cmd
}

func newCancelCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID...",
		Short: "Cancel queued or running jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(v)
			var errs []error
			for _, id := range args {
				j, err := c.Cancel(cmd.Context(), id)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				printCancelled(cmd.OutOrStdout(), j)
			}
			return errors.Join(errs...)
		},
	}
}

func newLogsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "logs JOB_ID",
		Short: "Print the captured output of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := newClient(v).Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), logs)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), logs.Logs)
			return err
		},
	}
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate job statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newClient(v).Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), v.GetBool("json"), stats)
		},
	}
}

func newResultCmd(v *viper.Viper) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "result JOB_ID",
		Short: "Download the result of a successful job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return downloadResult(cmd.Context(), newClient(v), args[0], output, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", ".", "file or directory to write the result to")
	return cmd
}

// downloadResult writes into a temp file beside the destination and renames
// it once the transfer completes.
func downloadResult(ctx context.Context, c *client.Client, jobID, output string, out io.Writer) error {
	dir := output
	info, err := os.Stat(output)
	isDir := err == nil && info.IsDir()
	if !isDir {
		dir = filepath.Dir(output)
	}

	tmp, err := os.CreateTemp(dir, ".jobctl-result-*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	name, err := c.DownloadResult(ctx, jobID, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	dest := output
	if isDir {
		dest = filepath.Join(output, filepath.Base(name))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	printDownloaded(out, dest)
	return nil
}
