package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskCheck reports unready when the filesystem holding Path is fuller than
// MaxUsedPercent. Job artifacts are written there.
type DiskCheck struct {
	Path           string
	MaxUsedPercent float64

	usage func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewDiskCheck creates a DiskCheck for path. A non-positive limit defaults to 95%.
func NewDiskCheck(path string, maxUsedPercent float64) *DiskCheck {
	if maxUsedPercent <= 0 {
		maxUsedPercent = 95
	}
	return &DiskCheck{Path: path, MaxUsedPercent: maxUsedPercent, usage: disk.UsageWithContext}
}

func (d *DiskCheck) Ready(ctx context.Context) error {
	stat, err := d.usage(ctx, d.Path)
	if err != nil {
		return fmt.Errorf("failed to read disk usage of %s: %w", d.Path, err)
	}
	if stat.UsedPercent > d.MaxUsedPercent {
		return fmt.Errorf("%s is %.1f%% full (limit %.0f%%)", d.Path, stat.UsedPercent, d.MaxUsedPercent)
	}
	return nil
}
