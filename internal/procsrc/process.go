package procsrc

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ValidatePID confirms pid names a live process and returns its resolved
// executable path, using gopsutil for the cross-platform lookup even
// though the memory-map format this engine actually parses is
// Linux-specific.
func ValidatePID(ctx context.Context, pid int) (string, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", fmt.Errorf("procsrc: pid %d: %w", pid, err)
	}
	exe, err := proc.ExeWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("procsrc: pid %d: resolve executable path: %w", pid, err)
	}
	return exe, nil
}
