//go:build linux

package procsrc

import "fmt"

// ProcessMapsPath is the OS-provided memory-map listing for pid.
func ProcessMapsPath(pid int) string {
	return fmt.Sprintf("/proc/%d/maps", pid)
}
