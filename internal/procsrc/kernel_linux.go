//go:build linux

package procsrc

import (
	"fmt"
	"os"
	"strings"
)

// DefaultKallsymsPath is used when KernelSource.KallsymsPath is empty.
const DefaultKallsymsPath = "/proc/kallsyms"

// KernelRelease returns the running kernel's release string (uname -r),
// used to interpolate the kernel image probe paths. Reading
// /proc/sys/kernel/osrelease avoids the per-architecture signedness
// differences in golang.org/x/sys/unix.Utsname's byte arrays.
func KernelRelease() (string, error) {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return "", fmt.Errorf("procsrc: read kernel release: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ProbeKernelImage probes the well-known vmlinux locations for the given
// release; the first readable candidate wins.
func ProbeKernelImage(release string) (string, bool) {
	candidates := []string{
		"/boot/vmlinux-" + release,
		"/usr/lib/debug/boot/vmlinux-" + release,
		"/lib/modules/" + release + "/build/vmlinux",
	}
	for _, c := range candidates {
		if f, err := os.Open(c); err == nil {
			f.Close() // nolint:errcheck
			return c, true
		}
	}
	return "", false
}
