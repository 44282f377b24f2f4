//go:build !linux

package procsrc

import "fmt"

// DefaultKallsymsPath has no meaning off Linux; kept so callers can
// reference it unconditionally.
const DefaultKallsymsPath = "/proc/kallsyms"

// KernelRelease always fails off Linux: kallsyms/kernel-image discovery
// is a Linux-only concern.
func KernelRelease() (string, error) {
	return "", fmt.Errorf("procsrc: kernel release discovery is only supported on Linux")
}

// ProbeKernelImage always fails off Linux.
func ProbeKernelImage(string) (string, bool) {
	return "", false
}
