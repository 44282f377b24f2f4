//go:build !linux

package procsrc

// ProcessMapsPath has no meaning off Linux; process-memory-map based
// source configuration is a Linux-only concern.
func ProcessMapsPath(pid int) string {
	return ""
}
