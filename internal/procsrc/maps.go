package procsrc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MapEntry is one parsed line of the OS process memory-map listing
// (Linux /proc/PID/maps format: start-end perms offset dev inode path).
type MapEntry struct {
	Start      uint64
	End        uint64
	Executable bool
	FileOffset uint64
	Path       string
}

// ParseMaps reads a process memory-map listing and returns only the
// lines with an 'x' permission bit and a file-backed path.
func ParseMaps(r io.Reader) ([]MapEntry, error) {
	var entries []MapEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		perms := fields[1]
		if !strings.Contains(perms, "x") {
			continue
		}
		path := fields[5]
		if path == "" || strings.HasPrefix(path, "[") {
			continue
		}

		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}

		entries = append(entries, MapEntry{Start: start, End: end, Executable: true, FileOffset: offset, Path: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("procsrc: read maps: %w", err)
	}
	return entries, nil
}
