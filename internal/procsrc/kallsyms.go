// Package procsrc loads the process and kernel source configurations:
// parsing kallsyms-format symbol tables and the OS process memory-map
// listing. Kallsyms and maps parsing are platform-independent text
// processing and live outside the Linux build tag; only the default path
// probing (kernel_linux.go/maps_linux.go) is gated to Linux, with a
// //go:build !linux stub alongside each.
package procsrc

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// KallsymsEntry is one parsed line of a kallsyms-format symbol table.
type KallsymsEntry struct {
	Address uint64
	Type    byte
	Name    string
	Module  string // empty for the core kernel
}

// ParseKallsyms reads whitespace-separated kallsyms lines
// (<hex-address> <type-letter> <name> [[module]]) from r. Lines lacking a
// valid address are skipped rather than aborting the read.
func ParseKallsyms(r io.Reader) ([]KallsymsEntry, error) {
	var entries []KallsymsEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		var module string
		if len(fields) > 3 && strings.HasPrefix(fields[3], "[") && strings.HasSuffix(fields[3], "]") {
			module = strings.Trim(fields[3], "[]")
		}
		entries = append(entries, KallsymsEntry{
			Address: addr,
			Type:    fields[1][0],
			Name:    fields[2],
			Module:  module,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("procsrc: read kallsyms: %w", err)
	}
	return entries, nil
}

// KallsymsFuncSymbols derives sized, address-sorted symbols from parsed
// kallsyms entries: each size is the distance to the next *distinct*
// address within the same module, so weak aliases sharing an address all
// receive the full covering size rather than an arbitrary one of them
// keeping it. Ties are ordered by name so the table is deterministic
// run-to-run. Non-function entries (type letters other than 't'/'T'/
// 'w'/'W', conventionally data) are kept too; kallsyms carries no size
// field, so filtering by type would only lose coverage.
func KallsymsFuncSymbols(entries []KallsymsEntry) []KallsymsSymbol {
	sorted := make([]KallsymsEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Address != sorted[j].Address {
			return sorted[i].Address < sorted[j].Address
		}
		return sorted[i].Name < sorted[j].Name
	})

	out := make([]KallsymsSymbol, len(sorted))
	for i, e := range sorted {
		var size uint64
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Module != e.Module || sorted[j].Address == e.Address {
				continue
			}
			size = sorted[j].Address - e.Address
			break
		}
		out[i] = KallsymsSymbol{Name: e.Name, Start: e.Address, Size: size, Module: e.Module}
	}
	return out
}

// KallsymsSymbol is a derived, sized kallsyms entry ready for symindex.
type KallsymsSymbol struct {
	Name   string
	Start  uint64
	Size   uint64
	Module string
}
