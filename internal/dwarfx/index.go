// Package dwarfx builds a compilation-unit accelerator: an eager index of
// CU headers and their covered address ranges, with DIE trees decoded
// lazily through debug/dwarf only when an address actually falls inside a
// unit. debug/dwarf handles CU/DIE/abbrev decoding; this package composes
// it with the range indexing and raw-section readers it doesn't provide.
package dwarfx

import (
	"debug/dwarf"
	"fmt"
	"sort"

	"github.com/kflux/blazesym-go/internal/lineprog"
)

// Unit is one compilation unit's header plus the file-local address
// ranges it covers, computed eagerly from DW_AT_low_pc/high_pc or
// DW_AT_ranges on the CU's root DIE.
type Unit struct {
	Offset  dwarf.Offset
	Version int
	Ranges  [][2]uint64

	entry *dwarf.Entry
}

// Contains reports whether addr falls within one of the unit's ranges.
func (u *Unit) Contains(addr uint64) bool {
	for _, r := range u.Ranges {
		if addr >= r[0] && addr < r[1] {
			return true
		}
	}
	return false
}

// Index is the eagerly-built CU accelerator for one object's DWARF data.
type Index struct {
	data  *dwarf.Data
	units []*Unit

	lineSection    []byte
	lineStrSection []byte
	strSection     []byte
}

// New scans every compilation unit's root DIE (one Reader.Next call per
// CU, skipping its children) and records the address ranges it covers.
// DIE subtrees are not decoded here; that happens on demand through
// Reader/EntryReader once a query address selects a unit. strSection and
// lineStrSection back DW_FORM_strp/DW_FORM_line_strp file names in v5
// line-program headers. arangesSection, when non-nil, supplements units
// whose root DIE carries no usable range attributes (some producers emit
// low_pc/high_pc only into .debug_aranges).
func New(data *dwarf.Data, lineSection, lineStrSection, strSection, arangesSection []byte) (*Index, error) {
	ix := &Index{data: data, lineSection: lineSection, lineStrSection: lineStrSection, strSection: strSection}

	r := data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarfx: scan compile units: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			// Malformed input (a non-CU root entry); skip defensively.
			r.SkipChildren()
			continue
		}

		u := &Unit{Offset: entry.Offset, entry: entry}

		ranges, err := data.Ranges(entry)
		if err == nil && len(ranges) > 0 {
			for _, r := range ranges {
				u.Ranges = append(u.Ranges, [2]uint64{r[0], r[1]})
			}
		}
		ix.units = append(ix.units, u)

		r.SkipChildren()
	}

	if arangesSection != nil {
		ix.applyAranges(arangesSection)
	}

	sort.Slice(ix.units, func(i, j int) bool {
		return minLow(ix.units[i]) < minLow(ix.units[j])
	})
	return ix, nil
}

// applyAranges parses the .debug_aranges section and grafts its ranges
// onto units that recorded none from their root DIE. A table names its
// unit by the CU header's .debug_info offset; each indexed Unit carries
// its root DIE's offset, which is the first DIE offset past that header,
// so the table belongs to the first unit (in section order) whose root
// offset is strictly greater than the table's debug_info_offset. Called
// before the index is re-sorted, while units are still in section order.
func (ix *Index) applyAranges(section []byte) {
	tables, err := parseAranges(section)
	if err != nil {
		// A malformed accelerator never disqualifies the CU index built
		// from .debug_info itself.
		return
	}
	for _, t := range tables {
		for _, u := range ix.units {
			if uint64(u.Offset) <= t.infoOffset {
				continue
			}
			if len(u.Ranges) == 0 {
				u.Ranges = append(u.Ranges, t.ranges...)
			}
			break
		}
	}
}

func minLow(u *Unit) uint64 {
	if len(u.Ranges) == 0 {
		return ^uint64(0)
	}
	low := u.Ranges[0][0]
	for _, r := range u.Ranges[1:] {
		if r[0] < low {
			low = r[0]
		}
	}
	return low
}

// Units returns every indexed compilation unit.
func (ix *Index) Units() []*Unit { return ix.units }

// UnitForAddress returns the compilation unit whose ranges contain addr,
// or nil if none does. Units commonly don't overlap, but a linear scan is
// used rather than a binary search since ranges can be non-contiguous and
// gaps between a unit's ranges are not bounded by its neighbors.
func (ix *Index) UnitForAddress(addr uint64) *Unit {
	for _, u := range ix.units {
		if u.Contains(addr) {
			return u
		}
	}
	return nil
}

// EntryReader returns a dwarf.Reader seeked to u's root DIE, ready to
// descend into its subtree.
func (ix *Index) EntryReader(u *Unit) *dwarf.Reader {
	return ix.ReaderAt(u.Offset)
}

// ReaderAt returns a dwarf.Reader seeked to an arbitrary DIE offset.
func (ix *Index) ReaderAt(off dwarf.Offset) *dwarf.Reader {
	r := ix.data.Reader()
	r.Seek(off)
	return r
}

// Ranges returns e's address ranges (from DW_AT_ranges, or the single
// range implied by DW_AT_low_pc/DW_AT_high_pc), delegating to
// debug/dwarf's own range-list decoder — which already understands both
// classic .debug_ranges and DWARF 5's .debug_rnglists.
func (ix *Index) Ranges(e *dwarf.Entry) ([][2]uint64, error) {
	return ix.data.Ranges(e)
}

// EntryAt fetches the DIE at a raw .debug_info offset, following
// DW_AT_abstract_origin/DW_AT_specification references that may point
// into a different unit than the one currently being walked.
func (ix *Index) EntryAt(off dwarf.Offset) (*dwarf.Entry, error) {
	r := ix.data.Reader()
	r.Seek(off)
	return r.Next()
}

// LineProgramHeader parses u's line-number program header (via
// DW_AT_stmt_list) on demand. Units without a stmt_list attribute (rare,
// but valid for a CU with no code) return (nil, nil).
func (ix *Index) LineProgramHeader(u *Unit) (*lineprog.Header, error) {
	off, ok := u.entry.Val(dwarf.AttrStmtList).(int64)
	if !ok {
		return nil, nil
	}
	if ix.lineSection == nil {
		return nil, fmt.Errorf("dwarfx: unit %#x references .debug_line but the section is absent", u.Offset)
	}
	return lineprog.ParseHeader(ix.lineSection, ix.lineStrSection, ix.strSection, off)
}

// LineTable evaluates and returns u's line program. It memoizes nothing
// itself; callers hold the per-unit cache.
func (ix *Index) LineTable(u *Unit) (*lineprog.Table, error) {
	h, err := ix.LineProgramHeader(u)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return lineprog.Build(ix.lineSection, h)
}

// CompDir returns the CU's compilation directory (DW_AT_comp_dir), used
// to resolve relative source file paths.
func (u *Unit) CompDir() string {
	s, _ := u.entry.Val(dwarf.AttrCompDir).(string)
	return s
}

// Name returns the CU's primary source file name (DW_AT_name).
func (u *Unit) Name() string {
	s, _ := u.entry.Val(dwarf.AttrName).(string)
	return s
}
