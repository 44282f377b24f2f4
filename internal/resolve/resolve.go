// Package resolve implements address→object resolution: given a query
// address and the set of currently loaded objects, choose the object
// whose load address and PT_LOAD segments cover it.
package resolve

import "sort"

// Object is the minimal shape resolve needs from a loaded object.
type Object struct {
	LoadAddress uint64
	Segments    []Segment
	// HasSymbolCoverage reports whether the object's symbol index has an
	// entry covering the candidate file-local offset. Only consulted to
	// break ties between kernel modules whose PT_LOAD ranges overlap;
	// Resolver calls it lazily, only when more than one object's load
	// address is tied for "greatest load-address <= addr".
	HasSymbolCoverage func(fileOffset uint64) bool
}

// Segment mirrors elfmeta.LoadSegment narrowly enough to avoid an import
// cycle between resolve and elfmeta.
type Segment struct {
	VirtualAddress uint64
	MemSize        uint64
}

// Match is the result of a successful resolution.
type Match struct {
	Index      int // position of the matched object in the slice given to Resolve
	FileOffset uint64
}

// Resolve picks the object with the greatest LoadAddress <= addr such
// that addr-LoadAddress falls within one of its PT_LOAD segments. Ties
// (multiple objects sharing the same load address — possible for kernel
// modules loaded at their link-time addresses) are broken by preferring
// whichever object's symbol table actually covers the computed offset.
func Resolve(objects []Object, addr uint64) (Match, bool) {
	type candidate struct {
		index  int
		offset uint64
	}
	var best *candidate
	var ties []candidate

	for i, o := range objects {
		if o.LoadAddress > addr {
			continue
		}
		fileOffset := addr - o.LoadAddress
		if !coveredBySegment(o.Segments, fileOffset) {
			continue
		}
		c := candidate{index: i, offset: fileOffset}
		switch {
		case best == nil:
			best = &c
			ties = []candidate{c}
		case o.LoadAddress > objects[best.index].LoadAddress:
			best = &c
			ties = []candidate{c}
		case o.LoadAddress == objects[best.index].LoadAddress:
			ties = append(ties, c)
		}
	}

	if best == nil {
		return Match{}, false
	}
	if len(ties) == 1 {
		return Match{Index: best.index, FileOffset: best.offset}, true
	}

	for _, c := range ties {
		if fn := objects[c.index].HasSymbolCoverage; fn != nil && fn(c.offset) {
			return Match{Index: c.index, FileOffset: c.offset}, true
		}
	}
	return Match{Index: best.index, FileOffset: best.offset}, true
}

func coveredBySegment(segs []Segment, offset uint64) bool {
	i := sort.Search(len(segs), func(i int) bool { return segs[i].VirtualAddress > offset })
	if i == 0 {
		return false
	}
	s := segs[i-1]
	return offset < s.VirtualAddress+s.MemSize
}
