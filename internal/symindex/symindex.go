// Package symindex provides address-ordered symbol lookup: given a
// file-local offset, find the symbol table entry whose [Start, Start+Size)
// interval contains it. Built as a sorted slice plus sort.Search, the same
// shape the engine's object metadata layer uses for its location index.
package symindex

import "sort"

// Entry is the minimal shape symindex needs; callers convert their own
// symbol records (elfmeta.RawSymbol, derived kallsyms symbols) into it
// before calling New.
type Entry struct {
	Name  string
	Start uint64
	Size  uint32
}

// Index supports binary-search containment lookup over a symbol table
// that has already been merged and sorted by Start (ties broken by
// descending Size, so a zero-size marker symbol never shadows a real one
// sharing its address).
type Index struct {
	entries []Entry
	byName  map[string][]int
}

// New builds an Index from entries already sorted by Start ascending
// (callers — elfmeta.mergedSymbols and friends — already produce this
// order; New does not re-sort so that ambiguous-duplicate tie-breaking
// performed upstream is preserved).
func New(entries []Entry) *Index {
	idx := &Index{entries: entries, byName: make(map[string][]int, len(entries))}
	for i, e := range entries {
		idx.byName[e.Name] = append(idx.byName[e.Name], i)
	}
	return idx
}

// Find returns the symbol whose interval contains offset, or ok=false if
// none does. When multiple symbols start at the same address, New's input
// order (Size descending) determines which is considered authoritative;
// Find always returns the first entry at or before offset whose interval
// contains it.
func (idx *Index) Find(offset uint64) (Entry, bool) {
	// sort.Search finds the first entry with Start > offset; the
	// candidate is the one immediately before it.
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Start > offset
	})
	if i == 0 {
		return Entry{}, false
	}
	// Step back to the first entry sharing that Start: it carries the
	// largest Size of the tie.
	j := i - 1
	for j > 0 && idx.entries[j-1].Start == idx.entries[j].Start {
		j--
	}
	e := idx.entries[j]
	if e.Size == 0 {
		if offset == e.Start {
			return e, true
		}
		return Entry{}, false
	}
	if offset < e.Start+uint64(e.Size) {
		return e, true
	}
	return Entry{}, false
}

// FindByName returns every entry recorded under name — normally one, but
// symbol tables can carry weak/strong duplicates under the same name.
func (idx *Index) FindByName(name string) []Entry {
	idxs, ok := idx.byName[name]
	if !ok {
		return nil
	}
	out := make([]Entry, len(idxs))
	for i, j := range idxs {
		out[i] = idx.entries[j]
	}
	return out
}

// Len reports the number of indexed entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Entries returns every indexed entry, sorted by Start. Used by
// FindAddressRegex to scan for name matches.
func (idx *Index) Entries() []Entry { return idx.entries }
