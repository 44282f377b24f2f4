// Package elfmeta decodes ELF headers, program headers, and symbol tables.
// It builds on debug/elf — the Go ecosystem's standard vehicle for ELF
// parsing — and adds the merge/filter rules the symbolization engine needs
// on top: .symtab/.dynsym merging with duplicate-by-address resolution,
// and PT_LOAD segment lookup for address-resolution.
package elfmeta

import (
	"debug/elf"
	"fmt"
	"sort"
)

// SymbolKind mirrors the engine's public SymbolKind without importing the
// root package (which would create an import cycle).
type SymbolKind int

const (
	KindFunction SymbolKind = iota
	KindObject
	KindOther
)

// RawSymbol is a single merged symbol table entry, file-local.
type RawSymbol struct {
	Name  string
	Start uint64
	Size  uint32
	Kind  SymbolKind
}

// LoadSegment is one PT_LOAD program header entry.
type LoadSegment struct {
	VirtualAddress uint64
	FileOffset     uint64
	MemSize        uint64
	Executable     bool
}

// Object wraps an opened ELF file along with the data the rest of the
// engine needs: merged symbols, load segments, and (if present) a DWARF
// handle.
type Object struct {
	File     *elf.File
	Segments []LoadSegment
	Symbols  []RawSymbol // one entry per address, sorted by Start
}

// Open decodes the ELF identification bytes, header, program headers, and
// the .symtab/.dynsym symbol tables (when present). Missing debug sections
// are not an error; DWARF availability is reported via File.DWARF().
func Open(path string) (*Object, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, classifyOpenErr(path, err)
	}

	if f.Class != elf.ELFCLASS32 && f.Class != elf.ELFCLASS64 {
		f.Close() // nolint:errcheck
		return nil, fmt.Errorf("elfmeta: %s: unsupported ELF class %v", path, f.Class)
	}

	o := &Object{File: f}
	o.Segments = loadSegments(f)

	symbols, err := mergedSymbols(f)
	if err != nil {
		// A missing symbol table is not fatal — the object may still
		// carry DWARF. Record nothing and let the caller fall back.
		o.Symbols = nil
	} else {
		o.Symbols = symbols
	}

	return o, nil
}

func classifyOpenErr(path string, err error) error {
	return fmt.Errorf("elfmeta: open %s: %w", path, err)
}

func loadSegments(f *elf.File) []LoadSegment {
	var segs []LoadSegment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, LoadSegment{
			VirtualAddress: prog.Vaddr,
			FileOffset:     prog.Off,
			MemSize:        prog.Memsz,
			Executable:     prog.Flags&elf.PF_X != 0,
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].VirtualAddress < segs[j].VirtualAddress })
	return segs
}

// mergedSymbols merges .symtab and .dynsym. On duplicate addresses
// .symtab wins (it is richer). Symbols with an undefined section, or
// zero-sized non-function symbols, are excluded.
func mergedSymbols(f *elf.File) ([]RawSymbol, error) {
	byAddr := make(map[uint64]RawSymbol)
	order := make([]uint64, 0)

	addFrom := func(syms []elf.Symbol, authoritative bool) {
		for _, s := range syms {
			if s.Section == elf.SHN_UNDEF {
				continue
			}
			kind := classifySymbol(s)
			if s.Size == 0 && kind != KindFunction {
				continue
			}
			if s.Name == "" {
				continue
			}
			if _, ok := byAddr[s.Value]; ok && !authoritative {
				continue
			}
			if _, ok := byAddr[s.Value]; !ok {
				order = append(order, s.Value)
			}
			byAddr[s.Value] = RawSymbol{Name: s.Name, Start: s.Value, Size: uint32(s.Size), Kind: kind}
		}
	}

	dynSyms, dynErr := f.DynamicSymbols()
	if dynErr == nil {
		addFrom(dynSyms, false)
	}

	symTab, symErr := f.Symbols()
	if symErr == nil {
		addFrom(symTab, true)
	}

	if dynErr != nil && symErr != nil {
		return nil, fmt.Errorf("elfmeta: no symbol table: dynsym=%v symtab=%v", dynErr, symErr)
	}

	out := make([]RawSymbol, 0, len(order))
	for _, addr := range order {
		out = append(out, byAddr[addr])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Size > out[j].Size
	})
	return out, nil
}

func classifySymbol(s elf.Symbol) SymbolKind {
	switch elf.ST_TYPE(s.Info) {
	case elf.STT_FUNC:
		return KindFunction
	case elf.STT_OBJECT:
		return KindObject
	default:
		return KindOther
	}
}

// Section returns the named section's raw bytes, or nil if the object does
// not carry it. Used to hand .debug_line/.debug_line_str/.debug_str/
// .debug_aranges bytes to the hand-rolled parsers in internal/lineprog and
// internal/dwarfx.
func (o *Object) Section(name string) []byte {
	sec := o.File.Section(name)
	if sec == nil {
		return nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil
	}
	return data
}

// Close releases the underlying file handle.
func (o *Object) Close() error {
	return o.File.Close()
}
