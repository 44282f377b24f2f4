package blazesym

import (
	"crypto/sha256"
	"debug/dwarf"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/kflux/blazesym-go/internal/dwarfx"
	"github.com/kflux/blazesym-go/internal/elfmeta"
	"github.com/kflux/blazesym-go/internal/lineprog"
	"github.com/kflux/blazesym-go/internal/procsrc"
	"github.com/kflux/blazesym-go/internal/resolve"
	"github.com/kflux/blazesym-go/internal/symindex"
)

// loadedObject is one mapped binary: an ELF handle, an optional DWARF
// accelerator, and a symbol index, all immutable once construction returns.
// Line-program tables are the one piece of state populated after
// construction (memoized per compilation unit on first use), so access to
// that cache alone is guarded by mu.
type loadedObject struct {
	filePath    string
	loadAddress uint64

	elf      *elfmeta.Object // nil for a kernel object with no image
	dwarf    *dwarfx.Index
	symbols  *symindex.Index
	segments []elfmeta.LoadSegment

	mu         sync.Mutex
	lineTables map[dwarf.Offset]*lineprog.Table

	hashOnce sync.Once
	hash     string
	hashErr  error
}

// newLoadedObject opens path, merges its symbol table, and builds a DWARF
// accelerator when debug info is present. A missing symbol table and a
// missing DWARF section are each tolerated individually; only an object
// carrying neither is rejected.
func newLoadedObject(path string, loadAddress uint64) (*loadedObject, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newErr(KindNotFound, "object.Load", path, err)
	}

	ef, err := elfmeta.Open(abs)
	if err != nil {
		return nil, classifyElfErr(abs, err)
	}

	return buildLoadedObject(abs, loadAddress, ef)
}

// newLoadedObjectForMapping is the process-loader path: it
// opens path once to read its PT_LOAD headers, then derives load-address
// as the mapping's start minus the file offset of the object's first
// PT_LOAD segment, so file-local offsets recovered later line up with the
// runtime addresses reported by the process memory map even when the
// object is mapped at a non-zero file offset.
func newLoadedObjectForMapping(path string, mappingStart uint64) (*loadedObject, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newErr(KindNotFound, "object.LoadProcess", path, err)
	}

	ef, err := elfmeta.Open(abs)
	if err != nil {
		return nil, classifyElfErr(abs, err)
	}

	var fileOffset uint64
	if len(ef.Segments) > 0 {
		fileOffset = ef.Segments[0].FileOffset
	}
	return buildLoadedObject(abs, mappingStart-fileOffset, ef)
}

// buildLoadedObject finishes construction from an already-opened ELF
// handle: it merges the symbol table into a symindex.Index and builds a
// DWARF accelerator when debug info is present.
func buildLoadedObject(abs string, loadAddress uint64, ef *elfmeta.Object) (*loadedObject, error) {
	obj := &loadedObject{
		filePath:    abs,
		loadAddress: loadAddress,
		elf:         ef,
		segments:    ef.Segments,
		lineTables:  make(map[dwarf.Offset]*lineprog.Table),
	}

	entries := make([]symindex.Entry, len(ef.Symbols))
	for i, s := range ef.Symbols {
		entries[i] = symindex.Entry{Name: s.Name, Start: s.Start, Size: s.Size}
	}
	obj.symbols = symindex.New(entries)

	if data, err := ef.File.DWARF(); err == nil {
		ix, err := dwarfx.New(data, ef.Section(".debug_line"), ef.Section(".debug_line_str"), ef.Section(".debug_str"), ef.Section(".debug_aranges"))
		if err != nil {
			// A malformed DWARF section affects this object only; it
			// remains usable via its symbol table alone.
			obj.dwarf = nil
		} else {
			obj.dwarf = ix
		}
	}

	if obj.dwarf == nil && obj.symbols.Len() == 0 {
		ef.Close() // nolint:errcheck
		return nil, newErrMsg(KindMalformedInput, "object.Load", abs, "no symbol table or debug info (stripped binary?)")
	}

	return obj, nil
}

// newKernelLoadedObject builds a loaded object directly from a kallsyms
// dump: sizes are derived next-address-minus-this
// within the same module, and the object's single synthetic PT_LOAD-like
// segment spans the address range the table actually covers, so the
// segment-containment check still applies to kernel addresses even though
// there is no running kernel's program-header table to read. When an
// image path is supplied its DWARF (if any) is attached on top, letting
// kernel addresses additionally gain file/line.
func newKernelLoadedObject(kallsymsPath, imagePath string) (*loadedObject, error) {
	f, err := os.Open(kallsymsPath) // #nosec G304 -- path is caller-supplied configuration
	if err != nil {
		return nil, classifyElfErr(kallsymsPath, err)
	}
	defer f.Close() // nolint:errcheck

	raw, err := procsrc.ParseKallsyms(f)
	if err != nil {
		return nil, newErr(KindMalformedInput, "object.LoadKernel", kallsymsPath, err)
	}
	sized := procsrc.KallsymsFuncSymbols(raw)
	if len(sized) == 0 {
		return nil, newErrMsg(KindNotFound, "object.LoadKernel", kallsymsPath, "no symbols parsed from kallsyms")
	}

	entries := make([]symindex.Entry, len(sized))
	minAddr, maxAddr := sized[0].Start, sized[0].Start
	for i, s := range sized {
		entries[i] = symindex.Entry{Name: s.Name, Start: s.Start, Size: uint32(s.Size)}
		if s.Start < minAddr {
			minAddr = s.Start
		}
		if end := s.Start + s.Size; end > maxAddr {
			maxAddr = end
		}
	}

	obj := &loadedObject{
		filePath:    kallsymsPath,
		loadAddress: 0,
		symbols:     symindex.New(entries),
		segments:    []elfmeta.LoadSegment{{VirtualAddress: minAddr, MemSize: maxAddr - minAddr, Executable: true}},
		lineTables:  make(map[dwarf.Offset]*lineprog.Table),
	}

	if imagePath != "" {
		if ef, err := elfmeta.Open(imagePath); err == nil {
			obj.elf = ef
			if data, derr := ef.File.DWARF(); derr == nil {
				if ix, ierr := dwarfx.New(data, ef.Section(".debug_line"), ef.Section(".debug_line_str"), ef.Section(".debug_str"), ef.Section(".debug_aranges")); ierr == nil {
					obj.dwarf = ix
				}
			}
		}
		// An unreadable or malformed kernel image is tolerated: the
		// kernel object remains usable via kallsyms alone.
	}

	return obj, nil
}

func classifyElfErr(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return newErr(KindNotFound, "object.Load", path, err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return newErr(KindPermissionDenied, "object.Load", path, err)
	}
	return newErr(KindMalformedInput, "object.Load", path, err)
}

// close releases the underlying ELF file handle, if any (a kernel object
// built from kallsyms alone, with no image supplied, holds none).
func (o *loadedObject) close() error {
	if o.elf == nil {
		return nil
	}
	return o.elf.Close()
}

// resolveSegments adapts this object's PT_LOAD (or synthetic kernel)
// segments to the shape internal/resolve needs.
func (o *loadedObject) resolveSegments() []resolve.Segment {
	out := make([]resolve.Segment, len(o.segments))
	for i, s := range o.segments {
		out[i] = resolve.Segment{VirtualAddress: s.VirtualAddress, MemSize: s.MemSize}
	}
	return out
}

// findSymbol looks up the symbol covering a file-local offset.
func (o *loadedObject) findSymbol(offset uint64) (symindex.Entry, bool) {
	return o.symbols.Find(offset)
}

// lineTable returns (and memoizes) u's evaluated line program.
func (o *loadedObject) lineTable(u *dwarfx.Unit) (*lineprog.Table, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.lineTables[u.Offset]; ok {
		return t, nil
	}
	t, err := o.dwarf.LineTable(u)
	if err != nil {
		return nil, err
	}
	o.lineTables[u.Offset] = t
	return t, nil
}

// buildIDHash returns the SHA-256 of the object's file bytes, computed once
// and cached for the lifetime of the loaded object. It backs the
// Symbolizer.ObjectHash diagnostic; the object cache itself is keyed by
// (path, load-address) only and does not consult this hash.
func (o *loadedObject) buildIDHash() (string, error) {
	o.hashOnce.Do(func() {
		f, err := os.Open(o.filePath)
		if err != nil {
			o.hashErr = err
			return
		}
		defer f.Close() // nolint:errcheck

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			o.hashErr = err
			return
		}
		o.hash = hex.EncodeToString(h.Sum(nil))
	})
	return o.hash, o.hashErr
}

// objectKey identifies a loaded object in the symbolizer's cache: a
// canonical path plus the load address it was mapped at. Two source
// configurations naming the same file at different load addresses are
// deliberately distinct loaded objects.
type objectKey struct {
	path        string
	loadAddress uint64
}

func keyFor(path string, loadAddress uint64) (objectKey, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return objectKey{}, fmt.Errorf("object: resolve %s: %w", path, err)
	}
	return objectKey{path: abs, loadAddress: loadAddress}, nil
}
