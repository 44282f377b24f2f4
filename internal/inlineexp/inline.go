// Package inlineexp walks a compilation unit's DIE tree to recover the
// chain of inlined call sites covering a query address. It descends from
// the enclosing concrete subprogram through nested
// DW_TAG_inlined_subroutine entries, resolving each site's function name
// through DW_AT_abstract_origin/DW_AT_specification and its call location
// through DW_AT_call_file/line/column.
package inlineexp

import (
	"debug/dwarf"
	"fmt"

	"github.com/kflux/blazesym-go/internal/dwarfx"
)

// Frame is one resolved inline level, already carrying the source
// location where control sits at that level: the innermost frame gets
// the address's own line row, every enclosing frame gets the call site
// of the level nested one deeper.
type Frame struct {
	FunctionName string
	File         string
	Line         uint32
	Column       uint32
}

// ConcreteFunction is the non-inlined subprogram enclosing the query
// address. When HasCallSite is true, CallFile/CallLine/CallColumn locate
// the outermost inline's call site within this function's body;
// otherwise the caller should use the address's own line-program row.
type ConcreteFunction struct {
	Name        string
	HasCallSite bool
	CallFile    string
	CallLine    uint32
	CallColumn  uint32
}

// Resolve finds the subprogram covering addr within u and, if any inline
// expansion covers addr, the ordered chain of inlined call sites.
// addrFile/addrLine/addrCol are the line-program row already resolved for
// addr — used as the innermost frame's location when inlining is present,
// or ignored by the caller entirely when ConcreteFunction.HasCallSite is
// false (no inlining at this address).
//
// Returns (nil, nil, nil) if no subprogram in u covers addr.
func Resolve(ix *dwarfx.Index, u *dwarfx.Unit, addr uint64, addrFile string, addrLine, addrCol uint32) ([]Frame, *ConcreteFunction, error) {
	root, err := firstEntry(ix, u)
	if err != nil {
		return nil, nil, err
	}
	if root == nil {
		return nil, nil, nil
	}

	sub, err := findSubprogramIn(ix, root, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("inlineexp: locate subprogram: %w", err)
	}
	if sub == nil {
		return nil, nil, nil
	}

	chain, err := collectInlineChain(ix, sub, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("inlineexp: collect inline chain: %w", err)
	}

	if len(chain) == 0 {
		return nil, &ConcreteFunction{Name: originName(ix, sub)}, nil
	}

	frames := make([]Frame, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		site := chain[i]
		var file string
		var line, col uint32
		if i == len(chain)-1 {
			file, line, col = addrFile, addrLine, addrCol
		} else {
			file, line, col = callSite(ix, u, chain[i+1])
		}
		frames = append(frames, Frame{FunctionName: originName(ix, site), File: file, Line: line, Column: col})
	}

	cf := &ConcreteFunction{Name: originName(ix, sub), HasCallSite: true}
	cf.CallFile, cf.CallLine, cf.CallColumn = callSite(ix, u, chain[0])
	return frames, cf, nil
}

func firstEntry(ix *dwarfx.Index, u *dwarfx.Unit) (*dwarf.Entry, error) {
	r := ix.EntryReader(u)
	return r.Next()
}

func findSubprogramIn(ix *dwarfx.Index, parent *dwarf.Entry, addr uint64) (*dwarf.Entry, error) {
	kids, err := childrenOf(ix, parent)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		if k.Tag == dwarf.TagSubprogram {
			if ok, err := entryContains(ix, k, addr); err != nil {
				return nil, err
			} else if ok {
				return k, nil
			}
			continue
		}
		if isScopeTag(k.Tag) {
			found, err := findSubprogramIn(ix, k, addr)
			if err != nil {
				return nil, err
			}
			if found != nil {
				return found, nil
			}
		}
	}
	return nil, nil
}

func collectInlineChain(ix *dwarfx.Index, parent *dwarf.Entry, addr uint64) ([]*dwarf.Entry, error) {
	kids, err := childrenOf(ix, parent)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		if k.Tag == dwarf.TagInlinedSubroutine {
			ok, err := entryContains(ix, k, addr)
			if err != nil {
				return nil, err
			}
			if ok {
				rest, err := collectInlineChain(ix, k, addr)
				if err != nil {
					return nil, err
				}
				return append([]*dwarf.Entry{k}, rest...), nil
			}
			continue
		}
		if isScopeTag(k.Tag) {
			rest, err := collectInlineChain(ix, k, addr)
			if err != nil {
				return nil, err
			}
			if len(rest) > 0 {
				return rest, nil
			}
		}
	}
	return nil, nil
}

// childrenOf returns parent's direct children, walking (but not
// returning) their descendants too so the reader's cursor lands correctly
// on parent's next sibling.
func childrenOf(ix *dwarfx.Index, parent *dwarf.Entry) ([]*dwarf.Entry, error) {
	if !parent.Children {
		return nil, nil
	}
	r := ix.ReaderAt(parent.Offset)
	if _, err := r.Next(); err != nil { // consume parent itself
		return nil, err
	}

	var kids []*dwarf.Entry
	depth := 0
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			if depth == 0 {
				break
			}
			depth--
			continue
		}
		if depth == 0 {
			kids = append(kids, e)
		}
		if e.Children {
			depth++
		}
	}
	return kids, nil
}

func isScopeTag(t dwarf.Tag) bool {
	switch t {
	case dwarf.TagLexDwarfBlock, dwarf.TagNamespace, dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
		return true
	}
	return false
}

func entryContains(ix *dwarfx.Index, e *dwarf.Entry, addr uint64) (bool, error) {
	ranges, err := ix.Ranges(e)
	if err != nil {
		// A scope DIE without usable range attributes just isn't a
		// candidate; this is not a parse failure worth propagating.
		return false, nil
	}
	for _, r := range ranges {
		if addr >= r[0] && addr < r[1] {
			return true, nil
		}
	}
	return false, nil
}

// originName resolves entry's function name, following
// DW_AT_abstract_origin/DW_AT_specification chains when the entry itself
// carries no DW_AT_name (the common case for DW_TAG_inlined_subroutine,
// which names its target only indirectly).
func originName(ix *dwarfx.Index, entry *dwarf.Entry) string {
	if name, ok := entry.Val(dwarf.AttrName).(string); ok && name != "" {
		return name
	}
	if off, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
		if origin, err := ix.EntryAt(off); err == nil && origin != nil {
			return originName(ix, origin)
		}
	}
	if off, ok := entry.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
		if spec, err := ix.EntryAt(off); err == nil && spec != nil {
			return originName(ix, spec)
		}
	}
	return ""
}

func callSite(ix *dwarfx.Index, u *dwarfx.Unit, e *dwarf.Entry) (string, uint32, uint32) {
	var file string
	if fidx, ok := e.Val(dwarf.AttrCallFile).(int64); ok {
		if h, err := ix.LineProgramHeader(u); err == nil && h != nil {
			file = h.FileName(uint64(fidx))
		}
	}
	var line, col uint32
	if v, ok := e.Val(dwarf.AttrCallLine).(int64); ok {
		line = uint32(v)
	}
	if v, ok := e.Val(dwarf.AttrCallColumn).(int64); ok {
		col = uint32(v)
	}
	return file, line, col
}
