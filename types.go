package blazesym

// SymbolKind classifies a Symbol Entry as the ELF symbol table's
// st_info type field distinguishes them.
type SymbolKind int

const (
	// SymbolFunction is an STT_FUNC symbol.
	SymbolFunction SymbolKind = iota
	// SymbolObject is an STT_OBJECT symbol.
	SymbolObject
	// SymbolOther covers every other ELF symbol type the engine keeps
	// around for completeness (sections, files, TLS, ifuncs, ...).
	SymbolOther
)

// Symbol is a single (address, size, name) entry from an object's merged
// symbol table. Start is always file-local (i.e. not yet adjusted by any
// load address).
type Symbol struct {
	Name  string
	Start uint64
	Size  uint32
	Kind  SymbolKind
}

// LineRow is one row of a compilation unit's evaluated line program:
// address plus the source file/line/column it maps to. Line and Column
// are 1-based; 0 means unknown.
type LineRow struct {
	Address     uint64
	File        string
	Line        uint32
	Column      uint32
	IsStatement bool
	EndSequence bool
}

// InlineFrame is one link in the chain of inlined call sites enclosing an
// address. CallFile/CallLine/CallColumn describe where the *next*
// (enclosing) frame was called from.
type InlineFrame struct {
	FunctionName string
	CallFile     string
	CallLine     uint32
	CallColumn   uint32
}

// SymbolizedResult is one frame of output for a single query address. A
// query address yields an ordered slice of these: index 0 is the
// innermost (deepest inline), and the last element is always the
// concrete, non-inlined function.
type SymbolizedResult struct {
	Symbol       string
	StartAddress uint64 // load-adjusted
	FilePath     string // path of the object the symbol came from
	SourceFile   string
	Line         uint32
	Column       uint32
}

// NamedAddress is one match produced by FindAddressRegex.
type NamedAddress struct {
	Name     string
	Address  uint64 // load-adjusted
	FilePath string
}

// AddressMatch is one match produced by FindAddresses, positional over the
// requested names.
type AddressMatch struct {
	Address  uint64 // load-adjusted
	FilePath string
}
