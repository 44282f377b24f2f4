// Package blazesym is a read-only DWARF/ELF symbolization engine: it
// resolves runtime instruction addresses captured from a live process or
// the kernel into function name, object file, source file, line, and
// column, expanding inline frames along the way.
package blazesym

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/google/pprof/profile"
	"github.com/ianlancetaylor/demangle"
	"github.com/rs/zerolog"

	"github.com/kflux/blazesym-go/internal/inlineexp"
	"github.com/kflux/blazesym-go/internal/lineprog"
	"github.com/kflux/blazesym-go/internal/procsrc"
	"github.com/kflux/blazesym-go/internal/resolve"
	"github.com/kflux/blazesym-go/internal/symindex"
)

// Demangler converts a raw linkage name (as found in .symtab/.dynsym)
// into a human-readable one. The engine applies it to every name taken
// from a symbol table (.symtab/.dynsym, or kallsyms for the kernel),
// whatever the symbol's type; DWARF subprogram names are emitted as the
// compiler wrote them, since they are already source-level identifiers.
type Demangler func(string) string

// Symbolizer is the engine's single public entry point: it fans query
// addresses through address→object resolution, the per-object symbol
// index, the line-program VM, and inline-frame expansion. A Symbolizer
// owns a cache of loaded objects keyed by (canonical-path, load-address)
// for its entire lifetime and may be shared across goroutines for
// Symbolize calls; only New and Close are exclusive.
type Symbolizer struct {
	mu      sync.RWMutex
	objects map[objectKey]*loadedObject

	demangler Demangler
	logger    zerolog.Logger
}

// New constructs a Symbolizer with an empty object cache. logger is
// tagged with component "symbolizer". The default demangler is
// github.com/ianlancetaylor/demangle's Filter, which demangles C++
// (Itanium) and Rust names; names it doesn't recognize (Go names,
// already-plain names) pass through unchanged. Call SetDemangler to
// replace it.
func New(logger zerolog.Logger) *Symbolizer {
	return &Symbolizer{
		objects:   make(map[objectKey]*loadedObject),
		demangler: func(name string) string { return demangle.Filter(name) },
		logger:    logger.With().Str("component", "symbolizer").Logger(),
	}
}

// SetDemangler replaces the demangler applied to symbol-table names,
// overriding New's ianlancetaylor/demangle
// default. Passing nil leaves names unchanged entirely.
func (s *Symbolizer) SetDemangler(fn Demangler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demangler = fn
}

// Close releases every Loaded Object's underlying file handle. The
// Symbolizer must not be used for further Symbolize/FindAddress* calls
// afterward.
func (s *Symbolizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for _, o := range s.objects {
		if err := o.close(); err != nil && first == nil {
			first = err
		}
	}
	s.objects = make(map[objectKey]*loadedObject)
	return first
}

// Symbolize resolves each address in addresses against the objects
// materialized from configs, returning one inline chain per input address
// in the same position. An address with no matching object, or whose
// object carries neither a covering symbol nor DWARF coverage, yields an
// empty inner slice rather than an error. Configurations that themselves
// fail to materialize (a missing binary, an unreadable kallsyms file, an
// invalid pid) are logged and skipped; they never abort the call.
func (s *Symbolizer) Symbolize(ctx context.Context, configs []SourceConfig, addresses []uint64) ([][]SymbolizedResult, error) {
	out := make([][]SymbolizedResult, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	objs := s.materialize(ctx, configs)
	for i, addr := range addresses {
		out[i] = s.symbolizeOne(objs, addr)
	}
	return out, nil
}

// FindAddressRegex locates every symbol across the materialized objects
// whose name matches pattern.
func (s *Symbolizer) FindAddressRegex(ctx context.Context, configs []SourceConfig, pattern string) ([]NamedAddress, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("blazesym: FindAddressRegex: %w", err)
	}

	objs := s.materialize(ctx, configs)
	var out []NamedAddress
	for _, o := range objs {
		for _, e := range o.symbols.Entries() {
			if !re.MatchString(e.Name) {
				continue
			}
			out = append(out, NamedAddress{
				Name:     s.demangle(e.Name),
				Address:  o.loadAddress + e.Start,
				FilePath: o.filePath,
			})
		}
	}
	return out, nil
}

// FindAddresses resolves each name in names to every occurrence across
// the materialized objects; the outer slice is positional over names.
func (s *Symbolizer) FindAddresses(ctx context.Context, configs []SourceConfig, names []string) ([][]AddressMatch, error) {
	out := make([][]AddressMatch, len(names))
	if len(names) == 0 {
		return out, nil
	}

	objs := s.materialize(ctx, configs)
	for i, name := range names {
		var matches []AddressMatch
		for _, o := range objs {
			for _, e := range o.symbols.FindByName(name) {
				matches = append(matches, AddressMatch{
					Address:  o.loadAddress + e.Start,
					FilePath: o.filePath,
				})
			}
		}
		out[i] = matches
	}
	return out, nil
}

// demangle applies the installed Demangler, if any.
func (s *Symbolizer) demangle(name string) string {
	s.mu.RLock()
	fn := s.demangler
	s.mu.RUnlock()
	if fn == nil {
		return name
	}
	return fn(name)
}

// symbolizeOne resolves a single address against the already-materialized
// objects: resolve picks the owning object and file-local offset, the
// symbol index supplies the enclosing symbol, and when DWARF is present
// the line table and inline expansion refine it with source coordinates.
func (s *Symbolizer) symbolizeOne(objs []*loadedObject, addr uint64) []SymbolizedResult {
	idx := make([]resolve.Object, len(objs))
	for i, o := range objs {
		idx[i] = resolve.Object{
			LoadAddress: o.loadAddress,
			Segments:    o.resolveSegments(),
			HasSymbolCoverage: func(offset uint64) bool {
				_, ok := o.findSymbol(offset)
				return ok
			},
		}
	}

	match, ok := resolve.Resolve(idx, addr)
	if !ok {
		return nil
	}
	obj := objs[match.Index]

	sym, hasSym := obj.findSymbol(match.FileOffset)

	if obj.dwarf != nil {
		if frames := s.symbolizeWithDWARF(obj, match.FileOffset, sym, hasSym); frames != nil {
			return frames
		}
	}

	if !hasSym {
		return nil
	}
	return []SymbolizedResult{{
		Symbol:       s.demangle(sym.Name),
		StartAddress: obj.loadAddress + sym.Start,
		FilePath:     obj.filePath,
	}}
}

// symbolizeWithDWARF attempts line lookup and inline expansion for an
// address already known to fall within obj. It returns nil only when the
// DWARF contributes nothing for the address (no covering compilation
// unit, a line program that fails to load, or a covered unit with
// neither a line row nor a subprogram DIE), letting the caller fall back
// to the plain symbol-table result.
func (s *Symbolizer) symbolizeWithDWARF(obj *loadedObject, fileOffset uint64, sym symindex.Entry, hasSym bool) []SymbolizedResult {
	unit := obj.dwarf.UnitForAddress(fileOffset)
	if unit == nil {
		return nil
	}

	table, err := obj.lineTable(unit)
	if err != nil {
		return nil
	}
	var row lineprog.Row
	var ok bool
	if table != nil {
		// A unit without a line program still offers its subprogram
		// DIEs; only the address's own source coordinates stay empty.
		row, ok = table.Resolve(fileOffset)
	}

	var addrFile string
	var addrLine, addrCol uint32
	if ok {
		addrFile, addrLine, addrCol = row.File, row.Line, row.Column
	}

	frames, concrete, err := inlineexp.Resolve(obj.dwarf, unit, fileOffset, addrFile, addrLine, addrCol)
	if err != nil || concrete == nil {
		// No enclosing subprogram DIE (possible for compiler-generated
		// code carrying line info only). A resolved line row is still
		// worth returning on top of whatever the symbol table knows.
		if !ok {
			return nil
		}
		res := SymbolizedResult{
			FilePath:   obj.filePath,
			SourceFile: addrFile,
			Line:       addrLine,
			Column:     addrCol,
		}
		if hasSym {
			res.Symbol = s.demangle(sym.Name)
			res.StartAddress = obj.loadAddress + sym.Start
		} else {
			res.StartAddress = obj.loadAddress + fileOffset
		}
		return []SymbolizedResult{res}
	}

	results := make([]SymbolizedResult, 0, len(frames)+1)
	for _, f := range frames {
		results = append(results, SymbolizedResult{
			Symbol:     f.FunctionName,
			FilePath:   obj.filePath,
			SourceFile: f.File,
			Line:       f.Line,
			Column:     f.Column,
		})
	}

	concreteResult := SymbolizedResult{
		Symbol:   concrete.Name,
		FilePath: obj.filePath,
	}
	if hasSym {
		concreteResult.StartAddress = obj.loadAddress + sym.Start
	} else {
		concreteResult.StartAddress = obj.loadAddress + fileOffset
	}
	if concrete.HasCallSite {
		concreteResult.SourceFile = concrete.CallFile
		concreteResult.Line = concrete.CallLine
		concreteResult.Column = concrete.CallColumn
	} else {
		concreteResult.SourceFile = addrFile
		concreteResult.Line = addrLine
		concreteResult.Column = addrCol
	}
	results = append(results, concreteResult)

	// Every frame anchors to load-address + the enclosing concrete
	// symbol's start: the concrete function round-trips through its own
	// symbol table entry, and inlined frames share that anchor since
	// they have no symbol of their own.
	for i := range results[:len(results)-1] {
		results[i].StartAddress = concreteResult.StartAddress
	}

	return results
}

// materialize expands each source configuration into its loaded objects,
// consulting (and populating) the cache. A configuration that fails to
// materialize is logged and skipped; it never aborts the call.
func (s *Symbolizer) materialize(ctx context.Context, configs []SourceConfig) []*loadedObject {
	var objs []*loadedObject
	for _, cfg := range configs {
		switch c := cfg.(type) {
		case ElfSource:
			o, err := s.getOrCreate(c.FilePath, c.LoadAddress)
			if err != nil {
				s.logger.Warn().Err(err).Str("path", c.FilePath).Msg("skipping elf source configuration")
				continue
			}
			objs = append(objs, o)
		case ProcessSource:
			objs = append(objs, s.materializeProcess(ctx, c.PID)...)
		case KernelSource:
			o, err := s.materializeKernel(c)
			if err != nil {
				s.logger.Warn().Err(err).Msg("skipping kernel source configuration")
				continue
			}
			objs = append(objs, o)
		default:
			s.logger.Warn().Msg("skipping unrecognized source configuration")
		}
	}
	return objs
}

// getOrCreate returns the cached Loaded Object for (path, loadAddress),
// constructing and publishing it under the write lock on a miss.
func (s *Symbolizer) getOrCreate(path string, loadAddress uint64) (*loadedObject, error) {
	key, err := keyFor(path, loadAddress)
	if err != nil {
		return nil, newErr(KindNotFound, "object.Load", path, err)
	}

	s.mu.RLock()
	if o, ok := s.objects[key]; ok {
		s.mu.RUnlock()
		return o, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[key]; ok {
		return o, nil
	}
	o, err := newLoadedObject(path, loadAddress)
	if err != nil {
		return nil, err
	}
	s.objects[key] = o
	return o, nil
}

// getOrCreateMapping is getOrCreate's process-loader counterpart: the
// load-address isn't known until the object's own PT_LOAD headers are
// read, so the object is built first and then reconciled against the
// cache; a redundant build on a cache hit is closed and discarded.
func (s *Symbolizer) getOrCreateMapping(path string, mappingStart uint64) (*loadedObject, error) {
	o, err := newLoadedObjectForMapping(path, mappingStart)
	if err != nil {
		return nil, err
	}

	key := objectKey{path: o.filePath, loadAddress: o.loadAddress}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.objects[key]; ok {
		o.close() // nolint:errcheck
		return existing, nil
	}
	s.objects[key] = o
	return o, nil
}

// materializeKernel expands a KernelSource: missing paths are resolved
// through the default kallsyms path and the kernel-image probe list
// before the object is built or fetched from cache.
func (s *Symbolizer) materializeKernel(c KernelSource) (*loadedObject, error) {
	kallsymsPath := c.KallsymsPath
	if kallsymsPath == "" {
		kallsymsPath = procsrc.DefaultKallsymsPath
	}

	imagePath := c.KernelImagePath
	if imagePath == "" {
		if release, err := procsrc.KernelRelease(); err == nil {
			if found, ok := procsrc.ProbeKernelImage(release); ok {
				imagePath = found
			}
		}
	}

	key := objectKey{path: kallsymsPath, loadAddress: 0}
	s.mu.RLock()
	if o, ok := s.objects[key]; ok {
		s.mu.RUnlock()
		return o, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[key]; ok {
		return o, nil
	}

	o, err := newKernelLoadedObject(kallsymsPath, imagePath)
	if err != nil {
		return nil, err
	}
	s.objects[key] = o
	return o, nil
}

// materializeProcess expands a ProcessSource into one loaded object per
// distinct file-backed executable mapping. Multiple mappings
// of the same file converge on the lowest-address one observed, which
// supplies the mapping-start used to derive that object's load-address;
// later mappings of the same path are not re-materialized.
func (s *Symbolizer) materializeProcess(ctx context.Context, pid int) []*loadedObject {
	if _, err := procsrc.ValidatePID(ctx, pid); err != nil {
		s.logger.Warn().Err(err).Int("pid", pid).Msg("process validation failed")
		return nil
	}

	mapsPath := procsrc.ProcessMapsPath(pid)
	if mapsPath == "" {
		s.logger.Warn().Int("pid", pid).Msg("process source configuration is unsupported on this platform")
		return nil
	}

	f, err := os.Open(mapsPath) // #nosec G304 -- pid is an int, path is well-formed
	if err != nil {
		s.logger.Warn().Err(err).Str("path", mapsPath).Msg("failed to read process memory map")
		return nil
	}
	defer f.Close() // nolint:errcheck

	entries, err := procsrc.ParseMaps(f)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse process memory map")
		return nil
	}

	firstByPath := make(map[string]procsrc.MapEntry)
	var order []string
	for _, e := range entries {
		existing, seen := firstByPath[e.Path]
		if !seen {
			order = append(order, e.Path)
		} else if e.Start >= existing.Start {
			continue
		}
		firstByPath[e.Path] = e
	}

	var objs []*loadedObject
	for _, path := range order {
		e := firstByPath[path]
		o, err := s.getOrCreateMapping(e.Path, e.Start)
		if err != nil {
			s.logger.Debug().Err(err).Str("path", e.Path).Msg("skipping unparseable mapped object")
			continue
		}
		objs = append(objs, o)
	}
	return objs
}

// ObjectHash returns the SHA-256 hash (hex-encoded) of the loaded object
// cached for (filePath, loadAddress), computing it on first request and
// memoizing it on the object thereafter. A caller polling a long-lived
// Symbolizer can compare this against a previous call's result to notice
// a binary replaced at the same path and load address; the object cache
// itself stays keyed by (path, load-address) alone, so this is a
// diagnostic on top of that cache, not an alternate key. Returns ok=false
// if no such object has been materialized yet.
func (s *Symbolizer) ObjectHash(filePath string, loadAddress uint64) (hash string, ok bool, err error) {
	key, kerr := keyFor(filePath, loadAddress)
	if kerr != nil {
		return "", false, kerr
	}

	s.mu.RLock()
	o, found := s.objects[key]
	s.mu.RUnlock()
	if !found {
		return "", false, nil
	}

	h, err := o.buildIDHash()
	if err != nil {
		return "", true, err
	}
	return h, true, nil
}

// ToPprofLocations converts a resolved inline chain into pprof's
// Location/Line/Function triples (google/pprof/profile). pprof's
// inline-frame convention is innermost-first, the same ordering
// Symbolize produces, so the chain maps over one to one.
func ToPprofLocations(p *profile.Profile, results []SymbolizedResult) *profile.Location {
	if len(results) == 0 {
		return nil
	}

	loc := &profile.Location{
		ID:      uint64(len(p.Location) + 1),
		Address: results[len(results)-1].StartAddress,
	}
	for _, r := range results {
		fn := &profile.Function{
			ID:       uint64(len(p.Function) + 1),
			Name:     r.Symbol,
			Filename: r.SourceFile,
		}
		p.Function = append(p.Function, fn)
		loc.Line = append(loc.Line, profile.Line{Function: fn, Line: int64(r.Line)})
	}
	p.Location = append(p.Location, loc)
	return loc
}
