package resolve

import "testing"

func TestResolveBasic(t *testing.T) {
	objects := []Object{
		{LoadAddress: 0x400000, Segments: []Segment{{VirtualAddress: 0x1000, MemSize: 0x2000}}},
	}
	m, ok := Resolve(objects, 0x401500)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Index != 0 || m.FileOffset != 0x1500 {
		t.Fatalf("Resolve = %+v, want index 0 offset 0x1500", m)
	}
}

func TestResolveGapIsUnresolved(t *testing.T) {
	objects := []Object{
		{LoadAddress: 0x400000, Segments: []Segment{{VirtualAddress: 0x1000, MemSize: 0x100}}},
	}
	if _, ok := Resolve(objects, 0x400200); ok {
		t.Fatal("expected no match inside the gap between segments")
	}
}

func TestResolvePicksGreatestLoadAddress(t *testing.T) {
	objects := []Object{
		{LoadAddress: 0x1000, Segments: []Segment{{VirtualAddress: 0, MemSize: 0x10000}}},
		{LoadAddress: 0x5000, Segments: []Segment{{VirtualAddress: 0, MemSize: 0x10000}}},
	}
	m, ok := Resolve(objects, 0x5010)
	if !ok || m.Index != 1 {
		t.Fatalf("Resolve = %+v, %v; want index 1 (greatest load address <= addr)", m, ok)
	}
}

func TestResolveTieBreakBySymbolCoverage(t *testing.T) {
	objects := []Object{
		{
			LoadAddress: 0x1000,
			Segments:    []Segment{{VirtualAddress: 0, MemSize: 0x1000}},
			HasSymbolCoverage: func(uint64) bool { return false },
		},
		{
			LoadAddress: 0x1000,
			Segments:    []Segment{{VirtualAddress: 0, MemSize: 0x1000}},
			HasSymbolCoverage: func(uint64) bool { return true },
		},
	}
	m, ok := Resolve(objects, 0x1500)
	if !ok || m.Index != 1 {
		t.Fatalf("Resolve = %+v, %v; want index 1 (the object whose symbol table covers the address)", m, ok)
	}
}

func TestResolveNoObjects(t *testing.T) {
	if _, ok := Resolve(nil, 0x1000); ok {
		t.Fatal("expected no match with no objects")
	}
}
