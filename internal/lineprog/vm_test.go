package lineprog

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildDWARF2Program assembles a minimal DWARF version 2 line-number
// program: one sequence of two statement rows followed by an
// end-sequence. It exercises DW_LNE_set_address, DW_LNS_advance_line,
// DW_LNS_copy, and DW_LNE_end_sequence without depending on special-opcode
// arithmetic, so the header constants can stay at realistic defaults.
func buildDWARF2Program(t *testing.T) []byte {
	t.Helper()

	var prog bytes.Buffer
	// DW_LNE_set_address 0x401000
	prog.WriteByte(0)
	prog.WriteByte(9) // length: 1 (opcode) + 8 (address)
	prog.WriteByte(dwLNESetAddress)
	addr := make([]byte, 8)
	binary.LittleEndian.PutUint64(addr, 0x401000)
	prog.Write(addr)
	// DW_LNS_copy -> row at (0x401000, file=1, line=1)
	prog.WriteByte(dwLNSCopy)
	// DW_LNS_advance_pc 4
	prog.WriteByte(dwLNSAdvancePC)
	prog.WriteByte(4)
	// DW_LNS_advance_line +3
	prog.WriteByte(dwLNSAdvanceLine)
	prog.WriteByte(3)
	// DW_LNS_copy -> row at (0x401004, file=1, line=4)
	prog.WriteByte(dwLNSCopy)
	// DW_LNS_advance_pc 4 -> the sequence ends at 0x401008
	prog.WriteByte(dwLNSAdvancePC)
	prog.WriteByte(4)
	// DW_LNE_end_sequence
	prog.WriteByte(0)
	prog.WriteByte(1)
	prog.WriteByte(dwLNEEndSequence)

	programBytes := prog.Bytes()

	var header bytes.Buffer
	header.WriteByte(1)                  // min_instruction_length
	header.WriteByte(1)                  // default_is_stmt
	header.WriteByte(0xfb)               // line_base = -5
	header.WriteByte(14)                 // line_range
	header.WriteByte(13)                 // opcode_base
	stdOpcodeLengths := []byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}
	header.Write(stdOpcodeLengths)
	header.WriteByte(0) // include_directories terminator
	header.WriteString("main.c")
	header.WriteByte(0)
	header.WriteByte(0) // dir index
	header.WriteByte(0) // mtime
	header.WriteByte(0) // length
	header.WriteByte(0) // file_names terminator

	headerLength := uint32(header.Len())

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint16(2)) // version
	binary.Write(&unit, binary.LittleEndian, headerLength)
	unit.Write(header.Bytes())
	unit.Write(programBytes)

	unitLength := uint32(unit.Len())

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, unitLength)
	out.Write(unit.Bytes())
	return out.Bytes()
}

func TestRunAndResolve(t *testing.T) {
	data := buildDWARF2Program(t)

	h, err := ParseHeader(data, nil, nil, 0)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Version != 2 {
		t.Fatalf("Version = %d, want 2", h.Version)
	}

	table, err := Build(data, h)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rows := table.Rows()
	if len(rows) != 3 {
		t.Fatalf("Rows = %d, want 3 (two statements + end-sequence)", len(rows))
	}
	if rows[0].Address != 0x401000 || rows[0].Line != 1 || rows[0].File != "main.c" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].Address != 0x401004 || rows[1].Line != 4 {
		t.Fatalf("row 1 = %+v", rows[1])
	}
	if !rows[2].EndSequence {
		t.Fatalf("row 2 should be the end-sequence marker: %+v", rows[2])
	}

	if got, ok := table.Resolve(0x401000); !ok || got.Line != 1 {
		t.Fatalf("Resolve(0x401000) = %+v, %v", got, ok)
	}
	if got, ok := table.Resolve(0x401003); !ok || got.Line != 1 {
		t.Fatalf("Resolve(0x401003) = %+v, %v; want line 1 (still inside the first row's range)", got, ok)
	}
	if got, ok := table.Resolve(0x401004); !ok || got.Line != 4 {
		t.Fatalf("Resolve(0x401004) = %+v, %v", got, ok)
	}
	if _, ok := table.Resolve(0x401008); ok {
		t.Fatal("expected no match past the sequence's end")
	}
	if _, ok := table.Resolve(0x400fff); ok {
		t.Fatal("expected no match before the sequence's start")
	}
}

// TestResolveMatchesLinearScan: binary-search resolution agrees with a
// linear walk over the emitted rows for every address around the
// sequence's boundaries.
func TestResolveMatchesLinearScan(t *testing.T) {
	data := buildDWARF2Program(t)
	h, err := ParseHeader(data, nil, nil, 0)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	table, err := Build(data, h)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rows := table.Rows()

	linear := func(addr uint64) (Row, bool) {
		var best Row
		found := false
		for _, r := range rows {
			if r.Address <= addr {
				best = r
				found = true
			}
		}
		if !found || best.EndSequence {
			return Row{}, false
		}
		return best, true
	}

	for addr := uint64(0x400ffe); addr <= 0x401006; addr++ {
		wantRow, wantOK := linear(addr)
		gotRow, gotOK := table.Resolve(addr)
		if wantOK != gotOK || (wantOK && (gotRow.Address != wantRow.Address || gotRow.Line != wantRow.Line)) {
			t.Fatalf("Resolve(%#x) = %+v, %v; linear scan gives %+v, %v", addr, gotRow, gotOK, wantRow, wantOK)
		}
	}
}

// TestDefineFile: a DW_LNE_define_file opcode extends the header's file
// table mid-program, and a following DW_LNS_set_file can reference it.
func TestDefineFile(t *testing.T) {
	var prog bytes.Buffer
	// DW_LNE_set_address 0x1000
	prog.WriteByte(0)
	prog.WriteByte(9)
	prog.WriteByte(dwLNESetAddress)
	addr := make([]byte, 8)
	binary.LittleEndian.PutUint64(addr, 0x1000)
	prog.Write(addr)
	// DW_LNE_define_file "gen.c" dir=0 mtime=0 length=0
	name := "gen.c"
	prog.WriteByte(0)
	prog.WriteByte(byte(1 + len(name) + 1 + 3)) // opcode + name + NUL + 3 ULEBs
	prog.WriteByte(dwLNEDefineFile)
	prog.WriteString(name)
	prog.WriteByte(0)
	prog.WriteByte(0) // dir index
	prog.WriteByte(0) // mtime
	prog.WriteByte(0) // length
	// DW_LNS_set_file 2 (the just-defined entry; "main.c" is 1)
	prog.WriteByte(dwLNSSetFile)
	prog.WriteByte(2)
	// DW_LNS_copy
	prog.WriteByte(dwLNSCopy)
	// DW_LNE_end_sequence
	prog.WriteByte(0)
	prog.WriteByte(1)
	prog.WriteByte(dwLNEEndSequence)

	var header bytes.Buffer
	header.WriteByte(1)    // min_instruction_length
	header.WriteByte(1)    // default_is_stmt
	header.WriteByte(0xfb) // line_base = -5
	header.WriteByte(14)   // line_range
	header.WriteByte(13)   // opcode_base
	header.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	header.WriteByte(0) // include_directories terminator
	header.WriteString("main.c")
	header.WriteByte(0)
	header.WriteByte(0)
	header.WriteByte(0)
	header.WriteByte(0)
	header.WriteByte(0) // file_names terminator

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint16(2))
	binary.Write(&unit, binary.LittleEndian, uint32(header.Len()))
	unit.Write(header.Bytes())
	unit.Write(prog.Bytes())

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(unit.Len()))
	out.Write(unit.Bytes())
	data := out.Bytes()

	h, err := ParseHeader(data, nil, nil, 0)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	table, err := Build(data, h)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	row, ok := table.Resolve(0x1000)
	if !ok {
		t.Fatal("expected a row at 0x1000")
	}
	if row.File != "gen.c" {
		t.Fatalf("File = %q, want gen.c (defined mid-program)", row.File)
	}
}
