package lineprog

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestParseHeaderV5Strp: a DWARF 5 header whose directory table uses
// DW_FORM_line_strp and whose file table uses DW_FORM_strp resolves both
// through their respective string sections.
func TestParseHeaderV5Strp(t *testing.T) {
	lineStr := []byte("\x00/src\x00")
	str := []byte("\x00gen.c\x00")

	var header bytes.Buffer
	header.WriteByte(1)    // min_instruction_length
	header.WriteByte(1)    // maximum_operations_per_instruction
	header.WriteByte(1)    // default_is_stmt
	header.WriteByte(0xfb) // line_base = -5
	header.WriteByte(14)   // line_range
	header.WriteByte(13)   // opcode_base
	header.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})

	// directory table: one DW_LNCT_path/DW_FORM_line_strp entry
	header.WriteByte(1) // directory_entry_format_count
	header.WriteByte(dwLNCTPath)
	header.WriteByte(dwFormLineStrp)
	header.WriteByte(1) // directories_count
	binary.Write(&header, binary.LittleEndian, uint32(1))

	// file table: DW_LNCT_path/DW_FORM_strp + DW_LNCT_directory_index/udata
	header.WriteByte(2) // file_name_entry_format_count
	header.WriteByte(dwLNCTPath)
	header.WriteByte(dwFormStrp)
	header.WriteByte(dwLNCTDirectoryIndex)
	header.WriteByte(dwFormUdata)
	header.WriteByte(1) // file_names_count
	binary.Write(&header, binary.LittleEndian, uint32(1))
	header.WriteByte(0) // dir index

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint16(5)) // version
	unit.WriteByte(8)                                   // address_size
	unit.WriteByte(0)                                   // segment_selector_size
	binary.Write(&unit, binary.LittleEndian, uint32(header.Len()))
	unit.Write(header.Bytes())

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(unit.Len()))
	out.Write(unit.Bytes())

	h, err := ParseHeader(out.Bytes(), lineStr, str, 0)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Version != 5 {
		t.Fatalf("Version = %d, want 5", h.Version)
	}
	if len(h.IncludeDirectories) != 1 || h.IncludeDirectories[0] != "/src" {
		t.Fatalf("IncludeDirectories = %+v, want [/src]", h.IncludeDirectories)
	}
	if len(h.FileNames) != 1 || h.FileNames[0].Name != "gen.c" {
		t.Fatalf("FileNames = %+v, want [gen.c]", h.FileNames)
	}
	if got := h.FileName(0); got != "/src/gen.c" {
		t.Fatalf("FileName(0) = %q, want /src/gen.c", got)
	}
}
