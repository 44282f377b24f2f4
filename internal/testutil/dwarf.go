package testutil

import (
	"bytes"
	"encoding/binary"
)

// DWARFUnitSpec describes one minimal compile unit for BuildDebugInfo: a
// DW_TAG_compile_unit DIE carrying low_pc/high_pc and zero or more
// DW_TAG_subprogram children, enough to exercise CU range indexing and DIE
// tree walking without a real compiler.
type DWARFUnitSpec struct {
	Name      string
	CompDir   string
	LowPC     uint64
	HighPC    uint64 // absolute; encoded as an offset from LowPC (DW_FORM_data8)
	StmtList  uint64 // offset into .debug_line; 0 if none
	HasStmt   bool
	Functions []DWARFFuncSpec
}

// DWARFFuncSpec describes a DW_TAG_subprogram child DIE.
type DWARFFuncSpec struct {
	Name   string
	LowPC  uint64
	HighPC uint64
}

const (
	dwTagCompileUnit   = 0x11
	dwTagSubprogram    = 0x2e
	dwAtName           = 0x03
	dwAtLowpc          = 0x11
	dwAtHighpc         = 0x12
	dwAtCompDir        = 0x1b
	dwAtStmtList       = 0x10
	dwFormAddr         = 0x01
	dwFormData8Abbrev  = 0x07
	dwFormString2      = 0x08
	dwFormSecOffset    = 0x17
)

// BuildDebugInfo assembles minimal .debug_info and .debug_abbrev section
// bytes (DWARF version 4, 64-bit addresses) for the given units, each
// containing zero or more DW_TAG_subprogram children. It returns
// (debugInfo, debugAbbrev, debugStr) — debugStr is unused (all strings are
// DW_FORM_string inline) but returned for symmetry with real objects.
func BuildDebugInfo(units []DWARFUnitSpec) (debugInfo, debugAbbrev, debugStr []byte) {
	var abbrev bytes.Buffer
	// Abbrev code 1: compile_unit, has children, name/comp_dir/low_pc/high_pc/stmt_list
	writeAbbrevDecl(&abbrev, 1, dwTagCompileUnit, true, []attrForm{
		{dwAtName, dwFormString2},
		{dwAtCompDir, dwFormString2},
		{dwAtLowpc, dwFormAddr},
		{dwAtHighpc, dwFormData8Abbrev},
		{dwAtStmtList, dwFormSecOffset},
	})
	// Abbrev code 2: subprogram, no children, name/low_pc/high_pc
	writeAbbrevDecl(&abbrev, 2, dwTagSubprogram, false, []attrForm{
		{dwAtName, dwFormString2},
		{dwAtLowpc, dwFormAddr},
		{dwAtHighpc, dwFormData8Abbrev},
	})
	abbrev.WriteByte(0) // terminate abbrev table

	var info bytes.Buffer
	for _, u := range units {
		var body bytes.Buffer
		writeULEB(&body, 1) // abbrev code 1: compile_unit
		writeCString(&body, u.Name)
		writeCString(&body, u.CompDir)
		binary.Write(&body, binary.LittleEndian, u.LowPC)
		binary.Write(&body, binary.LittleEndian, u.HighPC-u.LowPC)
		var stmt uint32
		if u.HasStmt {
			stmt = uint32(u.StmtList)
		}
		binary.Write(&body, binary.LittleEndian, stmt)

		for _, fn := range u.Functions {
			writeULEB(&body, 2) // abbrev code 2: subprogram
			writeCString(&body, fn.Name)
			binary.Write(&body, binary.LittleEndian, fn.LowPC)
			binary.Write(&body, binary.LittleEndian, fn.HighPC-fn.LowPC)
		}
		body.WriteByte(0) // end of compile_unit's children

		header := make([]byte, 0, 11)
		header = append(header, 0, 0, 0, 0) // unit_length, patched below
		var h2 bytes.Buffer
		binary.Write(&h2, binary.LittleEndian, uint16(4)) // version
		binary.Write(&h2, binary.LittleEndian, uint32(0)) // debug_abbrev_offset
		h2.WriteByte(8)                                   // address_size

		unitLen := uint32(h2.Len() + body.Len())
		binary.LittleEndian.PutUint32(header, unitLen)
		info.Write(header)
		info.Write(h2.Bytes())
		info.Write(body.Bytes())
	}

	return info.Bytes(), abbrev.Bytes(), nil
}

type attrForm struct {
	attr uint64
	form uint64
}

func writeAbbrevDecl(buf *bytes.Buffer, code uint64, tag uint64, hasChildren bool, attrs []attrForm) {
	writeULEB(buf, code)
	writeULEB(buf, tag)
	if hasChildren {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	for _, af := range attrs {
		writeULEB(buf, af.attr)
		writeULEB(buf, af.form)
	}
	writeULEB(buf, 0)
	writeULEB(buf, 0)
}

func writeULEB(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}
