package testutil

import (
	"bytes"
	"encoding/binary"
)

// Die is a generic DWARF debug information entry for test fixtures: a
// tag, an attribute list, and nested children. BuildCustomCU serializes a
// tree of these into .debug_info/.debug_abbrev bytes, assigning abbrev
// codes by deduplicating (tag, has-children, attr-form signature).
type Die struct {
	Tag      uint64
	Attrs    []DieAttr
	Children []*Die
}

// DieAttr is one (attribute, form, value) triple. Exactly one of SVal/
// UVal/IVal/Ref is meaningful, selected by Form.
type DieAttr struct {
	At   uint64
	Form uint64
	SVal string
	UVal uint64
	IVal int64
	Ref  *Die // valid only with DwFormRef4; resolved to Ref's own offset
}

// DWARF form/attribute constants used by generated fixtures. Named
// distinctly from the constants in dwarf.go to avoid collisions since
// both files live in the same package.
const (
	DwAtName           = 0x03
	DwAtLowpc          = 0x11
	DwAtHighpc         = 0x12
	DwAtCompDir        = 0x1b
	DwAtStmtList       = 0x10
	DwAtAbstractOrigin = 0x31
	DwAtCallFile       = 0x58
	DwAtCallLine       = 0x59
	DwAtCallColumn     = 0x57

	DwTagCompileUnit       = 0x11
	DwTagSubprogram        = 0x2e
	DwTagInlinedSubroutine = 0x1d
	DwTagLexicalBlock      = 0x0b

	DwFormAddr      = 0x01
	DwFormData8     = 0x07
	DwFormData4     = 0x06
	DwFormString    = 0x08
	DwFormUdata     = 0x0f
	DwFormSecOffset = 0x17
	DwFormRef4      = 0x13
)

// BuildCustomCU serializes a single compile-unit DIE tree (DWARF version
// 4, 64-bit addresses, little-endian) into .debug_info/.debug_abbrev
// bytes. root's Tag must be DwTagCompileUnit. DW_FORM_ref4 attribute
// values are resolved to their Ref target's offset in a second pass,
// which is exact only because this helper always emits a single CU
// starting at .debug_info offset 0 (so the "relative to the compilation
// unit" rule for ref4 collapses to an absolute offset).
func BuildCustomCU(root *Die) (info, abbrev []byte) {
	abbrevBuf, codes := buildAbbrevTable(root)

	var body bytes.Buffer
	offsets := make(map[*Die]int64)
	type patch struct {
		pos    int64
		target *Die
	}
	var patches []patch

	var write func(d *Die)
	write = func(d *Die) {
		offsets[d] = int64(body.Len()) + headerSize()
		writeULEB(&body, uint64(codes[sigOf(d)]))
		for _, a := range d.Attrs {
			switch a.Form {
			case DwFormString:
				writeCString(&body, a.SVal)
			case DwFormAddr, DwFormData8:
				binary.Write(&body, binary.LittleEndian, a.UVal)
			case DwFormData4:
				binary.Write(&body, binary.LittleEndian, uint32(a.UVal))
			case DwFormUdata:
				writeULEB(&body, a.UVal)
			case DwFormSecOffset:
				binary.Write(&body, binary.LittleEndian, uint32(a.UVal))
			case DwFormRef4:
				patches = append(patches, patch{pos: int64(body.Len()), target: a.Ref})
				binary.Write(&body, binary.LittleEndian, uint32(0))
			}
		}
		for _, c := range d.Children {
			write(c)
		}
		if len(d.Children) > 0 {
			body.WriteByte(0)
		}
	}
	write(root)

	buf := body.Bytes()
	for _, p := range patches {
		off := uint32(offsets[p.target])
		binary.LittleEndian.PutUint32(buf[p.pos:p.pos+4], off)
	}

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint16(4)) // version
	binary.Write(&unit, binary.LittleEndian, uint32(0)) // debug_abbrev_offset
	unit.WriteByte(8)                                   // address_size
	unit.Write(buf)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(unit.Len()))
	out.Write(unit.Bytes())

	return out.Bytes(), abbrevBuf
}

// headerSize is the byte length of the unit_length + version +
// debug_abbrev_offset + address_size fields preceding the first DIE, for
// a single 32-bit-DWARF-format, version-4 compile unit.
func headerSize() int64 { return 4 + 2 + 4 + 1 }

func sigOf(d *Die) string {
	s := make([]byte, 0, 16)
	s = appendUvarint(s, d.Tag)
	if len(d.Children) > 0 {
		s = append(s, 1)
	} else {
		s = append(s, 0)
	}
	for _, a := range d.Attrs {
		s = appendUvarint(s, a.At)
		s = appendUvarint(s, a.Form)
	}
	return string(s)
}

func appendUvarint(b []byte, v uint64) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(b, tmp[:n]...)
}

func buildAbbrevTable(root *Die) ([]byte, map[string]int) {
	codes := make(map[string]int)
	var order []*Die

	var walk func(d *Die)
	walk = func(d *Die) {
		sig := sigOf(d)
		if _, ok := codes[sig]; !ok {
			codes[sig] = len(order) + 1
			order = append(order, d)
		}
		for _, c := range d.Children {
			walk(c)
		}
	}
	walk(root)

	var abbrev bytes.Buffer
	for _, d := range order {
		writeAbbrevDecl(&abbrev, uint64(codes[sigOf(d)]), d.Tag, len(d.Children) > 0, toAttrForms(d.Attrs))
	}
	abbrev.WriteByte(0)
	return abbrev.Bytes(), codes
}

func toAttrForms(attrs []DieAttr) []attrForm {
	out := make([]attrForm, len(attrs))
	for i, a := range attrs {
		out[i] = attrForm{attr: a.At, form: a.Form}
	}
	return out
}
