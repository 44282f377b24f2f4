package dwarfx

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"testing"

	"github.com/kflux/blazesym-go/internal/testutil"
)

// buildArangesTable assembles one version-2 .debug_aranges table with
// 8-byte addresses pointing at the CU at infoOffset.
func buildArangesTable(t *testing.T, infoOffset uint32, ranges [][2]uint64) []byte {
	t.Helper()

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(2)) // version
	binary.Write(&body, binary.LittleEndian, infoOffset)
	body.WriteByte(8) // address_size
	body.WriteByte(0) // segment_size

	// Pad to a 2*address_size boundary, measured from the table start
	// (which includes the 4-byte unit_length prefix).
	for (4+body.Len())%16 != 0 {
		body.WriteByte(0)
	}
	for _, r := range ranges {
		binary.Write(&body, binary.LittleEndian, r[0])
		binary.Write(&body, binary.LittleEndian, r[1]-r[0])
	}
	binary.Write(&body, binary.LittleEndian, uint64(0))
	binary.Write(&body, binary.LittleEndian, uint64(0))

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestParseAranges(t *testing.T) {
	section := buildArangesTable(t, 0, [][2]uint64{{0x1000, 0x1100}, {0x2000, 0x2040}})

	units, err := parseAranges(section)
	if err != nil {
		t.Fatalf("parseAranges: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("units = %d, want 1", len(units))
	}
	u := units[0]
	if u.infoOffset != 0 {
		t.Fatalf("infoOffset = %d, want 0", u.infoOffset)
	}
	if len(u.ranges) != 2 || u.ranges[0] != [2]uint64{0x1000, 0x1100} || u.ranges[1] != [2]uint64{0x2000, 0x2040} {
		t.Fatalf("ranges = %+v", u.ranges)
	}
}

// TestIndexArangesSupplement covers the accelerator path: a CU whose root
// DIE carries no range attributes still becomes addressable through its
// .debug_aranges table.
func TestIndexArangesSupplement(t *testing.T) {
	root := &testutil.Die{
		Tag:   testutil.DwTagCompileUnit,
		Attrs: []testutil.DieAttr{{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "bare.c"}},
	}
	info, abbrev := testutil.BuildCustomCU(root)
	data, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}

	aranges := buildArangesTable(t, 0, [][2]uint64{{0x5000, 0x5100}})

	ix, err := New(data, nil, nil, nil, aranges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	u := ix.UnitForAddress(0x5050)
	if u == nil {
		t.Fatal("expected the aranges-supplemented unit to cover 0x5050")
	}
	if u.Name() != "bare.c" {
		t.Fatalf("Name() = %q, want bare.c", u.Name())
	}
	if ix.UnitForAddress(0x5100) != nil {
		t.Fatal("expected no unit at the range's exclusive end")
	}
}
