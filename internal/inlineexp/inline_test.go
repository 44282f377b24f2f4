package inlineexp

import (
	"debug/dwarf"
	"testing"

	"github.com/kflux/blazesym-go/internal/dwarfx"
	"github.com/kflux/blazesym-go/internal/testutil"
)

func buildUnit(t *testing.T, root *testutil.Die) *dwarfx.Index {
	t.Helper()
	info, abbrev := testutil.BuildCustomCU(root)
	data, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	ix, err := dwarfx.New(data, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarfx.New: %v", err)
	}
	return ix
}

func lowHigh(low, high uint64) []testutil.DieAttr {
	return []testutil.DieAttr{
		{At: testutil.DwAtLowpc, Form: testutil.DwFormAddr, UVal: low},
		{At: testutil.DwAtHighpc, Form: testutil.DwFormData8, UVal: high - low},
	}
}

func TestResolveNoInlining(t *testing.T) {
	outer := &testutil.Die{
		Tag: testutil.DwTagSubprogram,
		Attrs: append([]testutil.DieAttr{
			{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "outer"},
		}, lowHigh(0x1000, 0x1100)...),
	}
	root := &testutil.Die{
		Tag:      testutil.DwTagCompileUnit,
		Attrs:    []testutil.DieAttr{{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "src.c"}},
		Children: []*testutil.Die{outer},
	}
	ix := buildUnit(t, root)
	u := ix.Units()[0]

	frames, cf, err := Resolve(ix, u, 0x1050, "src.c", 50, 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("frames = %+v, want none (no inlining)", frames)
	}
	if cf == nil || cf.Name != "outer" || cf.HasCallSite {
		t.Fatalf("cf = %+v, want {outer, HasCallSite:false}", cf)
	}
}

func TestResolveSingleInline(t *testing.T) {
	inlined := &testutil.Die{
		Tag: testutil.DwTagInlinedSubroutine,
		Attrs: append([]testutil.DieAttr{
			{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "inner"},
			{At: testutil.DwAtCallFile, Form: testutil.DwFormUdata, UVal: 1},
			{At: testutil.DwAtCallLine, Form: testutil.DwFormUdata, UVal: 42},
			{At: testutil.DwAtCallColumn, Form: testutil.DwFormUdata, UVal: 5},
		}, lowHigh(0x1010, 0x1020)...),
	}
	outer := &testutil.Die{
		Tag: testutil.DwTagSubprogram,
		Attrs: append([]testutil.DieAttr{
			{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "outer"},
		}, lowHigh(0x1000, 0x1100)...),
		Children: []*testutil.Die{inlined},
	}
	root := &testutil.Die{
		Tag:      testutil.DwTagCompileUnit,
		Attrs:    []testutil.DieAttr{{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "src.c"}},
		Children: []*testutil.Die{outer},
	}
	ix := buildUnit(t, root)
	u := ix.Units()[0]

	// Address inside the inlined range: expect one inline frame plus the
	// concrete outer frame.
	frames, cf, err := Resolve(ix, u, 0x1015, "inner.c", 7, 3)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("frames = %+v, want exactly one inline frame", frames)
	}
	if frames[0].FunctionName != "inner" || frames[0].File != "inner.c" || frames[0].Line != 7 {
		t.Fatalf("frames[0] = %+v", frames[0])
	}
	if cf == nil || cf.Name != "outer" || !cf.HasCallSite {
		t.Fatalf("cf = %+v, want outer with a call site", cf)
	}
	if cf.CallFile == "" && cf.CallLine != 42 {
		t.Fatalf("cf call site = %+v, want line 42", cf)
	}
	if cf.CallLine != 42 || cf.CallColumn != 5 {
		t.Fatalf("cf call site = %+v, want line 42 col 5", cf)
	}

	// Address outside the inlined range but still inside outer: no
	// inline frames at all.
	frames2, cf2, err := Resolve(ix, u, 0x1090, "src.c", 99, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(frames2) != 0 {
		t.Fatalf("frames2 = %+v, want none", frames2)
	}
	if cf2 == nil || cf2.HasCallSite {
		t.Fatalf("cf2 = %+v, want no call site", cf2)
	}
}

func TestResolveNestedInline(t *testing.T) {
	innermost := &testutil.Die{
		Tag: testutil.DwTagInlinedSubroutine,
		Attrs: append([]testutil.DieAttr{
			{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "deepest"},
			{At: testutil.DwAtCallFile, Form: testutil.DwFormUdata, UVal: 1},
			{At: testutil.DwAtCallLine, Form: testutil.DwFormUdata, UVal: 9},
			{At: testutil.DwAtCallColumn, Form: testutil.DwFormUdata, UVal: 2},
		}, lowHigh(0x1012, 0x1018)...),
	}
	middle := &testutil.Die{
		Tag: testutil.DwTagInlinedSubroutine,
		Attrs: append([]testutil.DieAttr{
			{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "middle"},
			{At: testutil.DwAtCallFile, Form: testutil.DwFormUdata, UVal: 1},
			{At: testutil.DwAtCallLine, Form: testutil.DwFormUdata, UVal: 42},
			{At: testutil.DwAtCallColumn, Form: testutil.DwFormUdata, UVal: 5},
		}, lowHigh(0x1010, 0x1020)...),
		Children: []*testutil.Die{innermost},
	}
	outer := &testutil.Die{
		Tag: testutil.DwTagSubprogram,
		Attrs: append([]testutil.DieAttr{
			{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "outer"},
		}, lowHigh(0x1000, 0x1100)...),
		Children: []*testutil.Die{middle},
	}
	root := &testutil.Die{
		Tag:      testutil.DwTagCompileUnit,
		Attrs:    []testutil.DieAttr{{At: testutil.DwAtName, Form: testutil.DwFormString, SVal: "src.c"}},
		Children: []*testutil.Die{outer},
	}
	ix := buildUnit(t, root)
	u := ix.Units()[0]

	frames, cf, err := Resolve(ix, u, 0x1015, "deepest.c", 123, 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %+v, want 2", frames)
	}
	if frames[0].FunctionName != "deepest" || frames[0].Line != 123 {
		t.Fatalf("frames[0] = %+v", frames[0])
	}
	if frames[1].FunctionName != "middle" || frames[1].Line != 9 {
		t.Fatalf("frames[1] = %+v, want middle at line 9 (deepest's call site)", frames[1])
	}
	if cf == nil || cf.Name != "outer" || cf.CallLine != 42 {
		t.Fatalf("cf = %+v, want outer with call site at line 42", cf)
	}
}
