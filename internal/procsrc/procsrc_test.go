package procsrc

import (
	"strings"
	"testing"
)

func exampleKallsyms() string {
	return strings.Join([]string{
		"0000000000000000 t unused_entry",
		"ffffffff81000000 T start_kernel",
		"ffffffff81000100 T rest_init",
		"ffffffffa0000000 t module_func\t[nvidia]",
		"malformed line without an address",
	}, "\n") + "\n"
}

func TestParseKallsyms(t *testing.T) {
	entries, err := ParseKallsyms(strings.NewReader(exampleKallsyms()))
	if err != nil {
		t.Fatalf("ParseKallsyms: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4 (malformed line skipped)", len(entries))
	}

	var found bool
	for _, e := range entries {
		if e.Name == "module_func" {
			found = true
			if e.Module != "nvidia" {
				t.Fatalf("Module = %q, want nvidia", e.Module)
			}
		}
	}
	if !found {
		t.Fatal("expected module_func entry")
	}
}

func TestKallsymsFuncSymbolsSizing(t *testing.T) {
	entries, err := ParseKallsyms(strings.NewReader(exampleKallsyms()))
	if err != nil {
		t.Fatalf("ParseKallsyms: %v", err)
	}
	syms := KallsymsFuncSymbols(entries)

	var start *KallsymsSymbol
	for i := range syms {
		if syms[i].Name == "start_kernel" {
			start = &syms[i]
		}
	}
	if start == nil {
		t.Fatal("expected start_kernel entry")
	}
	if start.Start != 0xffffffff81000000 {
		t.Fatalf("Start = %#x, want 0xffffffff81000000", start.Start)
	}
	if start.Size != 0x100 {
		t.Fatalf("Size = %#x, want 0x100 (next address in the same module)", start.Size)
	}
}

// TestKallsymsFuncSymbolsAliasedAddress: weak aliases sharing an address
// all get the full size to the next distinct address, in deterministic
// (name) order.
func TestKallsymsFuncSymbolsAliasedAddress(t *testing.T) {
	listing := strings.Join([]string{
		"ffffffff81000000 T start_kernel",
		"ffffffff81000000 W start_kernel_alias",
		"ffffffff81000100 T rest_init",
	}, "\n") + "\n"

	entries, err := ParseKallsyms(strings.NewReader(listing))
	if err != nil {
		t.Fatalf("ParseKallsyms: %v", err)
	}
	syms := KallsymsFuncSymbols(entries)
	if len(syms) != 3 {
		t.Fatalf("syms = %d, want 3", len(syms))
	}

	if syms[0].Name != "start_kernel" || syms[1].Name != "start_kernel_alias" {
		t.Fatalf("tied entries not in name order: %+v", syms[:2])
	}
	for _, s := range syms[:2] {
		if s.Size != 0x100 {
			t.Fatalf("%s: Size = %#x, want 0x100 (next distinct address)", s.Name, s.Size)
		}
	}
}

func TestParseMaps(t *testing.T) {
	listing := strings.Join([]string{
		"555555554000-555555556000 r-xp 00001000 08:01 123456 /usr/bin/example",
		"7ffff7a00000-7ffff7a20000 r--p 00000000 08:01 654321 /usr/lib/libc.so.6",
		"7ffff7fff000-7ffff8000000 rw-p 00000000 00:00 0 [stack]",
	}, "\n") + "\n"

	entries, err := ParseMaps(strings.NewReader(listing))
	if err != nil {
		t.Fatalf("ParseMaps: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (only the executable file-backed mapping)", len(entries))
	}
	e := entries[0]
	if e.Path != "/usr/bin/example" || e.Start != 0x555555554000 || e.FileOffset != 0x1000 {
		t.Fatalf("entry = %+v", e)
	}
}
