package lineprog

import (
	"fmt"

	"github.com/kflux/blazesym-go/internal/breader"
)

// FileEntry is one entry of a line program's file name table.
type FileEntry struct {
	Name     string
	DirIndex uint64
}

// Header is a decoded DWARF line number program header (DWARF v2-v4, and
// the subset of v5's file/directory table needed to recover file names).
type Header struct {
	Version               uint16
	AddressSize           uint8 // v5 only; 0 means "not recorded"
	MinInstructionLength  uint8
	MaxOpsPerInstruction  uint8 // 1 for DWARF < 4
	DefaultIsStmt         bool
	LineBase              int8
	LineRange             uint8
	OpcodeBase            uint8
	StandardOpcodeLengths []uint8
	IncludeDirectories    []string
	FileNames             []FileEntry

	// ProgramStart/ProgramEnd bound the opcode stream following the
	// header, as offsets into the same .debug_line section buffer the
	// header was parsed from.
	ProgramStart int64
	ProgramEnd   int64

	unitLength   uint64
	is64DwarfFmt bool
}

// DW_FORM / DW_LNCT constants used by the v5 directory/file format
// descriptors. Only the subset actually emitted by mainstream compilers is
// handled; anything else is skipped using its form's known encoded width.
const (
	dwLNCTPath           = 0x1
	dwLNCTDirectoryIndex = 0x2
	dwLNCTTimestamp      = 0x3
	dwLNCTSize           = 0x4
	dwLNCTMD5            = 0x5

	dwFormString   = 0x08
	dwFormStrp     = 0x0e
	dwFormLineStrp = 0x1f
	dwFormUdata    = 0x0f
	dwFormData1    = 0x0b
	dwFormData2    = 0x05
	dwFormData4    = 0x06
	dwFormData8    = 0x07
	dwFormData16   = 0x1e
	dwFormBlock    = 0x09
)

// ParseHeader decodes one line-number program header starting at off
// within data (the raw .debug_line section). lineStr and str are the
// optional .debug_line_str and .debug_str sections, used to resolve
// DW_FORM_line_strp and DW_FORM_strp references in DWARF 5 headers;
// either may be nil for DWARF 2-4 input.
func ParseHeader(data, lineStr, str []byte, off int64) (*Header, error) {
	r := breader.OpenBytes(data)

	unitLength, err := r.U32(off)
	if err != nil {
		return nil, fmt.Errorf("lineprog: read unit_length: %w", err)
	}
	cur := off + 4
	is64 := false
	ulen := uint64(unitLength)
	if unitLength == 0xffffffff {
		is64 = true
		u64, err := r.U64(cur)
		if err != nil {
			return nil, fmt.Errorf("lineprog: read 64-bit unit_length: %w", err)
		}
		ulen = u64
		cur += 8
	}
	unitEnd := cur + int64(ulen)

	version, err := r.U16(cur)
	if err != nil {
		return nil, fmt.Errorf("lineprog: read version: %w", err)
	}
	cur += 2

	h := &Header{Version: version, unitLength: ulen, is64DwarfFmt: is64}

	if version >= 5 {
		addrSize, err := r.U8(cur)
		if err != nil {
			return nil, fmt.Errorf("lineprog: read address_size: %w", err)
		}
		cur++
		h.AddressSize = addrSize
		// seg_selector_size
		cur++
	}

	var headerLength uint64
	if is64 {
		v, err := r.U64(cur)
		if err != nil {
			return nil, fmt.Errorf("lineprog: read header_length: %w", err)
		}
		headerLength = v
		cur += 8
	} else {
		v, err := r.U32(cur)
		if err != nil {
			return nil, fmt.Errorf("lineprog: read header_length: %w", err)
		}
		headerLength = uint64(v)
		cur += 4
	}
	programStart := cur + int64(headerLength)

	minInst, err := r.U8(cur)
	if err != nil {
		return nil, err
	}
	cur++
	h.MinInstructionLength = minInst

	h.MaxOpsPerInstruction = 1
	if version >= 4 {
		v, err := r.U8(cur)
		if err != nil {
			return nil, err
		}
		cur++
		h.MaxOpsPerInstruction = v
	}

	defaultIsStmt, err := r.U8(cur)
	if err != nil {
		return nil, err
	}
	cur++
	h.DefaultIsStmt = defaultIsStmt != 0

	lineBase, err := r.U8(cur)
	if err != nil {
		return nil, err
	}
	cur++
	h.LineBase = int8(lineBase)

	lineRange, err := r.U8(cur)
	if err != nil {
		return nil, err
	}
	cur++
	if lineRange == 0 {
		return nil, fmt.Errorf("lineprog: line_range is zero")
	}
	h.LineRange = lineRange

	opcodeBase, err := r.U8(cur)
	if err != nil {
		return nil, err
	}
	cur++
	if opcodeBase == 0 {
		return nil, fmt.Errorf("lineprog: opcode_base is zero")
	}
	h.OpcodeBase = opcodeBase

	h.StandardOpcodeLengths = make([]uint8, opcodeBase-1)
	for i := range h.StandardOpcodeLengths {
		v, err := r.U8(cur)
		if err != nil {
			return nil, err
		}
		cur++
		h.StandardOpcodeLengths[i] = v
	}

	if version >= 5 {
		cur, err = parseV5Tables(r, lineStr, str, cur, h)
	} else {
		cur, err = parseLegacyTables(r, cur, h)
	}
	if err != nil {
		return nil, err
	}

	h.ProgramStart = programStart
	h.ProgramEnd = unitEnd
	return h, nil
}

func parseLegacyTables(r *breader.Reader, cur int64, h *Header) (int64, error) {
	h.IncludeDirectories = append(h.IncludeDirectories, "") // index 0 is the CU's own directory
	for {
		s, next, err := r.CString(cur)
		if err != nil {
			return 0, fmt.Errorf("lineprog: include_directories: %w", err)
		}
		cur = next
		if s == "" {
			break
		}
		h.IncludeDirectories = append(h.IncludeDirectories, s)
	}

	h.FileNames = append(h.FileNames, FileEntry{}) // index 0 unused pre-v5
	for {
		name, next, err := r.CString(cur)
		if err != nil {
			return 0, fmt.Errorf("lineprog: file_names: %w", err)
		}
		cur = next
		if name == "" {
			break
		}
		dirIdx, next, err := r.Uleb128(cur)
		if err != nil {
			return 0, err
		}
		cur = next
		_, next, err = r.Uleb128(cur) // mtime
		if err != nil {
			return 0, err
		}
		cur = next
		_, next, err = r.Uleb128(cur) // length
		if err != nil {
			return 0, err
		}
		cur = next
		h.FileNames = append(h.FileNames, FileEntry{Name: name, DirIndex: dirIdx})
	}
	return cur, nil
}

type formatDescriptor struct {
	contentType uint64
	form        uint64
}

func parseV5Tables(r *breader.Reader, lineStr, str []byte, cur int64, h *Header) (int64, error) {
	dirs, next, err := readV5Table(r, lineStr, str, cur)
	if err != nil {
		return 0, fmt.Errorf("lineprog: directory table: %w", err)
	}
	cur = next
	for _, e := range dirs {
		h.IncludeDirectories = append(h.IncludeDirectories, e.path)
	}

	files, next, err := readV5Table(r, lineStr, str, cur)
	if err != nil {
		return 0, fmt.Errorf("lineprog: file name table: %w", err)
	}
	cur = next
	for _, e := range files {
		h.FileNames = append(h.FileNames, FileEntry{Name: e.path, DirIndex: e.dirIndex})
	}
	return cur, nil
}

type v5Entry struct {
	path     string
	dirIndex uint64
}

func readV5Table(r *breader.Reader, lineStr, str []byte, cur int64) ([]v5Entry, int64, error) {
	formatCount, err := r.U8(cur)
	if err != nil {
		return nil, 0, err
	}
	cur++

	formats := make([]formatDescriptor, formatCount)
	for i := range formats {
		ct, next, err := r.Uleb128(cur)
		if err != nil {
			return nil, 0, err
		}
		cur = next
		form, next, err := r.Uleb128(cur)
		if err != nil {
			return nil, 0, err
		}
		cur = next
		formats[i] = formatDescriptor{contentType: ct, form: form}
	}

	count, next, err := r.Uleb128(cur)
	if err != nil {
		return nil, 0, err
	}
	cur = next

	entries := make([]v5Entry, count)
	for i := uint64(0); i < count; i++ {
		var e v5Entry
		for _, f := range formats {
			var sval string
			var uval uint64
			cur, sval, uval, err = readFormValue(r, lineStr, str, cur, f.form)
			if err != nil {
				return nil, 0, err
			}
			switch f.contentType {
			case dwLNCTPath:
				e.path = sval
			case dwLNCTDirectoryIndex:
				e.dirIndex = uval
			}
		}
		entries[i] = e
	}
	return entries, cur, nil
}

func readFormValue(r *breader.Reader, lineStr, str []byte, cur int64, form uint64) (int64, string, uint64, error) {
	switch form {
	case dwFormString:
		s, next, err := r.CString(cur)
		return next, s, 0, err
	case dwFormLineStrp:
		off, err := r.U32(cur)
		if err != nil {
			return 0, "", 0, err
		}
		s := cStringAt(lineStr, int64(off))
		return cur + 4, s, 0, nil
	case dwFormStrp:
		off, err := r.U32(cur)
		if err != nil {
			return 0, "", 0, err
		}
		s := cStringAt(str, int64(off))
		return cur + 4, s, 0, nil
	case dwFormUdata:
		v, next, err := r.Uleb128(cur)
		return next, "", v, err
	case dwFormData1:
		v, err := r.U8(cur)
		return cur + 1, "", uint64(v), err
	case dwFormData2:
		v, err := r.U16(cur)
		return cur + 2, "", uint64(v), err
	case dwFormData4:
		v, err := r.U32(cur)
		return cur + 4, "", uint64(v), err
	case dwFormData8:
		v, err := r.U64(cur)
		return cur + 8, "", v, err
	case dwFormData16:
		return cur + 16, "", 0, nil
	case dwFormBlock:
		n, next, err := r.Uleb128(cur)
		if err != nil {
			return 0, "", 0, err
		}
		return next + int64(n), "", 0, nil
	default:
		return 0, "", 0, fmt.Errorf("lineprog: unsupported DW_FORM %#x in v5 table", form)
	}
}

func cStringAt(data []byte, off int64) string {
	if data == nil || off < 0 || off >= int64(len(data)) {
		return ""
	}
	r := breader.OpenBytes(data)
	s, _, err := r.CString(off)
	if err != nil {
		return ""
	}
	return s
}

// FileName resolves a 1-based (pre-v5) or 0-based (v5+) file index to its
// path, joining the recorded directory when the name itself is relative.
func (h *Header) FileName(index uint64) string {
	if index >= uint64(len(h.FileNames)) {
		return ""
	}
	f := h.FileNames[index]
	if f.Name == "" {
		return ""
	}
	if len(f.Name) > 0 && f.Name[0] == '/' {
		return f.Name
	}
	if f.DirIndex < uint64(len(h.IncludeDirectories)) {
		dir := h.IncludeDirectories[f.DirIndex]
		if dir != "" {
			return dir + "/" + f.Name
		}
	}
	return f.Name
}
