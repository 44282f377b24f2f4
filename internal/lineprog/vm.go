// Package lineprog evaluates the DWARF line-number program bytecode
// described in the DWARF standard §6.2: a per-compilation-unit state
// machine that, driven by a short opcode stream, emits address→(file,
// line, column) rows. It is built directly against raw .debug_line bytes
// via internal/breader rather than through a third-party line-table
// decoder, since reconstructing this exact state machine is the point.
package lineprog

import (
	"fmt"
	"sort"

	"github.com/kflux/blazesym-go/internal/breader"
)

// Row is one emitted line table entry, file-local (address is a CU-file
// offset, not yet load-adjusted).
type Row struct {
	Address     uint64
	File        string
	Line        uint32
	Column      uint32
	IsStmt      bool
	EndSequence bool
}

// Standard DWARF line number opcodes (DW_LNS_*).
const (
	dwLNSCopy             = 0x01
	dwLNSAdvancePC        = 0x02
	dwLNSAdvanceLine      = 0x03
	dwLNSSetFile          = 0x04
	dwLNSSetColumn        = 0x05
	dwLNSNegateStmt       = 0x06
	dwLNSSetBasicBlock    = 0x07
	dwLNSConstAddPC       = 0x08
	dwLNSFixedAdvancePC   = 0x09
	dwLNSSetPrologueEnd   = 0x0a
	dwLNSSetEpilogueBegin = 0x0b
	dwLNSSetISA           = 0x0c
)

// Extended opcodes (DW_LNE_*).
const (
	dwLNEEndSequence      = 0x01
	dwLNESetAddress       = 0x02
	dwLNEDefineFile       = 0x03
	dwLNESetDiscriminator = 0x04
)

type registers struct {
	address       uint64
	opIndex       uint8
	file          uint64
	line          int64
	column        uint64
	isStmt        bool
	basicBlock    bool
	endSequence   bool
	prologueEnd   bool
	epilogueBegin bool
	isa           uint64
	discriminator uint64
}

func newRegisters(h *Header) registers {
	return registers{file: 1, line: 1, isStmt: h.DefaultIsStmt}
}

// Run evaluates the program bytes bounded by h.ProgramStart/h.ProgramEnd
// within data and returns the emitted rows in program order (not yet
// sorted by address — Build does that once all sequences of a CU
// have been evaluated).
func Run(data []byte, h *Header) ([]Row, error) {
	r := breader.OpenBytes(data)
	cur := h.ProgramStart
	end := h.ProgramEnd

	var rows []Row
	regs := newRegisters(h)

	appendRow := func() {
		rows = append(rows, Row{
			Address:     regs.address,
			File:        h.FileName(regs.file),
			Line:        clampLine(regs.line),
			Column:      uint32(regs.column),
			IsStmt:      regs.isStmt,
			EndSequence: regs.endSequence,
		})
	}

	advance := func(opAdvance uint64) {
		if h.MaxOpsPerInstruction <= 1 {
			regs.address += opAdvance * uint64(h.MinInstructionLength)
			return
		}
		total := uint64(regs.opIndex) + opAdvance
		regs.address += uint64(h.MinInstructionLength) * (total / uint64(h.MaxOpsPerInstruction))
		regs.opIndex = uint8(total % uint64(h.MaxOpsPerInstruction))
	}

	for cur < end {
		opcode, err := r.U8(cur)
		if err != nil {
			return nil, fmt.Errorf("lineprog: read opcode: %w", err)
		}
		cur++

		switch {
		case opcode == 0:
			// extended opcode
			length, next, err := r.Uleb128(cur)
			if err != nil {
				return nil, err
			}
			cur = next
			opEnd := cur + int64(length)
			extOp, err := r.U8(cur)
			if err != nil {
				return nil, err
			}
			switch extOp {
			case dwLNEEndSequence:
				regs.endSequence = true
				appendRow()
				regs = newRegisters(h)
			case dwLNESetAddress:
				addrSize := int(opEnd - (cur + 1))
				addr, err := readAddr(r, cur+1, addrSize)
				if err != nil {
					return nil, err
				}
				regs.address = addr
				regs.opIndex = 0
			case dwLNEDefineFile:
				// Legacy in-program file definition (pre-v5): appends
				// to the header's file table so later DW_LNS_set_file
				// opcodes can reference it.
				name, next, err := r.CString(cur + 1)
				if err != nil {
					return nil, err
				}
				dirIdx, next, err := r.Uleb128(next)
				if err != nil {
					return nil, err
				}
				if _, next, err = r.Uleb128(next); err != nil { // mtime
					return nil, err
				}
				if _, _, err = r.Uleb128(next); err != nil { // length
					return nil, err
				}
				h.FileNames = append(h.FileNames, FileEntry{Name: name, DirIndex: dirIdx})
			case dwLNESetDiscriminator:
				disc, _, err := r.Uleb128(cur + 1)
				if err != nil {
					return nil, err
				}
				regs.discriminator = disc
			}
			cur = opEnd
			if extOp == dwLNEEndSequence {
				regs.discriminator = 0
			}

		case opcode < h.OpcodeBase:
			// standard opcode
			switch opcode {
			case dwLNSCopy:
				appendRow()
				regs.basicBlock = false
				regs.prologueEnd = false
				regs.epilogueBegin = false
				regs.discriminator = 0
			case dwLNSAdvancePC:
				adv, next, err := r.Uleb128(cur)
				if err != nil {
					return nil, err
				}
				cur = next
				advance(adv)
			case dwLNSAdvanceLine:
				delta, next, err := r.Sleb128(cur)
				if err != nil {
					return nil, err
				}
				cur = next
				regs.line += delta
			case dwLNSSetFile:
				f, next, err := r.Uleb128(cur)
				if err != nil {
					return nil, err
				}
				cur = next
				regs.file = f
			case dwLNSSetColumn:
				c, next, err := r.Uleb128(cur)
				if err != nil {
					return nil, err
				}
				cur = next
				regs.column = c
			case dwLNSNegateStmt:
				regs.isStmt = !regs.isStmt
			case dwLNSSetBasicBlock:
				regs.basicBlock = true
			case dwLNSConstAddPC:
				adjusted := uint64(255-h.OpcodeBase) / uint64(h.LineRange)
				advance(adjusted)
			case dwLNSFixedAdvancePC:
				v, err := r.U16(cur)
				if err != nil {
					return nil, err
				}
				cur += 2
				regs.address += uint64(v)
				regs.opIndex = 0
			case dwLNSSetPrologueEnd:
				regs.prologueEnd = true
			case dwLNSSetEpilogueBegin:
				regs.epilogueBegin = true
			case dwLNSSetISA:
				v, next, err := r.Uleb128(cur)
				if err != nil {
					return nil, err
				}
				cur = next
				regs.isa = v
			default:
				// Unknown standard opcode: skip its declared operands.
				n := int(h.StandardOpcodeLengths[opcode-1])
				for i := 0; i < n; i++ {
					_, next, err := r.Uleb128(cur)
					if err != nil {
						return nil, err
					}
					cur = next
				}
			}

		default:
			// special opcode
			adjusted := uint64(opcode - h.OpcodeBase)
			opAdvance := adjusted / uint64(h.LineRange)
			lineAdvance := int64(h.LineBase) + int64(adjusted%uint64(h.LineRange))
			advance(opAdvance)
			regs.line += lineAdvance
			appendRow()
			regs.basicBlock = false
			regs.prologueEnd = false
			regs.epilogueBegin = false
			regs.discriminator = 0
		}
	}

	return rows, nil
}

func readAddr(r *breader.Reader, off int64, size int) (uint64, error) {
	switch size {
	case 8:
		return r.U64(off)
	case 4:
		v, err := r.U32(off)
		return uint64(v), err
	default:
		return 0, fmt.Errorf("lineprog: unsupported DW_LNE_set_address width %d", size)
	}
}

func clampLine(line int64) uint32 {
	if line < 0 {
		return 0
	}
	return uint32(line)
}

// Table is a CU's fully evaluated line program, sorted by address for
// binary-search resolution.
type Table struct {
	rows []Row
}

// Build evaluates the program and sorts its rows by address, preserving
// program order for ties (later rows at the same address shadow earlier
// ones, matching how producers emit a statement row followed by a
// more-specific one at the same PC).
func Build(data []byte, h *Header) (*Table, error) {
	rows, err := Run(data, h)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })
	return &Table{rows: rows}, nil
}

// Resolve returns the row governing address: the last row with
// Address <= addr that is not an end-of-sequence marker, provided addr
// falls before the next sequence's end. Returns ok=false if addr is not
// covered by any sequence in the table.
func (t *Table) Resolve(addr uint64) (Row, bool) {
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].Address > addr })
	if i == 0 {
		return Row{}, false
	}
	row := t.rows[i-1]
	if row.EndSequence {
		return Row{}, false
	}
	return row, true
}

// Rows exposes the evaluated, address-sorted rows (used by inline-frame
// expansion and tests).
func (t *Table) Rows() []Row { return t.rows }
