package dwarfx

import (
	"fmt"

	"github.com/kflux/blazesym-go/internal/breader"
)

// arangesUnit is one .debug_aranges table: the .debug_info offset of the
// compilation unit it describes plus the address ranges it advertises.
type arangesUnit struct {
	infoOffset uint64
	ranges     [][2]uint64
}

// parseAranges decodes the .debug_aranges section: a series of tables,
// each headed by unit_length/version/debug_info_offset/address_size/
// segment_size and followed by (address, length) tuples padded to a
// 2*address_size boundary and terminated by a (0, 0) pair.
func parseAranges(section []byte) ([]arangesUnit, error) {
	r := breader.OpenBytes(section)
	var units []arangesUnit

	var cur int64
	for cur < int64(len(section)) {
		tableStart := cur

		unitLength, err := r.U32(cur)
		if err != nil {
			return nil, fmt.Errorf("dwarfx: aranges unit_length: %w", err)
		}
		cur += 4
		ulen := uint64(unitLength)
		if unitLength == 0xffffffff {
			u64, err := r.U64(cur)
			if err != nil {
				return nil, fmt.Errorf("dwarfx: aranges 64-bit unit_length: %w", err)
			}
			ulen = u64
			cur += 8
		}
		tableEnd := cur + int64(ulen)
		if tableEnd > int64(len(section)) || tableEnd <= cur {
			return nil, fmt.Errorf("dwarfx: aranges table overruns section (end=%d size=%d)", tableEnd, len(section))
		}

		version, err := r.U16(cur)
		if err != nil {
			return nil, err
		}
		cur += 2
		if version != 2 {
			// Skip tables in versions this reader doesn't understand;
			// aranges is only an accelerator.
			cur = tableEnd
			continue
		}

		infoOffset, err := r.U32(cur)
		if err != nil {
			return nil, err
		}
		cur += 4

		addrSize, err := r.U8(cur)
		if err != nil {
			return nil, err
		}
		cur++
		segSize, err := r.U8(cur)
		if err != nil {
			return nil, err
		}
		cur++
		if segSize != 0 || (addrSize != 4 && addrSize != 8) {
			cur = tableEnd
			continue
		}

		// Tuples are aligned to a 2*address_size boundary relative to the
		// start of the table.
		tupleSize := int64(addrSize) * 2
		if rem := (cur - tableStart) % tupleSize; rem != 0 {
			cur += tupleSize - rem
		}

		u := arangesUnit{infoOffset: uint64(infoOffset)}
		for cur+tupleSize <= tableEnd {
			addr, err := readArangesAddr(r, cur, addrSize)
			if err != nil {
				return nil, err
			}
			length, err := readArangesAddr(r, cur+int64(addrSize), addrSize)
			if err != nil {
				return nil, err
			}
			cur += tupleSize
			if addr == 0 && length == 0 {
				break
			}
			u.ranges = append(u.ranges, [2]uint64{addr, addr + length})
		}
		units = append(units, u)
		cur = tableEnd
	}
	return units, nil
}

func readArangesAddr(r *breader.Reader, off int64, size uint8) (uint64, error) {
	if size == 4 {
		v, err := r.U32(off)
		return uint64(v), err
	}
	return r.U64(off)
}
