// Package testutil builds minimal, valid ELF64 byte buffers in memory so
// the engine's internal packages can exercise debug/elf, DWARF, and line
// program decoding without a real compiler toolchain on hand. It is test
// support only; nothing under internal/ imports it outside _test.go files.
package testutil

import (
	"bytes"
	"encoding/binary"
)

// ELFSymbol describes one .symtab entry to embed in a built object.
type ELFSymbol struct {
	Name  string
	Value uint64
	Size  uint64
	Info  byte // elf.ST_INFO(bind, type)
	Shndx uint16
}

// ELFSection describes one extra section to embed verbatim, e.g.
// ".debug_line" or ".debug_info" raw bytes.
type ELFSection struct {
	Name string
	Data []byte
}

// ELFBuildSpec configures BuildELF64.
type ELFBuildSpec struct {
	Entry     uint64
	LoadVaddr uint64 // PT_LOAD virtual address; the whole file is mapped here
	Symbols   []ELFSymbol
	Sections  []ELFSection
}

const (
	etExec    = 2
	emX8664   = 62
	ptLoad    = 1
	shtNull   = 0
	shtProgB  = 1
	shtSymtab = 2
	shtStrtab = 3
	shfAlloc  = 0x2
	shfExec   = 0x4
)

// BuildELF64 assembles a minimal little-endian ELF64 executable: one
// PT_LOAD segment covering the whole file, a .text placeholder, a
// .symtab/.strtab pair built from spec.Symbols, and any extra sections
// supplied verbatim (used for synthetic .debug_line/.debug_ranges bytes).
// It returns the complete file image.
func BuildELF64(spec ELFBuildSpec) []byte {
	const ehsize = 64
	const phentsize = 56
	const shentsize = 64

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0) // index 0 is the empty string
	nameOff := func(name string) uint32 {
		off := uint32(shstrtab.Len())
		shstrtab.WriteString(name)
		shstrtab.WriteByte(0)
		return off
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symNameOff := func(name string) uint32 {
		off := uint32(strtab.Len())
		strtab.WriteString(name)
		strtab.WriteByte(0)
		return off
	}

	// Layout: header, then the single phdr, then section payloads back to
	// back, then the section header table. Offsets are computed as we go.
	header := make([]byte, ehsize)
	phdr := make([]byte, phentsize)

	type builtSection struct {
		name    uint32
		typ     uint32
		flags   uint64
		addr    uint64
		offset  uint64
		size    uint64
		link    uint32
		info    uint32
		entsize uint64
	}

	var sections []builtSection
	var body bytes.Buffer
	bodyStart := uint64(ehsize + phentsize)

	// null section
	sections = append(sections, builtSection{})

	// .text: a single ret-like placeholder payload, just enough bytes to
	// give symbols something to point into.
	text := make([]byte, 16)
	textOff := bodyStart + uint64(body.Len())
	body.Write(text)
	sections = append(sections, builtSection{
		name:   nameOff(".text"),
		typ:    shtProgB,
		flags:  shfAlloc | shfExec,
		addr:   spec.LoadVaddr,
		offset: textOff,
		size:   uint64(len(text)),
	})

	// extra verbatim sections (e.g. .debug_line)
	for _, s := range spec.Sections {
		off := bodyStart + uint64(body.Len())
		body.Write(s.Data)
		sections = append(sections, builtSection{
			name:   nameOff(s.Name),
			typ:    shtProgB,
			offset: off,
			size:   uint64(len(s.Data)),
		})
	}

	// .symtab
	symtabIdx := 0
	if len(spec.Symbols) > 0 {
		var symBuf bytes.Buffer
		// index 0 is the null symbol (24 zero bytes)
		symBuf.Write(make([]byte, 24))
		for _, s := range spec.Symbols {
			var ent [24]byte
			binary.LittleEndian.PutUint32(ent[0:4], symNameOff(s.Name))
			ent[4] = s.Info
			ent[5] = 0
			binary.LittleEndian.PutUint16(ent[6:8], s.Shndx)
			binary.LittleEndian.PutUint64(ent[8:16], s.Value)
			binary.LittleEndian.PutUint64(ent[16:24], s.Size)
			symBuf.Write(ent[:])
		}
		symOff := bodyStart + uint64(body.Len())
		body.Write(symBuf.Bytes())
		symtabIdx = len(sections)
		sections = append(sections, builtSection{
			name:    nameOff(".symtab"),
			typ:     shtSymtab,
			offset:  symOff,
			size:    uint64(symBuf.Len()),
			link:    0, // patched below once .strtab's index is known
			info:    1, // index of first non-local symbol; unused by our reader
			entsize: 24,
		})
	}

	// .strtab
	strtabIdx := 0
	if strtab.Len() > 1 {
		strOff := bodyStart + uint64(body.Len())
		body.Write(strtab.Bytes())
		strtabIdx = len(sections)
		sections = append(sections, builtSection{
			name:   nameOff(".strtab"),
			typ:    shtStrtab,
			offset: strOff,
			size:   uint64(strtab.Len()),
		})
		if symtabIdx != 0 {
			sections[symtabIdx].link = uint32(strtabIdx)
		}
	}

	// .shstrtab
	shstrOff := bodyStart + uint64(body.Len())
	body.Write(shstrtab.Bytes())
	shstrIdx := len(sections)
	sections = append(sections, builtSection{
		name:   nameOff(".shstrtab"),
		typ:    shtStrtab,
		offset: shstrOff,
		size:   uint64(shstrtab.Len()),
	})

	shoff := bodyStart + uint64(body.Len())

	// program header: one PT_LOAD spanning the whole file.
	fileSize := shoff + uint64(len(sections))*shentsize
	binary.LittleEndian.PutUint32(phdr[0:4], ptLoad)
	binary.LittleEndian.PutUint32(phdr[4:8], 0x5) // R+X
	binary.LittleEndian.PutUint64(phdr[8:16], 0)  // p_offset
	binary.LittleEndian.PutUint64(phdr[16:24], spec.LoadVaddr)
	binary.LittleEndian.PutUint64(phdr[24:32], spec.LoadVaddr)
	binary.LittleEndian.PutUint64(phdr[32:40], fileSize)
	binary.LittleEndian.PutUint64(phdr[40:48], fileSize)
	binary.LittleEndian.PutUint64(phdr[48:56], 0x1000)

	// ELF header
	copy(header[0:4], []byte{0x7f, 'E', 'L', 'F'})
	header[4] = 2 // ELFCLASS64
	header[5] = 1 // ELFDATA2LSB
	header[6] = 1 // EV_CURRENT
	header[7] = 0 // ELFOSABI_SYSV
	binary.LittleEndian.PutUint16(header[16:18], etExec)
	binary.LittleEndian.PutUint16(header[18:20], emX8664)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint64(header[24:32], spec.Entry)
	binary.LittleEndian.PutUint64(header[32:40], ehsize) // e_phoff
	binary.LittleEndian.PutUint64(header[40:48], shoff)  // e_shoff
	binary.LittleEndian.PutUint32(header[48:52], 0)
	binary.LittleEndian.PutUint16(header[52:54], ehsize)
	binary.LittleEndian.PutUint16(header[54:56], phentsize)
	binary.LittleEndian.PutUint16(header[56:58], 1)
	binary.LittleEndian.PutUint16(header[58:60], shentsize)
	binary.LittleEndian.PutUint16(header[60:62], uint16(len(sections)))
	binary.LittleEndian.PutUint16(header[62:64], uint16(shstrIdx))

	var out bytes.Buffer
	out.Write(header)
	out.Write(phdr)
	out.Write(body.Bytes())
	for _, s := range sections {
		var ent [64]byte
		binary.LittleEndian.PutUint32(ent[0:4], s.name)
		binary.LittleEndian.PutUint32(ent[4:8], s.typ)
		binary.LittleEndian.PutUint64(ent[8:16], s.flags)
		binary.LittleEndian.PutUint64(ent[16:24], s.addr)
		binary.LittleEndian.PutUint64(ent[24:32], s.offset)
		binary.LittleEndian.PutUint64(ent[32:40], s.size)
		binary.LittleEndian.PutUint32(ent[40:44], s.link)
		binary.LittleEndian.PutUint32(ent[44:48], s.info)
		binary.LittleEndian.PutUint64(ent[48:56], 1)
		binary.LittleEndian.PutUint64(ent[56:64], s.entsize)
		out.Write(ent[:])
	}
	return out.Bytes()
}

// STInfo packs a symbol bind/type pair the way elf.ST_INFO does, without
// importing debug/elf here (kept dependency-free for reuse by any test).
func STInfo(bind, typ byte) byte {
	return (bind << 4) | (typ & 0xf)
}

const (
	STBGlobal = 1
	STTFunc   = 2
	STTObject = 1
)
