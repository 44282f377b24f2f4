// Package breader implements the engine's Binary Reader: a bounds-checked,
// endianness-aware view over a file's bytes. Large files are mapped into
// memory rather than read wholesale; typed accessors apply the byte order
// discovered from the owning ELF header.
package breader

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Reader is a bounds-checked, endianness-aware view over a file's bytes.
//
// The bytes are backed by an mmap of the underlying file; if the mmap call
// fails (e.g. for non-regular files) it falls back to an in-memory read of
// the whole file. Either way the resulting
// byte slice is immutable from the caller's point of view.
type Reader struct {
	path   string
	data   []byte
	order  binary.ByteOrder
	mapped bool
}

// Open memory-maps path and returns a Reader over its bytes. The byte order
// defaults to little-endian; callers set it explicitly once the ELF
// identification bytes have been read (see SetOrder).
func Open(path string) (*Reader, error) {
	f, err := os.Open(path) // #nosec G304 -- path is supplied by the caller's configuration
	if err != nil {
		return nil, fmt.Errorf("breader: open %s: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("breader: stat %s: %w", path, err)
	}

	size := info.Size()
	if size == 0 {
		return &Reader{path: path, data: nil, order: binary.LittleEndian}, nil
	}

	data, mapped, err := mmapOrRead(f, size)
	if err != nil {
		return nil, fmt.Errorf("breader: map %s: %w", path, err)
	}

	return &Reader{path: path, data: data, order: binary.LittleEndian, mapped: mapped}, nil
}

// OpenBytes wraps an in-memory byte slice in a Reader, useful for tests and
// for sub-readers over a single ELF section's data.
func OpenBytes(data []byte) *Reader {
	return &Reader{data: data, order: binary.LittleEndian}
}

func mmapOrRead(f *os.File, size int64) (data []byte, mapped bool, err error) {
	data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return data, true, nil
	}

	// Fall back to a plain read for files mmap refuses (pipes, some
	// virtual filesystems).
	buf := make([]byte, size)
	if _, rerr := f.ReadAt(buf, 0); rerr != nil {
		return nil, false, rerr
	}
	return buf, false, nil
}

// Close releases the mapping, if any. Subsequent reads are undefined.
func (r *Reader) Close() error {
	if r.mapped && r.data != nil {
		data := r.data
		r.data = nil
		return unix.Munmap(data)
	}
	return nil
}

// Size returns the total number of bytes available.
func (r *Reader) Size() int64 { return int64(len(r.data)) }

// SetOrder fixes the byte order used by the typed accessors below. Call
// this once the ELF identification bytes are known.
func (r *Reader) SetOrder(order binary.ByteOrder) { r.order = order }

// Order returns the byte order currently in effect.
func (r *Reader) Order() binary.ByteOrder { return r.order }

// ErrOutOfRange is wrapped into every bounds failure; callers map it to the
// engine's MalformedInput error kind.
var ErrOutOfRange = fmt.Errorf("breader: read out of range")

// Read returns a bounds-checked slice [offset, offset+length) of the
// underlying bytes. The returned slice aliases the Reader's storage and
// must not be retained past the Reader's lifetime.
func (r *Reader) Read(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset=%d length=%d size=%d", ErrOutOfRange, offset, length, len(r.data))
	}
	return r.data[offset : offset+length], nil
}

// U16 reads a 16-bit unsigned integer at offset.
func (r *Reader) U16(offset int64) (uint16, error) {
	b, err := r.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

// U32 reads a 32-bit unsigned integer at offset.
func (r *Reader) U32(offset int64) (uint32, error) {
	b, err := r.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

// U64 reads a 64-bit unsigned integer at offset.
func (r *Reader) U64(offset int64) (uint64, error) {
	b, err := r.Read(offset, 8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

// U8 reads a single byte at offset.
func (r *Reader) U8(offset int64) (uint8, error) {
	b, err := r.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uleb128 decodes an unsigned LEB128 value starting at offset and returns
// the value plus the offset just past it.
func (r *Reader) Uleb128(offset int64) (uint64, int64, error) {
	var result uint64
	var shift uint
	pos := offset
	for {
		b, err := r.U8(pos)
		if err != nil {
			return 0, 0, fmt.Errorf("breader: uleb128 at %d: %w", offset, err)
		}
		pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("breader: uleb128 at %d: %w", offset, ErrOutOfRange)
		}
	}
}

// Sleb128 decodes a signed LEB128 value starting at offset and returns the
// value plus the offset just past it.
func (r *Reader) Sleb128(offset int64) (int64, int64, error) {
	var result int64
	var shift uint
	pos := offset
	for {
		b, err := r.U8(pos)
		if err != nil {
			return 0, 0, fmt.Errorf("breader: sleb128 at %d: %w", offset, err)
		}
		pos++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, pos, nil
		}
		if shift >= 64 {
			return 0, 0, fmt.Errorf("breader: sleb128 at %d: %w", offset, ErrOutOfRange)
		}
	}
}

// CString reads a NUL-terminated string starting at offset.
func (r *Reader) CString(offset int64) (string, int64, error) {
	pos := offset
	for {
		b, err := r.U8(pos)
		if err != nil {
			return "", 0, fmt.Errorf("breader: cstring at %d: %w", offset, err)
		}
		pos++
		if b == 0 {
			s, err := r.Read(offset, pos-offset-1)
			if err != nil {
				return "", 0, err
			}
			return string(s), pos, nil
		}
	}
}
