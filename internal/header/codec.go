// Package header encodes the (index, total) prefix written in front of
// every stored fragment.
//
// The first byte records the width class of each field: bits 0-1 for the
// index, bits 2-3 for the total. Class 0 is one byte, class 1 two bytes and
// class 2 four bytes. Bits 4-7 are reserved and must be zero. The values
// follow in big-endian order, index first. A header is 3 to 9 bytes long.
//
// These values are protocol constants; changing them breaks every stored
// fragment.
package header

import (
	"encoding/binary"
	"fmt"

	"github.com/bft-labs/fragstore/internal/domain"
)

const (
	class8  = 0
	class16 = 1
	class32 = 2

	classMask     = 0x3
	totalShift    = 2
	reservedMask  = 0xf0
	classByteSize = 1
)

// MaxSize is the largest possible encoded header.
const MaxSize = classByteSize + 4 + 4

// MinSize is the smallest possible encoded header.
const MinSize = classByteSize + 1 + 1

func classOf(v uint32) byte {
	switch {
	case v <= 0xff:
		return class8
	case v <= 0xffff:
		return class16
	default:
		return class32
	}
}

func widthOf(class byte) int {
	switch class {
	case class8:
		return 1
	case class16:
		return 2
	case class32:
		return 4
	default:
		return -1
	}
}

// Size returns the exact number of bytes Encode writes for (index, total).
func Size(index, total uint32) int {
	return classByteSize + widthOf(classOf(index)) + widthOf(classOf(total))
}

// Encode writes the header for (index, total) into dst and returns the
// number of bytes written. dst must hold at least Size(index, total) bytes.
func Encode(dst []byte, index, total uint32) int {
	ic, tc := classOf(index), classOf(total)
	n := Size(index, total)
	if len(dst) < n {
		panic(fmt.Sprintf("header: buffer of %d bytes, need %d", len(dst), n))
	}

	dst[0] = ic | tc<<totalShift
	off := classByteSize
	off += put(dst[off:], ic, index)
	off += put(dst[off:], tc, total)
	return off
}

// Marshal allocates and returns the encoded header for (index, total).
func Marshal(index, total uint32) []byte {
	buf := make([]byte, Size(index, total))
	Encode(buf, index, total)
	return buf
}

// Decode parses a header from the start of buf and returns the index,
// total and the number of bytes consumed.
func Decode(buf []byte) (index, total uint32, n int, err error) {
	if len(buf) < classByteSize {
		return 0, 0, 0, domain.ErrTruncatedHeader
	}
	flags := buf[0]
	if flags&reservedMask != 0 {
		return 0, 0, 0, fmt.Errorf("%w: reserved bits set (0x%02x)", domain.ErrInvalidHeader, flags)
	}

	ic, tc := flags&classMask, (flags>>totalShift)&classMask
	iw, tw := widthOf(ic), widthOf(tc)
	if iw < 0 || tw < 0 {
		return 0, 0, 0, fmt.Errorf("%w: unknown width class (0x%02x)", domain.ErrInvalidHeader, flags)
	}

	n = classByteSize + iw + tw
	if len(buf) < n {
		return 0, 0, 0, fmt.Errorf("%w: have %d bytes, header needs %d", domain.ErrTruncatedHeader, len(buf), n)
	}

	index = get(buf[classByteSize:], ic)
	total = get(buf[classByteSize+iw:], tc)
	return index, total, n, nil
}

// Validate reports whether (index, total) describes a real fragment:
// an atom always has at least one fragment and the index is below the total.
func Validate(index, total uint32) error {
	if total == 0 {
		return fmt.Errorf("%w: total is zero", domain.ErrInvalidHeader)
	}
	if index >= total {
		return fmt.Errorf("%w: index %d not below total %d", domain.ErrInvalidHeader, index, total)
	}
	return nil
}

func put(dst []byte, class byte, v uint32) int {
	switch class {
	case class8:
		dst[0] = byte(v)
		return 1
	case class16:
		binary.BigEndian.PutUint16(dst, uint16(v))
		return 2
	default:
		binary.BigEndian.PutUint32(dst, v)
		return 4
	}
}

func get(src []byte, class byte) uint32 {
	switch class {
	case class8:
		return uint32(src[0])
	case class16:
		return uint32(binary.BigEndian.Uint16(src))
	default:
		return binary.BigEndian.Uint32(src)
	}
}
