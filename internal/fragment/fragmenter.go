// Package fragment splits atoms into backend-sized fragments and
// reassembles them on read.
package fragment

import (
	"fmt"
	"math"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

// Fragment is one backend-sized piece of an atom.
type Fragment struct {
	Index  uint32
	Total  uint32
	Header []byte

	// Payload aliases the atom passed to Split; it must not be modified.
	Payload []byte
}

// Count returns the number of fragments an atom of atomLen bytes splits into.
// A zero-length atom still yields one fragment.
func Count(atomLen, maxChunk int) (uint32, error) {
	if maxChunk < 1 {
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidChunkSize, maxChunk)
	}
	if atomLen == 0 {
		return 1, nil
	}
	n := (atomLen-1)/maxChunk + 1
	if uint64(n) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d bytes in %d-byte chunks", domain.ErrAtomTooLarge, atomLen, maxChunk)
	}
	return uint32(n), nil
}

// Split slices atom into contiguous, ordered fragments of at most maxChunk
// payload bytes. Every fragment except the last carries exactly maxChunk
// bytes. Headers for all fragments share one allocation.
func Split(atom []byte, maxChunk int) ([]Fragment, error) {
	total, err := Count(len(atom), maxChunk)
	if err != nil {
		return nil, err
	}

	headerBytes := 0
	for i := uint32(0); i < total; i++ {
		headerBytes += header.Size(i, total)
	}
	headers := make([]byte, headerBytes)

	frags := make([]Fragment, total)
	off := 0
	for i := uint32(0); i < total; i++ {
		start := int(i) * maxChunk
		end := start + maxChunk
		if end > len(atom) {
			end = len(atom)
		}

		n := header.Encode(headers[off:], i, total)
		frags[i] = Fragment{
			Index:   i,
			Total:   total,
			Header:  headers[off : off+n : off+n],
			Payload: atom[start:end:end],
		}
		off += n
	}
	return frags, nil
}
