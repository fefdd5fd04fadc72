package fragment

import (
	"bytes"
	"fmt"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

// Chunk is a stored fragment as read back from a backend.
type Chunk struct {
	Header  []byte
	Payload []byte
}

// Reassembler buffers the fragments of a single atom in any arrival order
// and concatenates them once all of them are present.
// It is not safe for concurrent use.
type Reassembler struct {
	total  uint32
	parts  map[uint32][]byte
	length int
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{parts: make(map[uint32][]byte)}
}

// Add decodes hdr and buffers payload under its index.
// The payload is retained, not copied.
func (r *Reassembler) Add(hdr, payload []byte) error {
	index, total, n, err := header.Decode(hdr)
	if err != nil {
		return err
	}
	if n != len(hdr) {
		return fmt.Errorf("%w: %d trailing header bytes", domain.ErrInvalidHeader, len(hdr)-n)
	}
	return r.AddDecoded(index, total, payload)
}

// AddDecoded buffers a payload whose header was already decoded.
func (r *Reassembler) AddDecoded(index, total uint32, payload []byte) error {
	if err := header.Validate(index, total); err != nil {
		return err
	}
	if r.total != 0 && total != r.total {
		return fmt.Errorf("%w: fragment %d declares total %d, expected %d",
			domain.ErrFragmentMismatch, index, total, r.total)
	}
	if prev, ok := r.parts[index]; ok {
		if !bytes.Equal(prev, payload) {
			return fmt.Errorf("%w: fragment %d received twice with different payloads",
				domain.ErrFragmentMismatch, index)
		}
		return nil
	}

	r.total = total
	r.parts[index] = payload
	r.length += len(payload)
	return nil
}

// Total returns the declared fragment count, or 0 before the first Add.
func (r *Reassembler) Total() uint32 {
	return r.total
}

// Complete reports whether every declared fragment has arrived.
func (r *Reassembler) Complete() bool {
	return r.total != 0 && uint32(len(r.parts)) == r.total
}

// Missing returns the indices not yet received, in ascending order.
func (r *Reassembler) Missing() []uint32 {
	var missing []uint32
	for i := uint32(0); i < r.total; i++ {
		if _, ok := r.parts[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Finalize returns the reassembled atom.
// It fails with ErrIncompleteAtom until every fragment has arrived.
func (r *Reassembler) Finalize() ([]byte, error) {
	if r.total == 0 {
		return nil, fmt.Errorf("%w: no fragments received", domain.ErrIncompleteAtom)
	}
	if !r.Complete() {
		return nil, fmt.Errorf("%w: %d of %d fragments received",
			domain.ErrIncompleteAtom, len(r.parts), r.total)
	}

	atom := make([]byte, 0, r.length)
	for i := uint32(0); i < r.total; i++ {
		atom = append(atom, r.parts[i]...)
	}
	return atom, nil
}

// Reassemble feeds chunks, in any order, to a new Reassembler and finalizes it.
func Reassemble(chunks []Chunk) ([]byte, error) {
	r := NewReassembler()
	for _, c := range chunks {
		if err := r.Add(c.Header, c.Payload); err != nil {
			return nil, err
		}
	}
	return r.Finalize()
}
