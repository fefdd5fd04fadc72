package fragment

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

func chunksOf(frags []Fragment) []Chunk {
	chunks := make([]Chunk, len(frags))
	for i, f := range frags {
		chunks[i] = Chunk{Header: f.Header, Payload: f.Payload}
	}
	return chunks
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestSplit_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		atomLen   int
		maxChunk  int
		wantTotal uint32
		wantLast  int
	}{
		{"empty atom", 0, 20, 1, 0},
		{"fits one chunk", 19, 20, 1, 19},
		{"exact fit", 20, 20, 1, 20},
		{"one over", 21, 20, 2, 1},
		{"hundred in nines", 100, 9, 12, 1},
		{"single byte chunks", 5, 1, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atom := pattern(tt.atomLen)
			frags, err := Split(atom, tt.maxChunk)
			if err != nil {
				t.Fatalf("Split() error: %v", err)
			}
			if uint32(len(frags)) != tt.wantTotal {
				t.Fatalf("got %d fragments, want %d", len(frags), tt.wantTotal)
			}

			for i, f := range frags {
				if f.Index != uint32(i) || f.Total != tt.wantTotal {
					t.Errorf("fragment %d: (index, total) = (%d, %d)", i, f.Index, f.Total)
				}
				index, total, n, err := header.Decode(f.Header)
				if err != nil {
					t.Fatalf("fragment %d header: %v", i, err)
				}
				if index != f.Index || total != f.Total || n != len(f.Header) {
					t.Errorf("fragment %d header decodes to (%d, %d, %d)", i, index, total, n)
				}
				if i < len(frags)-1 && len(f.Payload) != tt.maxChunk {
					t.Errorf("fragment %d payload = %d bytes, want %d", i, len(f.Payload), tt.maxChunk)
				}
			}
			if got := len(frags[len(frags)-1].Payload); got != tt.wantLast {
				t.Errorf("last payload = %d bytes, want %d", got, tt.wantLast)
			}

			got, err := Reassemble(chunksOf(frags))
			if err != nil {
				t.Fatalf("Reassemble() error: %v", err)
			}
			if len(got) != tt.atomLen || !bytes.Equal(got, atom) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), tt.atomLen)
			}
		})
	}
}

func TestSplit_SingleFragmentHeader(t *testing.T) {
	frags, err := Split(pattern(19), 20)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	if !bytes.Equal(frags[0].Header, header.Marshal(0, 1)) {
		t.Errorf("header = % x, want % x", frags[0].Header, header.Marshal(0, 1))
	}
}

func TestSplit_InvalidChunkSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := Split([]byte("x"), size); !errors.Is(err, domain.ErrInvalidChunkSize) {
			t.Errorf("Split(maxChunk=%d) error = %v, want ErrInvalidChunkSize", size, err)
		}
	}
}

func TestSplit_PayloadsAliasAtom(t *testing.T) {
	atom := pattern(10)
	frags, err := Split(atom, 4)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	// Appending to a payload must not clobber the next fragment.
	_ = append(frags[0].Payload, 'X')
	if atom[4] != 'e' {
		t.Errorf("append through payload overwrote atom: %q", atom)
	}
}

func TestRoundTrip_AllChunkSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 7, 64, 255, 256, 1000} {
		atom := make([]byte, n)
		rng.Read(atom)
		for c := 1; c <= n+2; c++ {
			frags, err := Split(atom, c)
			if err != nil {
				t.Fatalf("Split(%d, %d) error: %v", n, c, err)
			}
			got, err := Reassemble(chunksOf(frags))
			if err != nil {
				t.Fatalf("Reassemble(%d, %d) error: %v", n, c, err)
			}
			if !bytes.Equal(got, atom) {
				t.Fatalf("round trip mismatch for len=%d chunk=%d", n, c)
			}
		}
	}
}

func TestReassemble_OutOfOrder(t *testing.T) {
	atom := pattern(100)
	frags, err := Split(atom, 9)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}
	chunks := chunksOf(frags)

	reversed := make([]Chunk, len(chunks))
	for i, c := range chunks {
		reversed[len(chunks)-1-i] = c
	}
	got, err := Reassemble(reversed)
	if err != nil {
		t.Fatalf("Reassemble(reversed) error: %v", err)
	}
	if !bytes.Equal(got, atom) {
		t.Error("reverse-order reassembly differs from atom")
	}

	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })
	got, err = Reassemble(chunks)
	if err != nil {
		t.Fatalf("Reassemble(shuffled) error: %v", err)
	}
	if !bytes.Equal(got, atom) {
		t.Error("shuffled reassembly differs from atom")
	}
}

func TestReassembler_Incomplete(t *testing.T) {
	frags, err := Split(pattern(30), 10)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}

	r := NewReassembler()
	if _, err := r.Finalize(); !errors.Is(err, domain.ErrIncompleteAtom) {
		t.Errorf("Finalize() on empty error = %v, want ErrIncompleteAtom", err)
	}

	if err := r.Add(frags[2].Header, frags[2].Payload); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := r.Add(frags[0].Header, frags[0].Payload); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if r.Complete() {
		t.Error("Complete() = true with a fragment missing")
	}
	if missing := r.Missing(); len(missing) != 1 || missing[0] != 1 {
		t.Errorf("Missing() = %v, want [1]", missing)
	}
	if _, err := r.Finalize(); !errors.Is(err, domain.ErrIncompleteAtom) {
		t.Errorf("Finalize() error = %v, want ErrIncompleteAtom", err)
	}

	if err := r.Add(frags[1].Header, frags[1].Payload); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if !r.Complete() {
		t.Error("Complete() = false with all fragments present")
	}
}

func TestReassembler_TotalMismatch(t *testing.T) {
	r := NewReassembler()
	if err := r.Add(header.Marshal(0, 3), []byte("a")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	err := r.Add(header.Marshal(1, 4), []byte("b"))
	if !errors.Is(err, domain.ErrFragmentMismatch) {
		t.Errorf("Add() error = %v, want ErrFragmentMismatch", err)
	}
}

func TestReassembler_Duplicates(t *testing.T) {
	r := NewReassembler()
	if err := r.Add(header.Marshal(0, 2), []byte("a")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := r.Add(header.Marshal(0, 2), []byte("a")); err != nil {
		t.Errorf("identical duplicate error = %v, want nil", err)
	}
	if err := r.Add(header.Marshal(0, 2), []byte("z")); !errors.Is(err, domain.ErrFragmentMismatch) {
		t.Errorf("conflicting duplicate error = %v, want ErrFragmentMismatch", err)
	}
}

func TestReassembler_InvalidHeaders(t *testing.T) {
	tests := []struct {
		name    string
		hdr     []byte
		wantErr error
	}{
		{"zero total", header.Marshal(0, 0), domain.ErrInvalidHeader},
		{"index at total", header.Marshal(2, 2), domain.ErrInvalidHeader},
		{"truncated", header.Marshal(1, 300)[:1], domain.ErrTruncatedHeader},
		{"trailing bytes", append(header.Marshal(0, 1), 0), domain.ErrInvalidHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewReassembler().Add(tt.hdr, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Add() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		atomLen, maxChunk int
		want              uint32
	}{
		{0, 1, 1},
		{1, 1, 1},
		{100, 9, 12},
		{99, 9, 11},
		{1 << 23, 1 << 16, 128},
	}
	for _, tt := range tests {
		got, err := Count(tt.atomLen, tt.maxChunk)
		if err != nil {
			t.Fatalf("Count(%d, %d) error: %v", tt.atomLen, tt.maxChunk, err)
		}
		if got != tt.want {
			t.Errorf("Count(%d, %d) = %d, want %d", tt.atomLen, tt.maxChunk, got, tt.want)
		}
	}
}
