package header

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bft-labs/fragstore/internal/domain"
)

func TestSize(t *testing.T) {
	tests := []struct {
		index, total uint32
		want         int
	}{
		{0, 1, 3},
		{1, 99, 3},
		{255, 255, 3},
		{255, 256, 4},
		{1, 300, 4},
		{0x123, 0x1234567, 7},
		{65535, 65535, 5},
		{65536, 65536, 9},
		{0xffffffff, 0xffffffff, MaxSize},
	}

	for _, tt := range tests {
		if got := Size(tt.index, tt.total); got != tt.want {
			t.Errorf("Size(%d, %d) = %d, want %d", tt.index, tt.total, got, tt.want)
		}
		if got := len(Marshal(tt.index, tt.total)); got != tt.want {
			t.Errorf("len(Marshal(%d, %d)) = %d, want %d", tt.index, tt.total, got, tt.want)
		}
	}
}

func TestEncode_Layout(t *testing.T) {
	got := Marshal(0x123, 0x1234567)
	want := []byte{
		class16 | class32<<totalShift,
		0x01, 0x23,
		0x01, 0x23, 0x45, 0x67,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal(0x123, 0x1234567) = % x, want % x", got, want)
	}

	got = Marshal(1, 99)
	want = []byte{0x00, 0x01, 99}
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal(1, 99) = % x, want % x", got, want)
	}
}

func TestDecode_Inverse(t *testing.T) {
	values := []uint32{0, 1, 2, 99, 254, 255, 256, 1000, 65534, 65535, 65536, 1 << 20, 0xfffffffe, 0xffffffff}

	for _, total := range values {
		for _, index := range values {
			if index > total {
				continue
			}
			buf := Marshal(index, total)
			gotIndex, gotTotal, n, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode(Marshal(%d, %d)) error: %v", index, total, err)
			}
			if gotIndex != index || gotTotal != total {
				t.Errorf("Decode(Marshal(%d, %d)) = (%d, %d)", index, total, gotIndex, gotTotal)
			}
			if n != len(buf) {
				t.Errorf("Decode(Marshal(%d, %d)) consumed %d, want %d", index, total, n, len(buf))
			}
		}
	}
}

func TestDecode_IgnoresTrailingPayload(t *testing.T) {
	buf := append(Marshal(3, 12), []byte("payload")...)

	index, total, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if index != 3 || total != 12 || n != 3 {
		t.Errorf("Decode() = (%d, %d, %d), want (3, 12, 3)", index, total, n)
	}
	if string(buf[n:]) != "payload" {
		t.Errorf("payload = %q", buf[n:])
	}
}

func TestDecode_Truncated(t *testing.T) {
	full := Marshal(1, 300)
	if len(full) != 4 {
		t.Fatalf("header length = %d, want 4", len(full))
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"class byte only", full[:1]},
		{"missing total", full[:2]},
		{"partial total", full[:3]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := Decode(tt.buf)
			if !errors.Is(err, domain.ErrTruncatedHeader) {
				t.Errorf("Decode() error = %v, want ErrTruncatedHeader", err)
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"reserved bits", []byte{0x10, 0, 1}},
		{"index class 3", []byte{0x03, 0, 0, 0, 0, 1}},
		{"total class 3", []byte{0x0c, 0, 0, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := Decode(tt.buf)
			if !errors.Is(err, domain.ErrInvalidHeader) {
				t.Errorf("Decode() error = %v, want ErrInvalidHeader", err)
			}
		})
	}
}

func TestEncode_ShortBufferPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Encode into short buffer did not panic")
		}
	}()
	Encode(make([]byte, 2), 0, 1)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		index, total uint32
		wantErr      bool
	}{
		{0, 1, false},
		{11, 12, false},
		{0, 0, true},
		{1, 1, true},
		{5, 3, true},
	}

	for _, tt := range tests {
		err := Validate(tt.index, tt.total)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%d, %d) error = %v, wantErr %v", tt.index, tt.total, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, domain.ErrInvalidHeader) {
			t.Errorf("Validate(%d, %d) error = %v, want ErrInvalidHeader", tt.index, tt.total, err)
		}
	}
}

func TestJoinSplitRecord(t *testing.T) {
	hdr := Marshal(3, 70000)
	rec := Join(hdr, []byte("payload"))
	if len(rec) != len(hdr)+7 {
		t.Fatalf("record length = %d, want %d", len(rec), len(hdr)+7)
	}

	gotHdr, gotPayload, err := SplitRecord(rec)
	if err != nil {
		t.Fatalf("SplitRecord() error: %v", err)
	}
	if !bytes.Equal(gotHdr, hdr) || string(gotPayload) != "payload" {
		t.Errorf("SplitRecord() = (% x, %q)", gotHdr, gotPayload)
	}

	if _, _, err := SplitRecord(rec[:2]); !errors.Is(err, domain.ErrTruncatedHeader) {
		t.Errorf("SplitRecord(truncated) error = %v, want ErrTruncatedHeader", err)
	}
}
