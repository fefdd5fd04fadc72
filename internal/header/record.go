package header

// Join returns a new buffer holding hdr followed by payload, the form in
// which backends store a fragment.
func Join(hdr, payload []byte) []byte {
	rec := make([]byte, len(hdr)+len(payload))
	n := copy(rec, hdr)
	copy(rec[n:], payload)
	return rec
}

// SplitRecord separates a stored record into its header and payload.
// Both results alias rec.
func SplitRecord(rec []byte) (hdr, payload []byte, err error) {
	_, _, n, err := Decode(rec)
	if err != nil {
		return nil, nil, err
	}
	return rec[:n:n], rec[n:], nil
}
