package perstest

import (
	"context"
	"fmt"

	"github.com/bft-labs/fragstore/internal/header"
	"github.com/bft-labs/fragstore/pkg/log"
)

// CheckSizes are the atom lengths written by Check. Each is also the event
// number of its atom.
var CheckSizes = []int{4, 10, 100}

// Pattern returns n bytes of "abbcccdddd...": the k-th letter repeated k
// times, wrapping after 'z'.
func Pattern(n int) []byte {
	out := make([]byte, 0, n)
	for run := 1; len(out) < n; run++ {
		c := byte('a' + (run-1)%26)
		for i := 0; i < run && len(out) < n; i++ {
			out = append(out, c)
		}
	}
	return out
}

// HeaderReport is the result of one header round trip.
type HeaderReport struct {
	Encoded []byte
	Index   uint32
	Total   uint32
}

// Header encodes (index, total), prints it and decodes it back.
func (r *Runner) Header(index, total uint32) (HeaderReport, error) {
	buf := header.Marshal(index, total)
	r.printf("header(%d, %d) = % x (%d bytes)\n", index, total, buf, len(buf))

	gotIndex, gotTotal, n, err := header.Decode(buf)
	if err != nil {
		return HeaderReport{Encoded: buf}, err
	}
	if n != len(buf) || gotIndex != index || gotTotal != total {
		return HeaderReport{Encoded: buf}, fmt.Errorf("decoded (%d, %d) from %d bytes, want (%d, %d) from %d",
			gotIndex, gotTotal, n, index, total, len(buf))
	}
	r.printf("decoded index=%d total=%d\n", gotIndex, gotTotal)
	if err := header.Validate(index, total); err != nil {
		r.printf("note: %v\n", err)
	}
	return HeaderReport{Encoded: buf, Index: gotIndex, Total: gotTotal}, nil
}

// CheckResult is the outcome for one patterned atom.
type CheckResult struct {
	Event    uint64
	Size     int
	Mismatch string
	Err      error
}

// OK reports whether the atom was written and read back intact.
func (c CheckResult) OK() bool {
	return c.Err == nil && c.Mismatch == ""
}

// Check writes a patterned atom of each of CheckSizes (minus one byte),
// waits for the writes, confirms them, then reads every atom back.
func (r *Runner) Check(ctx context.Context) ([]CheckResult, error) {
	p := newPending()
	atoms := make(map[uint64][]byte, len(CheckSizes))
	results := make([]CheckResult, len(CheckSizes))
	var events []uint64

	for i, size := range CheckSizes {
		event := uint64(size)
		atom := Pattern(size - 1)
		atoms[event] = atom
		results[i] = CheckResult{Event: event, Size: len(atom)}

		p.expect(event)
		if err := r.Store.SubmitWrite(event, atom, p.complete); err != nil {
			results[i].Err = err
			p.cancel(event)
			continue
		}
		events = append(events, event)
		r.Logger.Debug("submitted check atom", log.Event(event), log.Int("bytes", len(atom)))
	}
	if err := p.wait(ctx, r.timeout()); err != nil {
		return results, fmt.Errorf("%w: %v", err, p.stragglers())
	}

	confirmErrs, err := r.confirmAll(ctx, events)
	if err != nil {
		return results, err
	}

	for i := range results {
		res := &results[i]
		if res.Err != nil {
			r.printf("error for %d: %v\n", res.Event, res.Err)
			continue
		}
		if w, _ := p.result(res.Event); w.Err != nil {
			res.Err = w.Err
		} else if cerr := confirmErrs[res.Event]; cerr != nil {
			res.Err = cerr
		} else {
			got, err := r.Store.ReadAtom(ctx, res.Event)
			if err != nil {
				res.Err = err
			} else {
				res.Mismatch = compare(atoms[res.Event], got)
			}
		}

		switch {
		case res.Err != nil:
			r.printf("error for %d: %v\n", res.Event, res.Err)
		case res.Mismatch != "":
			r.printf("mismatch for %d: %s\n", res.Event, res.Mismatch)
		default:
			r.printf("success for %d\n", res.Event)
		}
	}
	return results, nil
}
