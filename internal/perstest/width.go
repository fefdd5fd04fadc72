package perstest

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/fragstore/pkg/log"
)

// Default width sweep, in powers of two.
const (
	DefaultMinExp = 9
	DefaultMaxExp = 23
)

// widthPrefix is the length of the distinct leading bytes of a width atom.
const widthPrefix = 9

// WidthAtom returns the atom written for exponent exp: 2^exp bytes whose
// first bytes are "abcdefghi" and whose remainder repeats one letter chosen
// by exp.
func WidthAtom(exp int) []byte {
	n := 1 << exp
	atom := make([]byte, n)
	fill := byte('a' + (exp-1)%26)
	for i := range atom {
		if i < widthPrefix {
			atom[i] = byte('a' + i)
		} else {
			atom[i] = fill
		}
	}
	return atom
}

// WidthResult is the outcome for one exponent.
type WidthResult struct {
	Exp      int
	Size     int
	Mismatch string
	Err      error
}

// OK reports whether the atom was written and read back intact.
func (w WidthResult) OK() bool {
	return w.Err == nil && w.Mismatch == ""
}

// Width writes one atom of 2^exp bytes for every exp in [minExp, maxExp],
// using exp as the event number. Each write is awaited, confirmed and read
// back before the next one starts.
func (r *Runner) Width(ctx context.Context, minExp, maxExp int) ([]WidthResult, error) {
	if minExp < 0 || maxExp > 30 || minExp > maxExp {
		return nil, fmt.Errorf("invalid width range 2^%d..2^%d", minExp, maxExp)
	}

	var results []WidthResult
	for exp := minExp; exp <= maxExp; exp++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.width(ctx, exp)
		results = append(results, res)

		switch {
		case res.Err != nil:
			r.printf("2^%d = width %d: FAIL: %v\n", exp, res.Size, res.Err)
		case res.Mismatch != "":
			r.printf("2^%d = width %d: FAIL: %s\n", exp, res.Size, res.Mismatch)
		default:
			r.printf("2^%d = width %d: ok\n", exp, res.Size)
		}
		if errors.Is(res.Err, ErrTimeout) {
			return results, res.Err
		}
	}
	return results, nil
}

func (r *Runner) width(ctx context.Context, exp int) WidthResult {
	event := uint64(exp)
	atom := WidthAtom(exp)
	res := WidthResult{Exp: exp, Size: len(atom)}

	p := newPending()
	p.expect(event)
	if err := r.Store.SubmitWrite(event, atom, p.complete); err != nil {
		res.Err = err
		return res
	}
	r.Logger.Debug("submitted width atom", log.Event(event), log.Int("bytes", len(atom)))

	if err := p.wait(ctx, r.timeout()); err != nil {
		res.Err = err
		return res
	}
	if w, _ := p.result(event); w.Err != nil {
		res.Err = w.Err
		return res
	}

	errs, err := r.confirmAll(ctx, []uint64{event})
	if err != nil {
		res.Err = err
		return res
	}
	if errs[event] != nil {
		res.Err = errs[event]
		return res
	}

	got, err := r.Store.ReadAtom(ctx, event)
	if err != nil {
		res.Err = err
		return res
	}
	res.Mismatch = compare(atom, got)
	return res
}
