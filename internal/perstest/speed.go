package perstest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/metrics"
	"github.com/bft-labs/fragstore/pkg/log"
)

// speedSuffix follows the event number in every speed atom.
const speedSuffix = "abcdefghzzzzzzzzzzz"

// SpeedAtom returns the atom written for event in the speed test.
func SpeedAtom(event uint64) []byte {
	return []byte(fmt.Sprintf("%d-%s", event, speedSuffix))
}

// SpeedOptions configures Speed.
type SpeedOptions struct {
	// Count is the number of atoms written, events 0..Count-1.
	Count int

	// Delay is slept between submissions.
	Delay time.Duration
}

// SpeedReport summarizes a speed run.
type SpeedReport struct {
	Written    int
	Failed     int
	Stragglers []uint64
	Samples    []metrics.Sample
	Mean       time.Duration
	Mismatches int
}

// Speed writes opts.Count small atoms, waits for them, confirms them,
// reports per-event write latency and reads every atom back.
// A timeout is not an error: the events that never completed are listed in
// the report and the rest of the run continues.
func (r *Runner) Speed(ctx context.Context, opts SpeedOptions) (SpeedReport, error) {
	var report SpeedReport
	if opts.Count <= 0 {
		return report, fmt.Errorf("speed test needs a positive count, got %d", opts.Count)
	}

	latency := metrics.NewLatency()
	p := newPending()
	var written []uint64

	for i := 0; i < opts.Count; i++ {
		event := uint64(i)
		start := time.Now()
		p.expect(event)
		err := r.Store.SubmitWrite(event, SpeedAtom(event), func(res domain.Result) {
			latency.OnWriteComplete(res.Event, time.Since(start), res.Err)
			p.complete(res)
		})
		if err != nil {
			r.Logger.Warn("submit failed", log.Event(event), log.Err(err))
			p.cancel(event)
			report.Failed++
			continue
		}
		written = append(written, event)

		if opts.Delay > 0 && i < opts.Count-1 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}
	}
	r.printf("done writing %d\n", len(written))

	if err := p.wait(ctx, r.timeout()); err != nil {
		if !errors.Is(err, ErrTimeout) {
			return report, err
		}
		report.Stragglers = p.stragglers()
		r.printf("timeout: %d event(s) still pending\n", len(report.Stragglers))
		for _, e := range report.Stragglers {
			r.printf("  * evt %d\n", e)
		}
	}

	var durable []uint64
	for _, e := range written {
		res, ok := p.result(e)
		switch {
		case !ok:
		case res.Err != nil:
			report.Failed++
		default:
			durable = append(durable, e)
		}
	}
	report.Written = len(durable)

	r.printf("synchronize %d\n", len(durable))
	confirmErrs, err := r.confirmAll(ctx, durable)
	if err != nil {
		return report, err
	}
	for e, cerr := range confirmErrs {
		r.Logger.Warn("confirm failed", log.Event(e), log.Err(cerr))
	}

	report.Samples = latency.Samples()
	report.Mean = latency.Mean()
	for _, s := range report.Samples {
		if s.Err == nil {
			r.printf("evt %d delta: %d ms\n", s.Event, s.Elapsed.Milliseconds())
		}
	}
	r.printf("mean delta: %d ms\n", report.Mean.Milliseconds())

	for _, e := range durable {
		got, err := r.Store.ReadAtom(ctx, e)
		if err != nil {
			r.printf("read failure for %d: %v\n", e, err)
			report.Mismatches++
			continue
		}
		if diff := compare(SpeedAtom(e), got); diff != "" {
			r.printf("FAIL for %d: %s\n", e, diff)
			report.Mismatches++
		}
	}
	r.printf("read back %d, mismatches %d\n", len(durable), report.Mismatches)
	return report, nil
}
