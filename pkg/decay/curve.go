// Package decay turns event timestamps into fixed-length "freshness" curves.
//
// A curve splits a time window into equal segments, most recent first. Each
// event paints a ramp: once the activity becomes due (one target interval
// after the event) its segments hold at 100, then fall linearly to 0 over the
// following target interval. Overlapping ramps combine by taking the higher
// value per segment, so a curve reads as "how overdue is this activity".
//
// Example Usage:
//
//	curve, err := decay.ToCurve(timestamps, 14*24*3600, 14, decay.Options{
//		TargetInterval: 24 * 3600,
//		AnchorTime:     float64(time.Now().Unix()),
//		IncludeEmpty:   true,
//	})
//	if err != nil {
//		return err
//	}
//	fmt.Println(curve[0]) // freshness today, 0-100
//
// ELI12 (Explain Like I'm 12):
//
// Think of a row of 14 lamps, one per day, today on the left. Each time you
// practice piano, the lamp for the day practice becomes "due again" lights up
// fully, and the lamps after it glow dimmer and dimmer. If you practiced
// twice, the brighter glow wins for each lamp. A row of dark lamps means you
// haven't practiced in a long time.
//
// Callers always pass AnchorTime explicitly; nothing here reads the clock.
package decay

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameters is returned for a non-positive window, segment count
// or target interval.
var ErrInvalidParameters = errors.New("invalid decay parameters")

// Curve holds one score per segment, index 0 being the most recent.
type Curve []float64

// Options configures ToCurve.
type Options struct {
	// TargetInterval - expected recurrence period in seconds. Required.
	TargetInterval float64

	// AnchorTime - the "now" the window ends at, epoch seconds.
	AnchorTime float64

	// DecreaseImmediately starts the ramp down at the event itself rather
	// than one target interval later.
	DecreaseImmediately bool

	// IncludeEmpty returns an all-zero curve instead of nil when there are no
	// timestamps.
	IncludeEmpty bool
}

// ToCurve builds the decay curve for timestamps over windowSeconds split into
// segments. Every value is an integer in [0, 100] and the result always has
// exactly segments entries. With no timestamps it returns nil, or zeros when
// IncludeEmpty is set.
func ToCurve(timestamps []float64, windowSeconds float64, segments int, opts Options) (Curve, error) {
	if !(windowSeconds > 0) || segments <= 0 || !(opts.TargetInterval > 0) {
		return nil, fmt.Errorf("window=%v segments=%d target=%v: %w",
			windowSeconds, segments, opts.TargetInterval, ErrInvalidParameters)
	}
	if len(timestamps) == 0 {
		if opts.IncludeEmpty {
			return make(Curve, segments), nil
		}
		return nil, nil
	}

	increment := windowSeconds / float64(segments)
	target := opts.TargetInterval
	curve := make(Curve, segments)

	for _, t := range timestamps {
		idx := int(math.Ceil((opts.AnchorTime - t) / increment))
		if idx > segments-1 {
			// Older than the window still paints the oldest segment
			idx = segments - 1
		}

		for ; idx >= 0; idx-- {
			age := opts.AnchorTime - float64(idx)*increment - t
			if !opts.DecreaseImmediately {
				age -= target
			}

			raw := (target - age) / target
			if raw < 0 {
				break
			}
			score := math.Round(100 * clamp01(raw))
			if score > 0 && score > curve[idx] {
				curve[idx] = score
			}
		}
	}
	return curve, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Zero returns an all-zero curve of n segments.
func Zero(n int) Curve {
	return make(Curve, n)
}

// Average returns the elementwise mean of curves. All curves must have the
// same length. It returns nil when curves is empty.
func Average(curves []Curve) (Curve, error) {
	if len(curves) == 0 {
		return nil, nil
	}
	n := len(curves[0])
	out := make(Curve, n)
	for i, c := range curves {
		if len(c) != n {
			return nil, fmt.Errorf("curve %d has %d segments, want %d: %w", i, len(c), n, ErrInvalidParameters)
		}
		for j, v := range c {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(curves))
	}
	return out, nil
}

// Max returns the elementwise maximum of a and b, which must have equal
// lengths.
func Max(a, b Curve) (Curve, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("lengths %d and %d differ: %w", len(a), len(b), ErrInvalidParameters)
	}
	out := make(Curve, len(a))
	for i := range a {
		out[i] = math.Max(a[i], b[i])
	}
	return out, nil
}

// Peak returns the highest value in c, or 0 for an empty curve.
func (c Curve) Peak() float64 {
	var peak float64
	for _, v := range c {
		peak = math.Max(peak, v)
	}
	return peak
}

// Clone returns a copy of c.
func (c Curve) Clone() Curve {
	if c == nil {
		return nil
	}
	return append(Curve(nil), c...)
}
