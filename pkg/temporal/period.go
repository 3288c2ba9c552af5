// Package temporal estimates the natural recurrence period of an activity
// from its raw event timestamps.
//
// The estimate is a recency-weighted mean of the most recent inter-event
// gaps, after discarding gaps that are unusually long:
//
//  1. Keep at most the last MaxIntervals+1 timestamps (input order, most
//     recent last) and take the absolute gaps between neighbors.
//  2. Compute the population mean and standard deviation of those gaps and
//     drop any gap above mean + StddevFactor*stddev.
//  3. Weight the gap i positions back from the most recent by 1/(i+1)^2 and
//     return the weighted mean.
//
// When the filter drops every gap the unfiltered mean is returned instead,
// so the result is never NaN or Inf.
//
// Example usage:
//
//	period, ok := temporal.EstimatePeriod(timestamps, temporal.DefaultConfig())
//	if !ok {
//		return // not enough history yet
//	}
//	fmt.Println(interval.Describe(period))
//
// # ELI12 (Explain Like I'm 12)
//
// You water a plant on days 1, 3, 5, 7 and then forget until day 20.
// The gaps are 2, 2, 2, 13. With a strict StddevFactor of 1 the 13 is a
// "vacation" gap, way bigger than the rest, so it gets thrown out. Of what's
// left, the newest gaps count the most: what you did last week says more
// about your habit than what you did last year. The answer: you water it
// about every 2 days.
//
// With at most five gaps no single gap can sit more than two population
// standard deviations above the mean, so the default factor of 2 only
// trims when MaxIntervals is raised.
package temporal

import "math"

// Config holds period estimation settings.
type Config struct {
	// MinIntervals - gaps required before estimating (needs MinIntervals+1 timestamps)
	MinIntervals int

	// MaxIntervals - most recent gaps considered
	MaxIntervals int

	// StddevFactor - gaps above mean + StddevFactor*stddev are outliers
	StddevFactor float64
}

// DefaultConfig returns the standard estimator settings.
func DefaultConfig() Config {
	return Config{
		MinIntervals: 1,
		MaxIntervals: 5,
		StddevFactor: 2,
	}
}

func (c Config) normalize() Config {
	if c.MinIntervals < 1 {
		c.MinIntervals = 1
	}
	if c.MaxIntervals < c.MinIntervals {
		c.MaxIntervals = c.MinIntervals
	}
	return c
}

// Analysis explains how an estimate was reached.
type Analysis struct {
	// Gaps in seconds, most recent first.
	Gaps []float64
	// Kept reports, per gap, whether it survived outlier filtering.
	Kept   []bool
	Mean   float64
	StdDev float64
	// Fallback is set when every gap was filtered and Period is the
	// unfiltered mean.
	Fallback bool
	Period   float64
}

// Analyze estimates the period and returns the intermediate values. It
// returns false when there are fewer than MinIntervals+1 timestamps.
func Analyze(timestamps []float64, cfg Config) (*Analysis, bool) {
	cfg = cfg.normalize()
	if len(timestamps) < cfg.MinIntervals+1 {
		return nil, false
	}

	recent := timestamps
	if len(recent) > cfg.MaxIntervals+1 {
		recent = recent[len(recent)-(cfg.MaxIntervals+1):]
	}

	n := len(recent) - 1
	gaps := make([]float64, n)
	for i := 0; i < n; i++ {
		newer := recent[len(recent)-1-i]
		older := recent[len(recent)-2-i]
		gaps[i] = math.Abs(newer - older)
	}

	mean, std := meanStdDev(gaps)
	limit := mean + cfg.StddevFactor*std

	a := &Analysis{
		Gaps:   gaps,
		Kept:   make([]bool, n),
		Mean:   mean,
		StdDev: std,
	}

	var sum, weights float64
	for i, gap := range gaps {
		if gap > limit {
			continue
		}
		a.Kept[i] = true
		w := 1 / float64((i+1)*(i+1))
		sum += w * gap
		weights += w
	}

	if weights == 0 {
		a.Fallback = true
		a.Period = mean
		return a, true
	}
	a.Period = sum / weights
	return a, true
}

// EstimatePeriod returns the estimated recurrence interval in seconds.
func EstimatePeriod(timestamps []float64, cfg Config) (float64, bool) {
	a, ok := Analyze(timestamps, cfg)
	if !ok {
		return 0, false
	}
	return a.Period, true
}

// meanStdDev returns the population mean and standard deviation.
func meanStdDev(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
