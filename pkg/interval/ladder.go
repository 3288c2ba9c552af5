// Package interval classifies recurrence intervals against a fixed ladder of
// named bands (yearly down to every second) and steps between frequencies.
//
// All values are seconds. A zero or negative interval means "no answer":
// Describe returns "" and Increment/Decrement report false.
//
// Example:
//
//	interval.Describe(86400)     // "Daily"
//	interval.Describe(3 * 86400) // "2/wk"
//	interval.Describe(30)        // "2/min"
//	interval.Describe(0.2)       // "Rapid"
package interval

import (
	"fmt"
	"math"
)

// DefaultTolerance is the fraction either side of a band's duration that
// still counts as a match.
const DefaultTolerance = 0.1

// Nominal band durations in seconds.
const (
	Second = 1.0
	Minute = 60 * Second
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
	Month  = 30 * Day
	Year   = 365 * Day
)

// Band is one rung of the ladder.
type Band struct {
	Name      string  // canonical name, e.g. "Week"
	Friendly  string  // e.g. "Weekly"
	Abbrev    string  // e.g. "wk"
	Seconds   float64 // nominal duration
	Tolerance float64 // fraction, e.g. 0.1 for ±10%
}

func (b Band) lower() float64 { return b.Seconds * (1 - b.Tolerance) }
func (b Band) upper() float64 { return b.Seconds * (1 + b.Tolerance) }

// Ladder is an ordered set of bands, longest first.
type Ladder struct {
	bands []Band
}

// NewLadder builds a ladder from bands ordered longest first.
func NewLadder(bands []Band) (*Ladder, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("ladder needs at least one band")
	}
	for i, b := range bands {
		if b.Seconds <= 0 {
			return nil, fmt.Errorf("band %q: duration must be positive", b.Name)
		}
		if b.Tolerance < 0 || b.Tolerance >= 1 {
			return nil, fmt.Errorf("band %q: tolerance %v out of range [0,1)", b.Name, b.Tolerance)
		}
		if i > 0 && b.Seconds >= bands[i-1].Seconds {
			return nil, fmt.Errorf("band %q: bands must be strictly descending", b.Name)
		}
	}
	return &Ladder{bands: append([]Band(nil), bands...)}, nil
}

// DefaultBands returns the standard ladder, yearly to every second.
func DefaultBands() []Band {
	return []Band{
		{"Year", "Yearly", "yr", Year, DefaultTolerance},
		{"Month", "Monthly", "mo", Month, DefaultTolerance},
		{"Week", "Weekly", "wk", Week, DefaultTolerance},
		{"Day", "Daily", "day", Day, DefaultTolerance},
		{"Hour", "Hourly", "hr", Hour, DefaultTolerance},
		{"Minute", "Every minute", "min", Minute, DefaultTolerance},
		{"Second", "Every second", "sec", Second, DefaultTolerance},
	}
}

var defaultLadder = &Ladder{bands: DefaultBands()}

// Default returns the standard ladder.
func Default() *Ladder {
	return defaultLadder
}

// Bands returns a copy of the ladder's bands.
func (l *Ladder) Bands() []Band {
	return append([]Band(nil), l.bands...)
}

// Describe returns a human-readable label for a recurrence interval.
//
// Walking from the longest band:
//   - within a band's tolerance: the band's friendly name ("Daily")
//   - longer than the top band: "Every few Years"
//   - between bands: deferred to the next shorter band while still within
//     that band's upper tolerance, otherwise "N/abbrev" where N is how many
//     times per band ("3/wk")
//
// Anything shorter than the shortest band is "Rapid".
func (l *Ladder) Describe(seconds float64) string {
	if !(seconds > 0) {
		return ""
	}

	for i, b := range l.bands {
		if seconds >= b.lower() && seconds <= b.upper() {
			return b.Friendly
		}
		if seconds > b.upper() {
			return "Every few " + b.Name + "s"
		}
		if i+1 == len(l.bands) {
			break
		}
		if seconds <= l.bands[i+1].upper() {
			continue
		}
		return fmt.Sprintf("%d/%s", int64(math.Round(b.Seconds/seconds)), b.Abbrev)
	}
	return "Rapid"
}

// Increment moves one step toward higher frequency: the first band (below
// the top) not longer than seconds selects the band above it, and the result
// is the next harmonic of that band.
func (l *Ladder) Increment(seconds float64) (float64, bool) {
	i, ok := l.stepBand(seconds)
	if !ok {
		return 0, false
	}
	prev := l.bands[i-1]
	return prev.Seconds / (math.Round(prev.Seconds/seconds) + 1), true
}

// Decrement moves one step toward lower frequency using the same band
// selection as Increment. It is not an exact inverse of Increment.
func (l *Ladder) Decrement(seconds float64) (float64, bool) {
	i, ok := l.stepBand(seconds)
	if !ok {
		return 0, false
	}
	b := l.bands[i]
	return b.Seconds * (math.Round(seconds/b.Seconds) + 1), true
}

func (l *Ladder) stepBand(seconds float64) (int, bool) {
	if !(seconds > 0) {
		return 0, false
	}
	for i := 1; i < len(l.bands); i++ {
		if l.bands[i].Seconds <= seconds {
			return i, true
		}
	}
	return 0, false
}

// Describe labels seconds using the default ladder.
func Describe(seconds float64) string {
	return defaultLadder.Describe(seconds)
}

// Increment steps seconds toward higher frequency on the default ladder.
func Increment(seconds float64) (float64, bool) {
	return defaultLadder.Increment(seconds)
}

// Decrement steps seconds toward lower frequency on the default ladder.
func Decrement(seconds float64) (float64, bool) {
	return defaultLadder.Decrement(seconds)
}
