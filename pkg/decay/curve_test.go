package decay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hour = 3600.0

func TestToCurve_HourlyFixtures(t *testing.T) {
	timestamps := []float64{0, hour, 2 * hour}

	tests := []struct {
		name string
		opts Options
		want Curve
	}{
		{
			name: "anchored at the next due time",
			opts: Options{TargetInterval: hour, AnchorTime: 3 * hour},
			want: Curve{100, 100, 100, 100},
		},
		{
			name: "decrease immediately",
			opts: Options{TargetInterval: hour, AnchorTime: 3 * hour, DecreaseImmediately: true},
			want: Curve{0, 100, 100, 100},
		},
		{
			name: "half an hour overdue",
			opts: Options{TargetInterval: hour, AnchorTime: 3.5 * hour},
			want: Curve{50, 100, 100, 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToCurve(timestamps, 4*hour, 4, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToCurve_Empty(t *testing.T) {
	opts := Options{TargetInterval: hour, AnchorTime: 0}

	got, err := ToCurve(nil, 4*hour, 4, opts)
	require.NoError(t, err)
	assert.Nil(t, got)

	opts.IncludeEmpty = true
	got, err = ToCurve(nil, 4*hour, 4, opts)
	require.NoError(t, err)
	assert.Equal(t, Curve{0, 0, 0, 0}, got)
}

func TestToCurve_InvalidParameters(t *testing.T) {
	ts := []float64{0}
	_, err := ToCurve(ts, 0, 4, Options{TargetInterval: hour})
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = ToCurve(ts, hour, 0, Options{TargetInterval: hour})
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = ToCurve(ts, hour, 4, Options{})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestToCurve_FutureEventsIgnored(t *testing.T) {
	got, err := ToCurve([]float64{10 * hour}, 4*hour, 4, Options{TargetInterval: hour, AnchorTime: 0, IncludeEmpty: true})
	require.NoError(t, err)
	assert.Equal(t, Curve{0, 0, 0, 0}, got)
}

func TestToCurve_OldEventPaintsOldestSegment(t *testing.T) {
	// Due long ago; only the clamped oldest segment is reachable and it has
	// already decayed, so nothing is painted.
	got, err := ToCurve([]float64{0}, 4*hour, 4, Options{TargetInterval: hour, AnchorTime: 100 * hour})
	require.NoError(t, err)
	assert.Equal(t, Curve{0, 0, 0, 0}, got)

	// An event just beyond the window still lights the oldest segment
	got, err = ToCurve([]float64{0}, 4*hour, 4, Options{TargetInterval: 2 * hour, AnchorTime: 4.5 * hour})
	require.NoError(t, err)
	assert.Equal(t, float64(100), got[3])
}

func scenarios() [][]float64 {
	return [][]float64{
		{0},
		{5000},
		{0, 1000},
		{100, 7000, 13000},
		{-50000, 0, 9999, 14000},
	}
}

func TestToCurve_Bounds(t *testing.T) {
	for _, ts := range scenarios() {
		for _, segments := range []int{1, 3, 7, 24} {
			for _, target := range []float64{600, hour, 5 * hour} {
				for _, immed := range []bool{false, true} {
					got, err := ToCurve(ts, 4*hour, segments, Options{
						TargetInterval:      target,
						AnchorTime:          4 * hour,
						DecreaseImmediately: immed,
					})
					require.NoError(t, err)
					require.Len(t, got, segments)
					for _, v := range got {
						assert.GreaterOrEqual(t, v, 0.0)
						assert.LessOrEqual(t, v, 100.0)
						assert.Equal(t, float64(int(v)), v, "integral")
					}
				}
			}
		}
	}
}

func TestToCurve_SingleEventRampIsContiguousAndNonIncreasing(t *testing.T) {
	for _, ts := range []float64{0, 1800, 5000, 9000} {
		for _, target := range []float64{1800, hour, 3 * hour} {
			got, err := ToCurve([]float64{ts}, 12*hour, 24, Options{TargetInterval: target, AnchorTime: 12 * hour})
			require.NoError(t, err)

			// Walk from the oldest segment towards the newest: age increases
			// towards index 0, so values must not increase along that walk.
			start, end := -1, -1
			for i := len(got) - 1; i >= 0; i-- {
				if got[i] > 0 {
					if start == -1 {
						start = i
					}
					end = i
				}
			}
			if start == -1 {
				continue
			}
			for i := start; i >= end; i-- {
				assert.Greater(t, got[i], 0.0, "contiguous run for t=%v target=%v", ts, target)
				if i < start {
					assert.LessOrEqual(t, got[i], got[i+1], "non-increasing for t=%v target=%v", ts, target)
				}
			}
		}
	}
}

func TestToCurve_MaxCombination(t *testing.T) {
	opts := Options{TargetInterval: hour, AnchorTime: 6 * hour}
	pairs := [][2]float64{{0, hour}, {1800, 4 * hour}, {2 * hour, 2.5 * hour}}

	for _, p := range pairs {
		both, err := ToCurve([]float64{p[0], p[1]}, 6*hour, 12, opts)
		require.NoError(t, err)
		first, err := ToCurve([]float64{p[0]}, 6*hour, 12, opts)
		require.NoError(t, err)
		second, err := ToCurve([]float64{p[1]}, 6*hour, 12, opts)
		require.NoError(t, err)

		want, err := Max(first, second)
		require.NoError(t, err)
		for i := range both {
			assert.GreaterOrEqual(t, both[i], first[i])
			assert.GreaterOrEqual(t, both[i], second[i])
		}
		assert.Equal(t, want, both)
	}
}

func TestAverage(t *testing.T) {
	got, err := Average([]Curve{{100, 0, 0}, {0, 0, 100}})
	require.NoError(t, err)
	assert.Equal(t, Curve{50, 0, 50}, got)

	got, err = Average(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = Average([]Curve{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestCurveHelpers(t *testing.T) {
	c := Curve{10, 80, 30}
	assert.Equal(t, 80.0, c.Peak())
	assert.Equal(t, 0.0, Zero(3).Peak())

	cp := c.Clone()
	cp[0] = 99
	assert.Equal(t, 10.0, c[0])
	assert.Nil(t, Curve(nil).Clone())

	_, err := Max(Curve{1}, Curve{1, 2})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}
